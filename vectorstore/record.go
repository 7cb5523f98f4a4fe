package vectorstore

import (
	"encoding/binary"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// StoredRecord is the persisted form of one vector in a Dense store.
type StoredRecord struct {
	Deleted bool      `msgpack:"deleted"`
	Vector  []float32 `msgpack:"vector"`
}

// EncodeKey returns the column key of offset. Keys are big-endian so that
// key order equals offset order.
func EncodeKey(offset uint32) []byte {
	return binary.BigEndian.AppendUint32(make([]byte, 0, 4), offset)
}

// DecodeKey parses a column key written by EncodeKey.
func DecodeKey(key []byte) (uint32, error) {
	if len(key) != 4 {
		return 0, fmt.Errorf("invalid vector key length %d", len(key))
	}
	return binary.BigEndian.Uint32(key), nil
}

// MarshalRecord encodes r.
func MarshalRecord(r StoredRecord) ([]byte, error) {
	return msgpack.Marshal(&r)
}

// UnmarshalRecord decodes a record written by MarshalRecord.
func UnmarshalRecord(data []byte) (StoredRecord, error) {
	var r StoredRecord
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return StoredRecord{}, err
	}
	return r, nil
}
