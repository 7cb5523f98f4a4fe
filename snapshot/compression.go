package snapshot

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the stream compression of an archive.
type Compression string

const (
	None   Compression = "none"
	Zstd   Compression = "zstd"
	LZ4    Compression = "lz4"
	Snappy Compression = "snappy"
)

// ParseCompression parses a compression name. The empty string means Zstd.
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(s); c {
	case "":
		return Zstd, nil
	case None, Zstd, LZ4, Snappy:
		return c, nil
	default:
		return "", fmt.Errorf("snapshot: unknown compression %q", s)
	}
}

var (
	zstdMagic   = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic    = []byte{0x04, 0x22, 0x4d, 0x18}
	snappyMagic = []byte("\xff\x06\x00\x00sNaPpY")
)

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func newCompressor(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case None:
		return nopWriteCloser{w}, nil
	case Zstd, "":
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	case LZ4:
		return lz4.NewWriter(w), nil
	case Snappy:
		return snappy.NewBufferedWriter(w), nil
	default:
		return nil, fmt.Errorf("snapshot: unknown compression %q", c)
	}
}

// newDecompressor sniffs the stream magic and returns the matching reader.
func newDecompressor(r io.Reader) (io.Reader, func(), Compression, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(snappyMagic))
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, nil, "", err
	}

	switch {
	case bytes.HasPrefix(head, zstdMagic):
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, nil, "", fmt.Errorf("zstd decoder: %w", err)
		}
		return dec, dec.Close, Zstd, nil
	case bytes.HasPrefix(head, lz4Magic):
		return lz4.NewReader(br), func() {}, LZ4, nil
	case bytes.HasPrefix(head, snappyMagic):
		return snappy.NewReader(br), func() {}, Snappy, nil
	default:
		return br, func() {}, None, nil
	}
}
