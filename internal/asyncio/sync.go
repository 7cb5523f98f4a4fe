package asyncio

import (
	"context"
	"errors"
	"io"
	"iter"
	"os"
	"unsafe"

	"github.com/hupe1980/vecstore/operr"
)

type syncReader struct {
	f *os.File
	layout
}

func (r *syncReader) ReadStream(ctx context.Context, offsets iter.Seq[uint32], fn Callback) error {
	buf := make([]float32, r.rawSize/4)
	raw := unsafe.Slice((*byte)(unsafe.Pointer(&buf[0])), r.rawSize)

	index := 0
	for offset := range offsets {
		if err := operr.CheckStopped(ctx); err != nil {
			return err
		}
		n, err := r.f.ReadAt(raw, r.position(offset))
		if n != r.rawSize {
			if err == nil || errors.Is(err, io.EOF) {
				return operr.Servicef("short read at offset %d: %d of %d bytes", offset, n, r.rawSize)
			}
			return operr.WrapService(err, "failed to read vector")
		}
		fn(index, offset, buf)
		index++
	}
	return nil
}

func (r *syncReader) Close() error { return nil }
