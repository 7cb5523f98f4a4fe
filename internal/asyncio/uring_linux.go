//go:build linux

package asyncio

import (
	"context"
	"fmt"
	"iter"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/hupe1980/vecstore/internal/mmap"
	"github.com/hupe1980/vecstore/operr"
)

const (
	opRead = 22 // IORING_OP_READ

	enterGetEvents = 1 // IORING_ENTER_GETEVENTS

	offSQRing = 0
	offCQRing = 0x8000000
	offSQEs   = 0x10000000

	sqeSize = 64
	cqeSize = 16
)

type sqRingOffsets struct {
	head        uint32
	tail        uint32
	ringMask    uint32
	ringEntries uint32
	flags       uint32
	dropped     uint32
	array       uint32
	resv1       uint32
	userAddr    uint64
}

type cqRingOffsets struct {
	head        uint32
	tail        uint32
	ringMask    uint32
	ringEntries uint32
	overflow    uint32
	cqes        uint32
	flags       uint32
	resv1       uint32
	userAddr    uint64
}

type uringParams struct {
	sqEntries    uint32
	cqEntries    uint32
	flags        uint32
	sqThreadCPU  uint32
	sqThreadIdle uint32
	features     uint32
	wqFD         uint32
	resv         [3]uint32
	sqOff        sqRingOffsets
	cqOff        cqRingOffsets
}

type uringSQE struct {
	opcode      uint8
	flags       uint8
	ioprio      uint16
	fd          int32
	off         uint64
	addr        uint64
	len         uint32
	rwFlags     uint32
	userData    uint64
	bufIndex    uint16
	personality uint16
	spliceFDIn  int32
	_           [2]uint64
}

type uringCQE struct {
	userData uint64
	res      int32
	flags    uint32
}

// pending describes the record a buffer is currently being filled with.
type pending struct {
	index  int
	offset uint32
}

type uringReader struct {
	mu sync.Mutex

	f      *os.File
	fileFD int32
	fd     int
	layout

	sqRing []byte
	cqRing []byte
	sqeMem []byte

	sqHead, sqTail *uint32
	sqMask         uint32
	sqArray        []uint32
	sqes           []uringSQE

	cqHead, cqTail *uint32
	cqMask         uint32
	cqes           []uringCQE

	buffers  *mmap.Mapping
	free     []int
	inflight []pending
	queued   uint32
}

func newURing(f *os.File, l layout, o options) (_ Reader, err error) {
	var p uringParams
	fd, _, errno := unix.Syscall(unix.SYS_IO_URING_SETUP, uintptr(o.parallelism), uintptr(unsafe.Pointer(&p)), 0)
	if errno != 0 {
		return nil, fmt.Errorf("io_uring_setup: %w", errno)
	}

	r := &uringReader{f: f, fileFD: int32(f.Fd()), fd: int(fd), layout: l}
	defer func() {
		if err != nil {
			_ = r.Close()
		}
	}()

	prot := unix.PROT_READ | unix.PROT_WRITE
	flags := unix.MAP_SHARED | unix.MAP_POPULATE

	sqSize := int(p.sqOff.array + p.sqEntries*4)
	if r.sqRing, err = unix.Mmap(r.fd, offSQRing, sqSize, prot, flags); err != nil {
		return nil, fmt.Errorf("mmap sq ring: %w", err)
	}
	cqSize := int(p.cqOff.cqes + p.cqEntries*cqeSize)
	if r.cqRing, err = unix.Mmap(r.fd, offCQRing, cqSize, prot, flags); err != nil {
		return nil, fmt.Errorf("mmap cq ring: %w", err)
	}
	if r.sqeMem, err = unix.Mmap(r.fd, offSQEs, int(p.sqEntries*sqeSize), prot, flags); err != nil {
		return nil, fmt.Errorf("mmap sqes: %w", err)
	}

	r.sqHead = (*uint32)(unsafe.Pointer(&r.sqRing[p.sqOff.head]))
	r.sqTail = (*uint32)(unsafe.Pointer(&r.sqRing[p.sqOff.tail]))
	r.sqMask = *(*uint32)(unsafe.Pointer(&r.sqRing[p.sqOff.ringMask]))
	r.sqArray = unsafe.Slice((*uint32)(unsafe.Pointer(&r.sqRing[p.sqOff.array])), p.sqEntries)
	r.sqes = unsafe.Slice((*uringSQE)(unsafe.Pointer(&r.sqeMem[0])), p.sqEntries)

	r.cqHead = (*uint32)(unsafe.Pointer(&r.cqRing[p.cqOff.head]))
	r.cqTail = (*uint32)(unsafe.Pointer(&r.cqRing[p.cqOff.tail]))
	r.cqMask = *(*uint32)(unsafe.Pointer(&r.cqRing[p.cqOff.ringMask]))
	r.cqes = unsafe.Slice((*uringCQE)(unsafe.Pointer(&r.cqRing[p.cqOff.cqes])), p.cqEntries)

	// Never more buffers than submission slots.
	n := min(o.parallelism, int(p.sqEntries))
	if r.buffers, err = mmap.MapAnon(n * l.rawSize); err != nil {
		return nil, fmt.Errorf("allocate read buffers: %w", err)
	}
	r.free = make([]int, 0, n)
	for i := n - 1; i >= 0; i-- {
		r.free = append(r.free, i)
	}
	r.inflight = make([]pending, n)

	return r, nil
}

func (r *uringReader) buffer(id int) []byte {
	start := id * r.rawSize
	return r.buffers.Bytes()[start : start+r.rawSize]
}

func (r *uringReader) ReadStream(ctx context.Context, offsets iter.Seq[uint32], fn Callback) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer runtime.KeepAlive(r.f)

	var firstErr error
	capacity := len(r.inflight)

	index := 0
	for offset := range offsets {
		if err := operr.CheckStopped(ctx); err != nil {
			firstErr = err
			break
		}
		if len(r.free) == 0 {
			if err := r.submitAndWait(1); err != nil {
				firstErr = err
				break
			}
			if err := r.reap(fn); err != nil {
				firstErr = err
				break
			}
		}
		r.queue(index, offset)
		index++
	}

	// Buffers are reused across calls, so every read the kernel may still
	// write into is drained before returning.
	for len(r.free) < capacity {
		if err := r.submitAndWait(1); err != nil {
			// The ring is unusable; nothing more will complete.
			return firstOf(firstErr, err)
		}
		if err := r.reap(deliverUnless(firstErr, fn)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// deliverUnless suppresses callbacks once the batch has failed.
func deliverUnless(failed error, fn Callback) Callback {
	if failed != nil {
		return nil
	}
	return fn
}

func firstOf(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *uringReader) queue(index int, offset uint32) {
	id := r.free[len(r.free)-1]
	r.free = r.free[:len(r.free)-1]
	r.inflight[id] = pending{index: index, offset: offset}

	buf := r.buffer(id)
	tail := *r.sqTail
	slot := tail & r.sqMask
	r.sqes[slot] = uringSQE{
		opcode:   opRead,
		fd:       r.fileFD,
		off:      uint64(r.position(offset)),
		addr:     uint64(uintptr(unsafe.Pointer(&buf[0]))),
		len:      uint32(r.rawSize),
		userData: uint64(id),
	}
	r.sqArray[slot] = slot
	atomic.StoreUint32(r.sqTail, tail+1)
	r.queued++
}

func (r *uringReader) submitAndWait(minComplete uint32) error {
	for {
		_, _, errno := unix.Syscall6(unix.SYS_IO_URING_ENTER,
			uintptr(r.fd), uintptr(r.queued), uintptr(minComplete), enterGetEvents, 0, 0)
		if errno == unix.EINTR {
			continue
		}
		if errno != 0 {
			return operr.WrapService(errno, "io_uring_enter failed")
		}
		r.queued = 0
		return nil
	}
}

// reap consumes every available completion. fn may be nil to discard data.
func (r *uringReader) reap(fn Callback) error {
	var firstErr error

	head := atomic.LoadUint32(r.cqHead)
	tail := atomic.LoadUint32(r.cqTail)
	for ; head != tail; head++ {
		cqe := r.cqes[head&r.cqMask]
		id := int(cqe.userData)
		p := r.inflight[id]

		switch {
		case cqe.res < 0:
			if firstErr == nil {
				firstErr = operr.WrapService(unix.Errno(-cqe.res), fmt.Sprintf("async read of offset %d failed", p.offset))
			}
		case int(cqe.res) != r.rawSize:
			if firstErr == nil {
				firstErr = operr.Servicef("short read at offset %d: %d of %d bytes", p.offset, cqe.res, r.rawSize)
			}
		case fn != nil && firstErr == nil:
			fn(p.index, p.offset, asFloat32s(r.buffer(id)))
		}
		r.free = append(r.free, id)
	}
	atomic.StoreUint32(r.cqHead, head)
	return firstErr
}

func (r *uringReader) Close() error {
	var firstErr error
	for _, region := range [][]byte{r.sqeMem, r.cqRing, r.sqRing} {
		if region != nil {
			if err := unix.Munmap(region); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	r.sqeMem, r.cqRing, r.sqRing = nil, nil, nil
	if r.buffers != nil {
		if err := r.buffers.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.fd > 0 {
		if err := unix.Close(r.fd); err != nil && firstErr == nil {
			firstErr = err
		}
		r.fd = -1
	}
	return firstErr
}
