package arena

import (
	"fmt"
	"iter"

	"github.com/hupe1980/vecstore/internal/resource"
	"github.com/hupe1980/vecstore/operr"
)

const (
	// DefaultChunkBytes is the target byte size of one chunk (32 MiB).
	DefaultChunkBytes = 32 * 1024 * 1024
	// MinChunkCapacity is the minimum number of vectors per chunk.
	MinChunkCapacity = 16

	float32Size = 4
)

// MemoryAcquirer reserves memory before the arena grows.
// *resource.Controller implements it.
type MemoryAcquirer interface {
	AcquireMemory(bytes int64) error
	ReleaseMemory(bytes int64)
	AvailableMemory() uint64
}

// Stats reports arena memory usage.
type Stats struct {
	Chunks        int   // materialized chunks
	ReservedBytes int64 // capacity reserved from the acquirer
	UsedBytes     int64 // bytes covered by Len()
}

// Option configures a Chunked arena.
type Option func(*options)

type options struct {
	acquirer   MemoryAcquirer
	chunkBytes int
}

// WithMemoryAcquirer sets the budget every capacity growth is reserved from.
func WithMemoryAcquirer(a MemoryAcquirer) Option {
	return func(o *options) {
		o.acquirer = a
	}
}

// WithChunkBytes overrides the target chunk size. Mostly useful in tests.
func WithChunkBytes(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.chunkBytes = n
		}
	}
}

// Chunked stores vectors in fixed-capacity chunks.
type Chunked struct {
	dim      int
	chunkCap int
	chunks   [][]float32 // nil entries are chunks no write has touched yet
	length   int
	reserved int64
	acquirer MemoryAcquirer
	zero     []float32
}

// New creates an empty arena for vectors of the given dimension.
func New(dim int, opts ...Option) *Chunked {
	if dim <= 0 {
		panic(fmt.Sprintf("arena: invalid dimension %d", dim))
	}

	o := options{chunkBytes: DefaultChunkBytes}
	for _, opt := range opts {
		opt(&o)
	}

	return &Chunked{
		dim:      dim,
		chunkCap: max(o.chunkBytes/(float32Size*dim), MinChunkCapacity),
		acquirer: o.acquirer,
		zero:     make([]float32, dim),
	}
}

// Len returns the highest written offset + 1.
func (c *Chunked) Len() int { return c.length }

// Dim returns the vector dimension.
func (c *Chunked) Dim() int { return c.dim }

// ChunkCapacity returns the number of vectors per chunk.
func (c *Chunked) ChunkCapacity() int { return c.chunkCap }

// Get returns the vector at offset. The slice aliases arena memory and must
// not be modified or retained past the next write.
// Get panics if offset >= Len().
func (c *Chunked) Get(offset uint32) []float32 {
	if int(offset) >= c.length {
		panic(fmt.Sprintf("arena: offset %d out of range [0,%d)", offset, c.length))
	}
	chunkIdx, start := c.locate(offset)
	if chunkIdx >= len(c.chunks) {
		return c.zero
	}
	chunk := c.chunks[chunkIdx]
	if start+c.dim > len(chunk) {
		// Gap below the highest offset that no write has reached.
		return c.zero
	}
	return chunk[start : start+c.dim]
}

// Insert writes vector at offset, growing Len() to offset+1 if needed.
// On error the arena is left unchanged.
func (c *Chunked) Insert(offset uint32, vector []float32) error {
	if err := operr.CheckDimension(c.dim, len(vector)); err != nil {
		return err
	}

	chunkIdx, start := c.locate(offset)
	if err := c.ensure(chunkIdx, start+c.dim); err != nil {
		return err
	}

	copy(c.chunks[chunkIdx][start:start+c.dim], vector)
	c.length = max(c.length, int(offset)+1)
	return nil
}

// Push appends vector at Len() and returns its offset.
func (c *Chunked) Push(vector []float32) (uint32, error) {
	if uint64(c.length) > uint64(^uint32(0)) {
		return 0, operr.Validation("point offset space exhausted at %d vectors", c.length)
	}
	offset := uint32(c.length)
	if err := c.Insert(offset, vector); err != nil {
		return 0, err
	}
	return offset, nil
}

// All iterates every offset in [0, Len()) in order. Yielded slices alias
// arena memory.
func (c *Chunked) All() iter.Seq2[uint32, []float32] {
	return func(yield func(uint32, []float32) bool) {
		for i := 0; i < c.length; i++ {
			if !yield(uint32(i), c.Get(uint32(i))) {
				return
			}
		}
	}
}

// Truncate shrinks Len() to n and zeroes the dropped vectors. Reserved
// capacity is kept. Growing via Truncate is a no-op.
func (c *Chunked) Truncate(n int) {
	if n < 0 || n >= c.length {
		return
	}
	for i := n; i < c.length; i++ {
		chunkIdx, start := c.locate(uint32(i))
		if chunkIdx < len(c.chunks) && start+c.dim <= len(c.chunks[chunkIdx]) {
			clear(c.chunks[chunkIdx][start : start+c.dim])
		}
	}
	c.length = n
}

// Stats returns current memory usage.
func (c *Chunked) Stats() Stats {
	s := Stats{
		ReservedBytes: c.reserved,
		UsedBytes:     int64(c.length) * int64(c.dim) * float32Size,
	}
	for _, chunk := range c.chunks {
		if chunk != nil {
			s.Chunks++
		}
	}
	return s
}

// Release drops all chunks and returns every reserved byte to the acquirer.
func (c *Chunked) Release() {
	if c.acquirer != nil && c.reserved > 0 {
		c.acquirer.ReleaseMemory(c.reserved)
	}
	c.chunks = nil
	c.reserved = 0
	c.length = 0
}

func (c *Chunked) locate(offset uint32) (chunkIdx, start int) {
	o := int(offset)
	return o / c.chunkCap, (o % c.chunkCap) * c.dim
}

// ensure makes chunks[chunkIdx] at least need elements long.
func (c *Chunked) ensure(chunkIdx, need int) error {
	var current []float32
	if chunkIdx < len(c.chunks) {
		current = c.chunks[chunkIdx]
	}
	if len(current) >= need {
		return nil
	}

	full := c.chunkCap * c.dim
	newLen := full
	if chunkIdx == 0 {
		newLen = min(max(2*len(current), need), full)
	}

	delta := int64(newLen-len(current)) * float32Size
	if err := c.reserve(delta); err != nil {
		return err
	}

	grown := make([]float32, newLen)
	copy(grown, current)

	if chunkIdx >= len(c.chunks) {
		c.chunks = append(c.chunks, make([][]float32, chunkIdx+1-len(c.chunks))...)
	}
	c.chunks[chunkIdx] = grown
	c.reserved += delta
	return nil
}

func (c *Chunked) reserve(bytes int64) error {
	if c.acquirer == nil {
		return nil
	}
	if err := c.acquirer.AcquireMemory(bytes); err != nil {
		return operr.OutOfMemory(
			fmt.Sprintf("failed to reserve %d bytes for vector chunk", bytes),
			c.acquirer.AvailableMemory(),
			err,
		)
	}
	return nil
}

var _ MemoryAcquirer = (*resource.Controller)(nil)
