// Package buffer pools the byte buffers that socket data is received into.
package buffer

import "sync"

// DefaultSize is the granularity of buffer capacities.
const DefaultSize = 4096

type Buffer struct{ Data []byte }

func (buf *Buffer) Size() int {
	return len(buf.Data)
}

// Pool recycles buffers. The zero value is ready to use.
type Pool struct{ pool sync.Pool }

// Get returns a buffer of length size, reusing a released buffer when its
// capacity is large enough.
func (p *Pool) Get(size int) *Buffer {
	b, _ := p.pool.Get().(*Buffer)
	if b != nil {
		if size <= cap(b.Data) {
			b.Data = b.Data[:size]
			return b
		}
		p.Put(b)
	}
	return New(size)
}

func (p *Pool) Put(b *Buffer) {
	if b != nil {
		p.pool.Put(b)
	}
}

// New allocates a buffer of length size with a capacity rounded up to a
// multiple of DefaultSize.
func New(size int) *Buffer {
	return &Buffer{Data: make([]byte, size, Align(size, DefaultSize))}
}

// Release returns *buf to pool and clears the reference.
func Release(buf **Buffer, pool *Pool) {
	if b := *buf; b != nil {
		*buf = nil
		pool.Put(b)
	}
}

func Align(size, to int) int {
	return ((size + (to - 1)) / to) * to
}
