package core

import (
	"bytes"
	"sync"
)

// DefaultChunkBufferSize is a reasonable pre-allocated capacity for buffers
// used while encoding or compressing chunk blobs.
const DefaultChunkBufferSize = 8 * 1024

// BufferPool is the process-wide pool of scratch buffers shared by the
// codec and chunk-sealing paths, avoiding a fresh allocation on every
// publish.
var BufferPool = newBufferPool(DefaultChunkBufferSize)

type bufferPool struct {
	pool sync.Pool
}

func newBufferPool(initialCapacity int) *bufferPool {
	return &bufferPool{
		pool: sync.Pool{
			New: func() any {
				return bytes.NewBuffer(make([]byte, 0, initialCapacity))
			},
		},
	}
}

func (p *bufferPool) Get() *bytes.Buffer {
	return p.pool.Get().(*bytes.Buffer)
}

func (p *bufferPool) Put(buf *bytes.Buffer) {
	buf.Reset()
	p.pool.Put(buf)
}
