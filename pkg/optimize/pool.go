package optimize

import (
	"sync"
)

// BytePool hands out fixed-size byte slices. The media plane uses it for RTP
// marshal buffers on the forwarding hot path, where a fresh allocation per
// packet would dominate the profile.
type BytePool struct {
	pool sync.Pool
	size int
}

// NewBytePool creates a pool of slices of the given size.
func NewBytePool(size int) *BytePool {
	return &BytePool{
		size: size,
		pool: sync.Pool{
			New: func() interface{} {
				return make([]byte, size)
			},
		},
	}
}

func (p *BytePool) Get() []byte {
	return p.pool.Get().([]byte)
}

// Put returns a slice to the pool. Slices that shrank below the pool size
// are dropped.
func (p *BytePool) Put(b []byte) {
	if cap(b) >= p.size {
		p.pool.Put(b[:p.size])
	}
}

// Size reports the length of slices the pool hands out.
func (p *BytePool) Size() int {
	return p.size
}
