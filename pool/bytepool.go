// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package pool provides reusable fixed-size byte buffers for read
// contexts and similar per-connection scratch storage.
package pool

import "sync"

// BytePool hands out fixed-size byte slices backed by a sync.Pool.
type BytePool struct {
	size int
	pool sync.Pool
}

// NewBytePool creates a pool of buffers of the given size.
func NewBytePool(size int) *BytePool {
	b := &BytePool{size: size}
	b.pool.New = func() any {
		return make([]byte, size)
	}
	return b
}

// Size returns the length of buffers handed out by the pool.
func (b *BytePool) Size() int { return b.size }

// Get returns a buffer from the pool.
func (b *BytePool) Get() []byte {
	return b.pool.Get().([]byte)
}

// Put returns a buffer to the pool. Buffers of a different size are
// dropped for the GC to collect.
func (b *BytePool) Put(buf []byte) {
	if len(buf) != b.size {
		return
	}
	b.pool.Put(buf)
}
