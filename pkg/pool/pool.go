// Package pool provides a shared bytes.Buffer pool for the cache's
// compression and decompression paths, reducing GC pressure when results
// churn through the cold tier.
//
// Usage:
//
//	buf := pool.GetBuffer()
//	defer pool.PutBuffer(buf)
package pool

import (
	"bytes"
	"sync"
)

// maxBufferBytes caps the capacity of buffers returned to the pool.
// Anything larger is left for the GC so one huge result cannot pin
// memory for the life of the process.
const maxBufferBytes = 1 << 20

var bufferPool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

// GetBuffer returns a reset bytes.Buffer from the pool.
// Call PutBuffer when done.
func GetBuffer() *bytes.Buffer {
	b := bufferPool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

// PutBuffer returns a buffer to the pool.
func PutBuffer(b *bytes.Buffer) {
	if b == nil || b.Cap() > maxBufferBytes {
		return
	}
	bufferPool.Put(b)
}
