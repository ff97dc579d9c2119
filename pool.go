package kvsession

import (
	"bytes"
	"sync"
)

// Encoding buffers and id scratch space are pooled. Both are wiped before
// they go back, so session payloads and raw entropy do not linger in pooled
// memory.
var (
	encodeBufPool = sync.Pool{
		New: func() any { return new(bytes.Buffer) },
	}
	idScratchPool = sync.Pool{
		New: func() any {
			// Room for a default id: 16 entropy bytes plus 32 hex characters.
			b := make([]byte, 16+DefaultIDLength)
			return &b
		},
	}
)

// getBuffer returns an empty buffer from the pool.
func getBuffer() *bytes.Buffer {
	buf := encodeBufPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer zeroes the written bytes and returns buf to the pool. buf must not
// be used afterwards.
func PutBuffer(buf *bytes.Buffer) {
	clear(buf.Bytes())
	buf.Reset()
	encodeBufPool.Put(buf)
}

// getIDBuffer returns a pooled scratch slice of exactly n bytes.
func getIDBuffer(n int) *[]byte {
	ptr := idScratchPool.Get().(*[]byte)
	if cap(*ptr) < n {
		b := make([]byte, n)
		ptr = &b
	}
	*ptr = (*ptr)[:n]
	return ptr
}

func putIDBuffer(ptr *[]byte) {
	clear(*ptr)
	idScratchPool.Put(ptr)
}
