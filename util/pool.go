package util

import "sync"

// bufPool holds the copy buffers borrowed by relay and echo loops for
// the lifetime of one virtual socket.
var bufPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, DefaultBufSize)
		return &buf
	},
}

// GetBuf borrows a DefaultBufSize buffer.  Return it with [PutBuf].
func GetBuf() *[]byte {
	return bufPool.Get().(*[]byte)
}

// PutBuf hands buf back for reuse.  Buffers whose capacity shrank below
// DefaultBufSize are dropped; the rest are restored to full length.
func PutBuf(buf *[]byte) {
	if buf == nil || cap(*buf) < DefaultBufSize {
		return
	}
	*buf = (*buf)[:DefaultBufSize]
	bufPool.Put(buf)
}
