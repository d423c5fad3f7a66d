package repository

import (
	"sync"
)

const maxCopyBuffer = 1 << 20

var bufPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, maxCopyBuffer)
		return &buf
	},
}

// getBuf returns a buffer of maxCopyBuffer bytes.
func getBuf() *[]byte {
	return bufPool.Get().(*[]byte)
}

func freeBuf(buf *[]byte) {
	bufPool.Put(buf)
}
