package vswitch

import "sync"

// frameBufferPool hands out receive buffers large enough for one frame.
var frameBufferPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, MaxFrameSize)
		return &buf
	},
}

func getFrameBuffer() []byte {
	return *frameBufferPool.Get().(*[]byte)
}

func putFrameBuffer(buf []byte) {
	if cap(buf) >= MaxFrameSize {
		buf = buf[:MaxFrameSize]
		frameBufferPool.Put(&buf)
	}
}
