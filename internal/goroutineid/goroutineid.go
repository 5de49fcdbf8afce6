// Package goroutineid extracts the current goroutine's numeric ID from
// runtime.Stack output. Both dispatch loops in this codebase use it to detect
// "am I already on the loop goroutine" before deciding between direct
// execution and posting, which is what prevents self-deadlock on the
// synchronous submission paths.
package goroutineid

import (
	"runtime"
	"sync"
)

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 128)
		return &b
	},
}

// Get returns the current goroutine ID, or 0 if the stack header cannot be
// parsed. Callers must treat 0 as "unknown" and fall back to posting.
func Get() int64 {
	bp := bufPool.Get().(*[]byte)
	defer bufPool.Put(bp)
	buf := *bp
	n := runtime.Stack(buf, false)
	return parseHeader(buf[:n])
}

// parseHeader reads the leading "goroutine N [state]:" line. The parse stays
// allocation-free; this sits on the hot path of every synchronous post.
func parseHeader(stack []byte) int64 {
	const prefix = "goroutine "
	if len(stack) < len(prefix) {
		return 0
	}
	for i := 0; i < len(prefix); i++ {
		if stack[i] != prefix[i] {
			return 0
		}
	}
	var id int64
	for _, b := range stack[len(prefix):] {
		if b < '0' || b > '9' {
			return id
		}
		id = id*10 + int64(b-'0')
	}
	return id
}
