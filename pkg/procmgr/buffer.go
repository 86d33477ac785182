package procmgr

import (
	"sync"
	"unicode/utf8"
)

// TailBuffer is an io.Writer that keeps the last limit bytes written to it.
// A limit <= 0 keeps everything.
type TailBuffer struct {
	mu      sync.Mutex
	buf     []byte
	limit   int
	dropped int64
}

func NewTailBuffer(limit int) *TailBuffer {
	return &TailBuffer{limit: limit}
}

func (b *TailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	if b.limit <= 0 {
		b.buf = append(b.buf, p...)
		return n, nil
	}

	if n >= b.limit {
		b.dropped += int64(len(b.buf) + n - b.limit)
		b.buf = append(b.buf[:0], p[n-b.limit:]...)
		b.alignStart()
		return n, nil
	}

	if over := len(b.buf) + n - b.limit; over > 0 {
		b.dropped += int64(over)
		b.buf = append(b.buf[:0], b.buf[over:]...)
		b.buf = append(b.buf, p...)
		b.alignStart()
		return n, nil
	}
	b.buf = append(b.buf, p...)
	return n, nil
}

// alignStart drops continuation bytes left at the front by a trim so the
// tail never starts in the middle of a UTF-8 sequence.
func (b *TailBuffer) alignStart() {
	skip := 0
	for skip < len(b.buf) && skip < utf8.UTFMax-1 && !utf8.RuneStart(b.buf[skip]) {
		skip++
	}
	if skip > 0 {
		b.dropped += int64(skip)
		b.buf = append(b.buf[:0], b.buf[skip:]...)
	}
}

func (b *TailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

// Dropped returns how many bytes were discarded to stay within the limit.
func (b *TailBuffer) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
