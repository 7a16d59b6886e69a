package engine

import (
	"context"
	"strings"
	"sync"
	"unicode/utf8"
)

// chunkWriter collects process stdout and forwards it incrementally. A
// multi-byte rune split across reads is held back until it is complete.
// Nothing is forwarded once ctx is done.
type chunkWriter struct {
	ctx     context.Context
	emit    func(string)
	mu      sync.Mutex
	all     strings.Builder
	pending []byte
}

func newChunkWriter(ctx context.Context, emit func(string)) *chunkWriter {
	return &chunkWriter{ctx: ctx, emit: emit}
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.all.Write(p)
	if w.emit == nil {
		return len(p), nil
	}
	data := append(w.pending, p...)
	cut := completeRunes(data)
	w.pending = append([]byte(nil), data[cut:]...)
	if cut > 0 && w.ctx.Err() == nil {
		w.emit(string(data[:cut]))
	}
	return len(p), nil
}

// flush forwards any held-back bytes.
func (w *chunkWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.emit == nil || len(w.pending) == 0 {
		return
	}
	pending := w.pending
	w.pending = nil
	if w.ctx.Err() == nil {
		w.emit(string(pending))
	}
}

func (w *chunkWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.all.String()
}

// completeRunes returns the length of the longest prefix of data that does
// not end inside a multi-byte rune.
func completeRunes(data []byte) int {
	n := len(data)
	for i := n - 1; i >= 0 && i >= n-utf8.UTFMax; i-- {
		if !utf8.RuneStart(data[i]) {
			continue
		}
		if utf8.FullRune(data[i:]) {
			return n
		}
		return i
	}
	return n
}

// limitedBuffer keeps the first max bytes written to it.
type limitedBuffer struct {
	mu  sync.Mutex
	max int
	buf strings.Builder
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
