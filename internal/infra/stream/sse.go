package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"cliproxy/internal/domain"
)

// DoneMarker terminates every event stream.
const DoneMarker = "[DONE]"

// ErrNotSupported is returned when the response writer cannot flush.
var ErrNotSupported = errors.New("streaming not supported")

// Writer frames server-sent events. Writes after the end marker, or after
// the request context is done, are dropped.
type Writer struct {
	mu      sync.Mutex
	ctx     context.Context
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
	ended   bool
}

// NewWriter binds an SSE writer to one response. ctx is the request
// context; it marks the caller as gone once done.
func NewWriter(ctx context.Context, w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrNotSupported
	}
	return &Writer{ctx: ctx, w: w, flusher: flusher}, nil
}

// Start sends the event-stream headers. It is called implicitly by the
// first event.
func (s *Writer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked()
}

func (s *Writer) startLocked() {
	if s.started {
		return
	}
	s.started = true
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.flusher.Flush()
}

// Chunk emits one output fragment.
func (s *Writer) Chunk(text string) bool {
	return s.event(map[string]string{"chunk": text})
}

// Error emits one error event. The stream stays open for Done.
func (s *Writer) Error(message string) bool {
	return s.event(map[string]string{"error": message})
}

// Done writes the end marker once.
func (s *Writer) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.writableLocked() {
		return false
	}
	s.startLocked()
	s.ended = true
	return s.writeLocked(DoneMarker)
}

// Ended reports whether the end marker was written.
func (s *Writer) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *Writer) event(payload map[string]string) bool {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.writableLocked() {
		return false
	}
	s.startLocked()
	return s.writeLocked(strings.TrimSuffix(buf.String(), "\n"))
}

func (s *Writer) writableLocked() bool {
	return !s.ended && s.ctx.Err() == nil
}

func (s *Writer) writeLocked(data string) bool {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		// A failed write means the peer is gone.
		s.ended = true
		return false
	}
	s.flusher.Flush()
	return true
}

// Relay copies engine events to w until the channel closes. A terminal
// error is followed by the end marker so every live stream reaches a
// defined end state. It returns the error carried by the stream, if any.
func Relay(events <-chan domain.StreamEvent, w *Writer) error {
	var streamErr error
	for event := range events {
		switch event.Kind {
		case domain.StreamEventChunk:
			w.Chunk(event.Data)
		case domain.StreamEventError:
			streamErr = event.Err
			if streamErr == nil {
				streamErr = errors.New(event.Data)
			}
			w.Error(event.Data)
			w.Done()
		case domain.StreamEventDone:
			w.Done()
		}
	}
	return streamErr
}

// Reject reports an error that happened before any output was produced,
// using the same framing as a mid-stream failure.
func Reject(w *Writer, err error) {
	w.Error(domain.MessageFrom(err))
	w.Done()
}
