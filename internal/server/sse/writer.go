// Package sse writes Server-Sent Events in the framing the Messages API
// streaming dialect uses: an `event:` line naming the event type followed by
// a single `data:` line of JSON.
package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Stream is an open event stream over one HTTP response. Events are flushed
// as they are written so the client sees them immediately.
type Stream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// Open prepares w for event streaming and emits the SSE response headers.
// It fails if the underlying writer cannot flush incrementally (e.g. a
// buffering middleware is in the way).
func Open(w http.ResponseWriter) (*Stream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("response writer does not support streaming")
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")

	return &Stream{w: w, flusher: flusher}, nil
}

// Send writes one event with a JSON-encoded payload and flushes it.
func (s *Stream) Send(event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
