package sse

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenSetsStreamingHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	if _, err := Open(rec); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("unexpected Content-Type %q", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-cache" {
		t.Fatalf("unexpected Cache-Control %q", got)
	}
}

func TestSendWritesEventFraming(t *testing.T) {
	rec := httptest.NewRecorder()
	stream, err := Open(rec)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := stream.Send("message_start", map[string]string{"type": "message_start"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, "event: message_start\n") {
		t.Fatalf("expected event line first, got %q", body)
	}
	if !strings.Contains(body, `data: {"type":"message_start"}`) {
		t.Fatalf("expected JSON data line, got %q", body)
	}
	if !strings.HasSuffix(body, "\n\n") {
		t.Fatalf("expected blank-line terminator, got %q", body)
	}
}

func TestSendRejectsUnmarshalablePayload(t *testing.T) {
	rec := httptest.NewRecorder()
	stream, _ := Open(rec)
	if err := stream.Send("x", func() {}); err == nil {
		t.Fatalf("expected marshal error for a func payload")
	}
}
