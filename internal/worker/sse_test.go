package worker

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func newTestDecoder(body string) *Decoder {
	return NewDecoder(io.NopCloser(strings.NewReader(body)), time.Second)
}

func TestReadEventParsesDataAndEvent(t *testing.T) {
	d := newTestDecoder("event: message\ndata: hello\n\n")
	defer d.Close()

	ev, err := d.ReadEvent()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Event != "message" || ev.Data != "hello" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestReadEventJoinsMultilineData(t *testing.T) {
	d := newTestDecoder("data: line one\ndata: line two\n\n")
	defer d.Close()

	ev, err := d.ReadEvent()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Data != "line one\nline two" {
		t.Fatalf("unexpected joined data: %q", ev.Data)
	}
}

func TestReadEventSurfacesComments(t *testing.T) {
	d := newTestDecoder(": keepalive\ndata: payload\n\n")
	defer d.Close()

	ev, err := d.ReadEvent()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Comment != " keepalive" {
		t.Fatalf("unexpected comment: %q", ev.Comment)
	}
}

func TestReadEventErrorFrameReturnsSSEResponseError(t *testing.T) {
	d := newTestDecoder("event: error\ndata: something broke\n\n")
	defer d.Close()

	_, err := d.ReadEvent()
	var sseErr *SSEResponseError
	if !errors.As(err, &sseErr) {
		t.Fatalf("expected an SSEResponseError, got %v", err)
	}
	if sseErr.Data != "something broke" {
		t.Fatalf("unexpected error payload: %q", sseErr.Data)
	}
}

func TestReadEventEOFAtStreamEndWithoutTrailingBlankLine(t *testing.T) {
	d := newTestDecoder("data: final\n")
	defer d.Close()

	ev, err := d.ReadEvent()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Data != "final" {
		t.Fatalf("unexpected data: %q", ev.Data)
	}
}

func TestReadEventReplacesInvalidUTF8(t *testing.T) {
	d := newTestDecoder("data: \xff\xfe\n\n")
	defer d.Close()

	ev, err := d.ReadEvent()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(ev.Data, "\xff") {
		t.Fatal("expected invalid UTF-8 bytes to be replaced")
	}
}

func TestDecoderCloseIsIdempotent(t *testing.T) {
	d := newTestDecoder("data: x\n\n")
	if err := d.Close(); err != nil {
		t.Fatalf("unexpected error on first close: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("unexpected error on second close: %v", err)
	}

	if _, err := d.ReadEvent(); err != ErrSSEStreamClosed {
		t.Fatalf("expected ErrSSEStreamClosed after Close, got %v", err)
	}
}

func TestReadEventStallsWithoutData(t *testing.T) {
	pr, pw := io.Pipe()
	d := NewDecoder(pr, 20*time.Millisecond)
	defer d.Close()
	defer pw.Close()

	_, err := d.ReadEvent()
	if err != ErrSSEStall {
		t.Fatalf("expected ErrSSEStall, got %v", err)
	}
}
