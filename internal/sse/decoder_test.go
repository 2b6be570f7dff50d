package sse

import "testing"

func TestDecoder_SimpleEvent(t *testing.T) {
	t.Parallel()
	d := NewDecoder()
	events := d.Feed([]byte("data: hello\n\n"))
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	if events[0].Data != "hello" || events[0].EventType != "message" {
		t.Fatalf("event = %+v", events[0])
	}
}

func TestDecoder_MultiLineDataJoinedWithNewline(t *testing.T) {
	t.Parallel()
	d := NewDecoder()
	events := d.Feed([]byte("data: line one\ndata: line two\n\n"))
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	if events[0].Data != "line one\nline two" {
		t.Fatalf("data = %q", events[0].Data)
	}
}

func TestDecoder_EventTypeAndID(t *testing.T) {
	t.Parallel()
	d := NewDecoder()
	events := d.Feed([]byte("event: ping\nid: 42\ndata: {}\n\n"))
	if len(events) != 1 {
		t.Fatal("expected one event")
	}
	if events[0].EventType != "ping" || events[0].ID != "42" {
		t.Fatalf("event = %+v", events[0])
	}
}

func TestDecoder_IDPersistsAcrossEvents(t *testing.T) {
	t.Parallel()
	d := NewDecoder()
	events := d.Feed([]byte("id: abc\ndata: first\n\ndata: second\n\n"))
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[0].ID != "abc" || events[1].ID != "abc" {
		t.Fatalf("id should persist across events without a new id: line: %+v", events)
	}
	// event_type must reset to "message" for the second event.
	if events[1].EventType != "message" {
		t.Fatalf("event type = %q, want reset to message", events[1].EventType)
	}
}

func TestDecoder_IDWithNulIsIgnored(t *testing.T) {
	t.Parallel()
	d := NewDecoder()
	events := d.Feed([]byte("id: bad\x00id\ndata: x\n\n"))
	if len(events) != 1 {
		t.Fatal("expected one event")
	}
	if events[0].ID != "" {
		t.Fatalf("id = %q, want empty (NUL-containing id rejected)", events[0].ID)
	}
}

func TestDecoder_CommentLinesIgnored(t *testing.T) {
	t.Parallel()
	d := NewDecoder()
	events := d.Feed([]byte(": this is a comment\ndata: payload\n\n"))
	if len(events) != 1 || events[0].Data != "payload" {
		t.Fatalf("events = %+v", events)
	}
}

func TestDecoder_CRLFNormalized(t *testing.T) {
	t.Parallel()
	d := NewDecoder()
	events := d.Feed([]byte("data: hello\r\n\r\n"))
	if len(events) != 1 || events[0].Data != "hello" {
		t.Fatalf("events = %+v", events)
	}
}

func TestDecoder_CrossChunkBuffering(t *testing.T) {
	t.Parallel()
	d := NewDecoder()
	events := d.Feed([]byte("data: par"))
	if len(events) != 0 {
		t.Fatalf("incomplete chunk should not dispatch: %+v", events)
	}
	events = d.Feed([]byte("tial\n\n"))
	if len(events) != 1 || events[0].Data != "partial" {
		t.Fatalf("events = %+v", events)
	}
}

func TestDecoder_RetryField(t *testing.T) {
	t.Parallel()
	d := NewDecoder()
	events := d.Feed([]byte("retry: 5000\ndata: x\n\n"))
	if len(events) != 1 {
		t.Fatal("expected one event")
	}
	if events[0].Retry == nil || *events[0].Retry != 5000 {
		t.Fatalf("retry = %v, want 5000", events[0].Retry)
	}
}

func TestDecoder_FlushEmitsFinalEventWithoutTrailingNewline(t *testing.T) {
	t.Parallel()
	d := NewDecoder()
	events := d.Feed([]byte("data: unterminated"))
	if len(events) != 0 {
		t.Fatalf("should not dispatch before flush: %+v", events)
	}
	final := d.Flush()
	if final == nil || final.Data != "unterminated" {
		t.Fatalf("flush = %+v", final)
	}
}

func TestDecoder_FlushWithNoDataReturnsNil(t *testing.T) {
	t.Parallel()
	d := NewDecoder()
	d.Feed([]byte("data: seen\n\n"))
	if final := d.Flush(); final != nil {
		t.Fatalf("flush after clean dispatch should be nil, got %+v", final)
	}
}
