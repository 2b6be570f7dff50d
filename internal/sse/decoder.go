// Package sse implements a W3C-compliant Server-Sent Events decoder
// (https://html.spec.whatwg.org/multipage/server-sent-events.html#parsing-an-event-stream),
// generalizing the OpenAI-only data:/event: scanner of provider/sseutil to
// the full field set: event, data, id, retry, comments, and cross-chunk
// buffering, per spec.md §4.6.
package sse

import (
	"strconv"
	"strings"

	"github.com/loa-finn/cheval/internal/cheval"
)

// Decoder accumulates bytes across chunks and emits fully-parsed events.
// It is not safe for concurrent use.
type Decoder struct {
	buffer    strings.Builder
	eventType string
	dataLines []string
	id        string
	retry     *int
	pendingCR bool // previous chunk ended in '\r'
}

// NewDecoder returns an empty Decoder ready to accept the first chunk.
func NewDecoder() *Decoder {
	return &Decoder{eventType: "message"}
}

// Feed appends chunk to the internal buffer, normalizes line endings to LF,
// and returns every event fully dispatched by a blank-line boundary found
// so far. Incomplete trailing data is retained for the next Feed or Flush.
func (d *Decoder) Feed(chunk []byte) []cheval.SSEEvent {
	text := string(chunk)
	if d.pendingCR && strings.HasPrefix(text, "\n") {
		// LF completing a CRLF whose CR ended the previous chunk.
		text = text[1:]
		d.pendingCR = false
	}
	if text != "" {
		d.pendingCR = strings.HasSuffix(text, "\r")
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	d.buffer.WriteString(text)

	buffered := d.buffer.String()
	d.buffer.Reset()

	var events []cheval.SSEEvent
	for {
		idx := strings.IndexByte(buffered, '\n')
		if idx < 0 {
			break
		}
		line := buffered[:idx]
		buffered = buffered[idx+1:]

		if ev, dispatched := d.consumeLine(line); dispatched {
			events = append(events, ev)
		}
	}
	d.buffer.WriteString(buffered)
	return events
}

// Flush processes any remaining unterminated line in the buffer (stream
// ended without a trailing newline) and emits a final event if data was
// accumulated.
func (d *Decoder) Flush() *cheval.SSEEvent {
	remaining := d.buffer.String()
	d.buffer.Reset()

	if remaining != "" {
		d.consumeLine(remaining)
	}

	if len(d.dataLines) == 0 {
		return nil
	}
	ev := d.dispatch()
	return &ev
}

// consumeLine applies one line of SSE field syntax. An empty line dispatches
// the accumulated event (if any data was seen); everything else mutates the
// decoder's pending-event state.
func (d *Decoder) consumeLine(line string) (cheval.SSEEvent, bool) {
	if line == "" {
		if len(d.dataLines) == 0 {
			return cheval.SSEEvent{}, false
		}
		return d.dispatch(), true
	}

	if strings.HasPrefix(line, ":") {
		return cheval.SSEEvent{}, false
	}

	field, value, found := strings.Cut(line, ":")
	if found {
		value = strings.TrimPrefix(value, " ")
	}

	switch field {
	case "event":
		d.eventType = value
	case "data":
		d.dataLines = append(d.dataLines, value)
	case "id":
		if !strings.Contains(value, "\x00") {
			d.id = value
		}
	case "retry":
		if n, err := strconv.Atoi(value); err == nil {
			d.retry = &n
		}
	}
	return cheval.SSEEvent{}, false
}

// dispatch builds the pending event and resets the per-event fields that the
// spec requires to reset (event type and data); id and retry persist across
// events until explicitly overwritten.
func (d *Decoder) dispatch() cheval.SSEEvent {
	ev := cheval.SSEEvent{
		EventType: d.eventType,
		Data:      strings.Join(d.dataLines, "\n"),
		ID:        d.id,
		Retry:     d.retry,
	}
	d.eventType = "message"
	d.dataLines = nil
	return ev
}
