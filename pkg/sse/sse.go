// Package sse encodes and decodes text/event-stream frames.
//
// A frame is a block of "field: value" lines terminated by a blank line.
// The decoder buffers until the terminating blank line before yielding an
// event, so a frame split across reads is never parsed half-way.
package sse

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ContentType is the MIME type of an event stream.
const ContentType = "text/event-stream"

// Event is one decoded frame.
type Event struct {
	Name string
	Data []byte
	ID   string
}

// Decode unmarshals the event data into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("sse: decode %q data: %w", e.Name, err)
	}
	return nil
}

type flusher interface {
	Flush()
}

// Encoder writes frames to w and flushes after each one when w supports it.
// It is not safe for concurrent use.
type Encoder struct {
	w io.Writer
}

// NewEncoder creates an Encoder.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes v as JSON under the given event name.
func (e *Encoder) Encode(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("sse: marshal %q: %w", name, err)
	}
	return e.WriteEvent(Event{Name: name, Data: data})
}

// WriteEvent writes a raw frame. Multi-line data is split into several data lines.
func (e *Encoder) WriteEvent(ev Event) error {
	var buf bytes.Buffer
	if ev.ID != "" {
		buf.WriteString("id: " + ev.ID + "\n")
	}
	if ev.Name != "" {
		buf.WriteString("event: " + ev.Name + "\n")
	}
	for _, line := range bytes.Split(ev.Data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	return e.write(buf.Bytes())
}

// Comment writes a comment line, used as a keep-alive.
func (e *Encoder) Comment(text string) error {
	return e.write([]byte(": " + text + "\n\n"))
}

func (e *Encoder) write(p []byte) error {
	if _, err := e.w.Write(p); err != nil {
		return fmt.Errorf("sse: write: %w", err)
	}
	if f, ok := e.w.(flusher); ok {
		f.Flush()
	}
	return nil
}

// Decoder reads frames from an event stream.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder creates a Decoder.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next returns the next complete event. Comment-only and empty frames are
// skipped. It returns io.EOF at a clean end of stream and
// io.ErrUnexpectedEOF when the stream ends inside a frame.
func (d *Decoder) Next() (Event, error) {
	var (
		ev      Event
		data    [][]byte
		pending bool
	)
	for {
		line, err := d.r.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return Event{}, fmt.Errorf("sse: read: %w", err)
			}
			if pending || strings.TrimSpace(line) != "" {
				return Event{}, io.ErrUnexpectedEOF
			}
			return Event{}, io.EOF
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if !pending {
				continue
			}
			ev.Data = bytes.Join(data, []byte("\n"))
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Name = value
		case "data":
			data = append(data, []byte(value))
		case "id":
			ev.ID = value
		default:
			continue
		}
		pending = true
	}
}
