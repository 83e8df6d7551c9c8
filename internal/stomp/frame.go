package stomp

import (
	"bytes"
	"io"
)

// Frame is one STOMP frame. Body never contains the terminator byte.
type Frame struct {
	Command Command
	Headers Headers
	Body    []byte
}

// NewFrame creates a frame from alternating header names and values.
func NewFrame(command Command, body []byte, headers ...string) Frame {
	f := Frame{Command: command, Body: body}
	for i := 0; i+1 < len(headers); i += 2 {
		f.Headers.Add(headers[i], headers[i+1])
	}
	return f
}

// Header returns the value of the named header.
func (f Frame) Header(name string) (string, bool) {
	return f.Headers.Get(name)
}

// WriteTo writes the wire form of f: command line, headers in order, blank
// line, body and terminator. It implements io.WriterTo.
func (f Frame) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(f.Bytes())
	return int64(n), err
}

// Bytes encodes f.
func (f Frame) Bytes() []byte {
	size := len(f.Command) + 2 + len(f.Body) + 1
	for _, h := range f.Headers {
		size += len(h.Name) + len(h.Value) + 2
	}
	buf := bytes.NewBuffer(make([]byte, 0, size))
	buf.WriteString(string(f.Command))
	buf.WriteByte('\n')
	for _, h := range f.Headers {
		buf.WriteString(h.Name)
		buf.WriteByte(':')
		buf.WriteString(h.Value)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(Terminator)
	return buf.Bytes()
}

// String returns the encoded frame, handy in logs and tests.
func (f Frame) String() string {
	return string(f.Bytes())
}
