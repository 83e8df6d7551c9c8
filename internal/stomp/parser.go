package stomp

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
)

// DefaultMaxFrameSize bounds a single frame when the caller passes no limit.
const DefaultMaxFrameSize = 1 << 20

// Parser reads frames from a byte stream. Bytes are accumulated until a
// terminator arrives, so a frame may be split across any number of reads.
type Parser struct {
	r   *bufio.Reader
	max int
	err error
}

// NewParser returns a Parser reading from r. maxFrameSize <= 0 selects
// DefaultMaxFrameSize.
func NewParser(r io.Reader, maxFrameSize int) *Parser {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Parser{
		r:   bufio.NewReader(r),
		max: maxFrameSize,
	}
}

// Next returns the next complete frame.
//
// io.EOF is returned when the stream ends cleanly between frames. Any other
// error is sticky; once returned every later call returns it again.
func (p *Parser) Next() (Frame, error) {
	if p.err != nil {
		return Frame{}, p.err
	}
	for {
		chunk, err := p.readChunk()
		if err != nil {
			p.err = err
			return Frame{}, err
		}
		// Keep-alive padding between frames is not a frame.
		if len(bytes.TrimSpace(chunk)) == 0 {
			continue
		}
		frame, err := Decode(chunk)
		if err != nil {
			p.err = err
			return Frame{}, err
		}
		return frame, nil
	}
}

// readChunk returns the bytes up to, not including, the next terminator.
func (p *Parser) readChunk() ([]byte, error) {
	var chunk []byte
	for {
		part, err := p.r.ReadSlice(Terminator)
		if len(chunk)+len(part) > p.max+1 {
			return nil, fmt.Errorf("%w: more than %d bytes without terminator", ErrFrameTooLarge, p.max)
		}
		chunk = append(chunk, part...)
		if err == nil {
			return chunk[:len(chunk)-1], nil
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if len(bytes.TrimSpace(chunk)) == 0 {
			if isCleanClose(err) {
				return nil, io.EOF
			}
			return nil, err
		}
		return nil, fmt.Errorf("%w: stream ended inside a frame: %w", ErrFrame, err)
	}
}

func isCleanClose(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed)
}

// Decode parses the bytes of one frame, without its terminator.
//
// Blank lines before the command are skipped. The command is not validated;
// an unknown command is returned as-is for the caller to reject.
func Decode(data []byte) (Frame, error) {
	var frame Frame
	var line []byte
	var ok bool

	for {
		line, data, ok = cutLine(data)
		if len(bytes.TrimSpace(line)) != 0 {
			break
		}
		if !ok {
			return Frame{}, fmt.Errorf("%w: empty frame", ErrFrame)
		}
	}
	frame.Command = Command(line)

	for ok {
		line, data, ok = cutLine(data)
		if len(line) == 0 {
			if ok {
				frame.Body = data
			}
			return frame, nil
		}
		colon := bytes.IndexByte(line, ':')
		if colon == -1 {
			return Frame{}, fmt.Errorf("%w: header missing colon: %q", ErrFrame, line)
		}
		frame.Headers.Add(string(line[:colon]), string(line[colon+1:]))
	}
	return frame, nil
}

// cutLine splits data at the first newline. The returned line has any
// trailing carriage return removed. found is false when data holds no newline,
// in which case line is all of data and rest is nil.
func cutLine(data []byte) (line, rest []byte, found bool) {
	i := bytes.IndexByte(data, '\n')
	if i == -1 {
		return bytes.TrimSuffix(data, []byte{'\r'}), nil, false
	}
	return bytes.TrimSuffix(data[:i], []byte{'\r'}), data[i+1:], true
}
