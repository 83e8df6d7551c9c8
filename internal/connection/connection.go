// Package connection owns client connections and their outbound queues.
package connection

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/logger"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/stomp"
)

var (
	ErrClosed    = errors.New("connection closed")
	ErrQueueFull = errors.New("outbound queue full")
)

const (
	DefaultQueueSize      = 256
	DefaultEnqueueTimeout = 100 * time.Millisecond
	DefaultWriteTimeout   = 10 * time.Second
)

type Options struct {
	QueueSize int
	// EnqueueTimeout bounds how long Enqueue waits on a full queue before
	// the connection is dropped.
	EnqueueTimeout time.Duration
	WriteTimeout   time.Duration
}

// Connection is a client connection with a bounded outbound queue drained
// by its own writer goroutine. Frames reach the socket in Enqueue order.
type Connection struct {
	Conn   net.Conn
	ConnID string

	opts      Options
	out       chan stomp.Frame
	closing   chan struct{}
	draining  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	drainOnce sync.Once
	messageID atomic.Uint64
}

func NewConnection(conn net.Conn, opts Options) *Connection {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.EnqueueTimeout <= 0 {
		opts.EnqueueTimeout = DefaultEnqueueTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	c := &Connection{
		Conn:     conn,
		ConnID:   uuid.NewString(),
		opts:     opts,
		out:      make(chan stomp.Frame, opts.QueueSize),
		closing:  make(chan struct{}),
		draining: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// Enqueue queues f for writing. When the queue stays full for longer than
// the enqueue timeout the connection is closed and ErrQueueFull returned.
func (c *Connection) Enqueue(f stomp.Frame) error {
	select {
	case <-c.closing:
		return ErrClosed
	case <-c.draining:
		return ErrClosed
	default:
	}

	select {
	case c.out <- f:
		return nil
	default:
	}

	timer := time.NewTimer(c.opts.EnqueueTimeout)
	defer timer.Stop()
	select {
	case c.out <- f:
		return nil
	case <-c.closing:
		return ErrClosed
	case <-timer.C:
		logger.WarnF("[%s] Outbound queue full for %v, dropping connection", c.ConnID, c.opts.EnqueueTimeout)
		c.Close()
		return ErrQueueFull
	}
}

// CloseAfterFlush stops accepting frames and closes the connection once
// everything already queued has been written.
func (c *Connection) CloseAfterFlush() {
	c.drainOnce.Do(func() {
		close(c.draining)
	})
}

// Close closes the connection at once, discarding queued frames.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.closing)
		_ = c.Conn.Close()
	})
}

// Done is closed when the writer has exited and the socket is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// NextMessageID returns the next message id for frames sent to this
// connection, starting at 1.
func (c *Connection) NextMessageID() uint64 {
	return c.messageID.Add(1)
}

func (c *Connection) writeLoop() {
	defer close(c.done)
	defer c.Close()
	for {
		select {
		case <-c.closing:
			return
		case f := <-c.out:
			if !c.write(f) {
				return
			}
		case <-c.draining:
			for {
				select {
				case f := <-c.out:
					if !c.write(f) {
						return
					}
				default:
					logger.DebugF("[%s] Outbound queue flushed", c.ConnID)
					return
				}
			}
		}
	}
}

func (c *Connection) write(f stomp.Frame) bool {
	_ = c.Conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	n, err := f.WriteTo(c.Conn)
	if err != nil {
		if !IsNetClosedError(err) {
			logger.ErrorF("[%s] Fail to send %s frame, details: %v", c.ConnID, f.Command, err)
		}
		return false
	}
	logger.DebugF("[%s] Send %d bytes to client, command %s", c.ConnID, n, f.Command)
	return true
}
