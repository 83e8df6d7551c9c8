package server

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/connection"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/frame"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/logger"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/router"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/stomp"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/subscription"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/users"
)

const loginTimeout = 10 * time.Second

type sessionState int

const (
	stateUnauthenticated sessionState = iota
	stateAuthenticated
	stateTerminated
)

func (s sessionState) String() string {
	switch s {
	case stateUnauthenticated:
		return "unauthenticated"
	case stateAuthenticated:
		return "authenticated"
	default:
		return "terminated"
	}
}

// ConnectionHandler runs the session of one connection. Only the handler
// goroutine touches its fields.
type ConnectionHandler struct {
	server   *Server
	conn     *connection.Connection
	connID   string
	reader   *idleReader
	parser   *stomp.Parser
	state    sessionState
	username string
}

func (s *Server) newHandler(conn net.Conn) *ConnectionHandler {
	c := connection.NewConnection(conn, connection.Options{
		QueueSize:      s.cfg.Broker.QueueSize,
		EnqueueTimeout: s.cfg.Broker.EnqueueTimeout.Duration(),
		WriteTimeout:   s.cfg.Broker.WriteTimeout.Duration(),
	})
	reader := &idleReader{conn: conn}
	return &ConnectionHandler{
		server: s,
		conn:   c,
		connID: c.ConnID,
		reader: reader,
		parser: stomp.NewParser(reader, s.cfg.Broker.MaxFrameSize),
	}
}

// idleReader pushes the read deadline forward before every read from the
// socket, so any inbound byte, padding included, counts as activity.
type idleReader struct {
	conn    net.Conn
	timeout time.Duration
}

func (r *idleReader) Read(p []byte) (int, error) {
	if r.timeout > 0 {
		_ = r.conn.SetReadDeadline(time.Now().Add(r.timeout))
	}
	return r.conn.Read(p)
}

func (c *ConnectionHandler) handleConnection() {
	c.server.conns.Add(c.conn)
	defer func() {
		c.terminate()
		c.conn.CloseAfterFlush()
		<-c.conn.Done()
		logger.DebugF("[%s] Connection closed", c.connID)
	}()
	// Shutdown may have swept the manager before this connection was added.
	if c.server.closing.Load() {
		c.conn.Close()
		return
	}

	if err := c.handleFirstFrame(); err != nil {
		return
	}
	c.handleFrames()
}

func (c *ConnectionHandler) handleFirstFrame() error {
	if timeout := c.server.cfg.Broker.ConnectTimeout.Duration(); timeout > 0 {
		_ = c.conn.Conn.SetReadDeadline(time.Now().Add(timeout))
	}
	f, err := c.parser.Next()
	if err != nil {
		logger.WarnF("[%s] Fail to read first frame, details: %v", c.connID, err)
		c.handleReadError(err)
		return err
	}
	logger.DebugF("[%s] Receive %s frame", c.connID, f.Command)

	if perr := c.handleConnect(f); perr != nil {
		c.reportError(perr)
		return perr
	}
	return nil
}

func (c *ConnectionHandler) handleConnect(f stomp.Frame) *frame.ProtocolError {
	if !f.Command.FromClient() {
		return frame.Validate(f)
	}
	req, perr := frame.ParseConnect(f)
	if perr != nil {
		return perr
	}

	supported := c.server.cfg.Broker.AcceptVersions
	version, ok := frame.NegotiateVersion(req, supported)
	if !ok {
		return frame.NewProtocolError(frame.UnsupportedVersion, f,
			"supported protocol versions are %s", strings.Join(supported, ","))
	}

	ctx, cancel := context.WithTimeout(c.server.ctx, loginTimeout)
	defer cancel()
	if err := c.server.users.Login(ctx, req.Login, req.Passcode, c.connID); err != nil {
		return c.loginError(f, req.Login, err)
	}

	c.username = req.Login
	c.state = stateAuthenticated
	logger.InfoF("[%s] User %s logged in, version %s", c.connID, c.username, version)

	c.enqueue(frame.NewConnectedFrame(version, c.connID, c.server.cfg.AppName))
	c.sendReceipt(f)
	return nil
}

func (c *ConnectionHandler) loginError(f stomp.Frame, username string, err error) *frame.ProtocolError {
	switch {
	case errors.Is(err, users.ErrAlreadyLoggedIn):
		return frame.NewProtocolError(frame.AlreadyLoggedIn, f, "user %s has an active session", username)
	case errors.Is(err, users.ErrWrongPassword), errors.Is(err, users.ErrUnknownUser):
		return frame.NewProtocolError(frame.BadCredentials, f, "could not authenticate user %s", username)
	default:
		logger.ErrorF("[%s] Error occured while authenticating %s, details: %v", c.connID, username, err)
		return frame.NewProtocolError(frame.BadCredentials, f, "authentication is unavailable")
	}
}

func (c *ConnectionHandler) handleFrames() {
	idle := c.server.cfg.Broker.IdleTimeout.Duration()
	if idle > 0 {
		c.reader.timeout = idle
		_ = c.conn.Conn.SetReadDeadline(time.Now().Add(idle))
	} else {
		_ = c.conn.Conn.SetReadDeadline(time.Time{})
	}
	for c.state == stateAuthenticated {
		f, err := c.parser.Next()
		if err != nil {
			c.handleReadError(err)
			return
		}
		logger.DebugF("[%s] Receive %s frame, %d bytes of body", c.connID, f.Command, len(f.Body))

		if perr := c.dispatch(f); perr != nil {
			c.reportError(perr)
			if perr.Fatal() {
				return
			}
		}
	}
}

func (c *ConnectionHandler) dispatch(f stomp.Frame) *frame.ProtocolError {
	switch f.Command {
	case stomp.CONNECT, stomp.STOMP:
		return frame.NewProtocolError(frame.UnexpectedCommand, f, "already connected as %s", c.username)
	case stomp.SUBSCRIBE:
		return c.handleSubscribe(f)
	case stomp.UNSUBSCRIBE:
		return c.handleUnsubscribe(f)
	case stomp.SEND:
		return c.handleSend(f)
	case stomp.DISCONNECT:
		return c.handleDisconnect(f)
	default:
		return frame.Validate(f)
	}
}

func (c *ConnectionHandler) handleSubscribe(f stomp.Frame) *frame.ProtocolError {
	req, perr := frame.ParseSubscribe(f)
	if perr != nil {
		return perr
	}
	if err := c.server.subs.Subscribe(c.connID, req.ID, req.Destination); err != nil {
		if errors.Is(err, subscription.ErrDuplicateID) {
			return frame.NewProtocolError(frame.DuplicateSubscriptionID, f, "subscription %s is already open", req.ID)
		}
		return frame.NewProtocolError(frame.MalformedFrame, f, "%v", err)
	}
	logger.DebugF("[%s] Subscribed %s to %s", c.connID, req.ID, req.Destination)
	c.sendReceipt(f)
	return nil
}

func (c *ConnectionHandler) handleUnsubscribe(f stomp.Frame) *frame.ProtocolError {
	req, perr := frame.ParseUnsubscribe(f)
	if perr != nil {
		return perr
	}
	destination, err := c.server.subs.Unsubscribe(c.connID, req.ID)
	if err != nil {
		if errors.Is(err, subscription.ErrUnknownID) {
			return frame.NewProtocolError(frame.UnknownSubscriptionID, f, "no open subscription with id %s", req.ID)
		}
		return frame.NewProtocolError(frame.MalformedFrame, f, "%v", err)
	}
	logger.DebugF("[%s] Unsubscribed %s from %s", c.connID, req.ID, destination)
	c.sendReceipt(f)
	return nil
}

func (c *ConnectionHandler) handleSend(f stomp.Frame) *frame.ProtocolError {
	req, perr := frame.ParseSend(f)
	if perr != nil {
		return perr
	}
	if _, err := c.server.router.Publish(c.connID, req.Destination, req.Body); err != nil {
		if errors.Is(err, router.ErrNotSubscribed) {
			return frame.NewProtocolError(frame.UnauthorizedSend, f, "subscribe to %s before sending to it", req.Destination)
		}
		return frame.NewProtocolError(frame.MalformedFrame, f, "%v", err)
	}
	c.sendReceipt(f)
	return nil
}

// handleDisconnect releases the session before the receipt is queued, so a
// client that has seen the RECEIPT may log in again at once.
func (c *ConnectionHandler) handleDisconnect(f stomp.Frame) *frame.ProtocolError {
	if _, perr := frame.ParseDisconnect(f); perr != nil {
		return perr
	}
	logger.InfoF("[%s] Client disconnect", c.connID)
	c.terminate()
	c.sendReceipt(f)
	c.conn.CloseAfterFlush()
	return nil
}

// reportError queues the ERROR frame for perr. Fatal errors release the
// session first and close the connection once the frame is written.
func (c *ConnectionHandler) reportError(perr *frame.ProtocolError) {
	if perr.Fatal() {
		logger.WarnF("[%s] %s error, closing connection: %v", c.connID, perr.Kind, perr)
		c.terminate()
	} else {
		logger.InfoF("[%s] %s error: %v", c.connID, perr.Kind, perr)
	}
	c.enqueue(frame.NewErrorFrame(perr))
	if perr.Fatal() {
		c.conn.CloseAfterFlush()
	}
}

func (c *ConnectionHandler) handleReadError(err error) {
	if errors.Is(err, stomp.ErrFrame) || errors.Is(err, stomp.ErrFrameTooLarge) {
		c.reportError(frame.NewProtocolError(frame.MalformedFrame, stomp.Frame{}, "%v", err))
		return
	}
	connection.HandleReadError(c.connID, err)
	c.terminate()
	c.conn.Close()
}

func (c *ConnectionHandler) sendReceipt(request stomp.Frame) {
	if receipt, ok := frame.Receipt(request); ok {
		c.enqueue(receipt)
	}
}

func (c *ConnectionHandler) enqueue(f stomp.Frame) {
	if err := c.conn.Enqueue(f); err != nil {
		logger.DebugF("[%s] %s frame not queued: %v", c.connID, f.Command, err)
	}
}

// terminate removes every trace of the connection from the shared
// registries. It runs before the handler exits, whatever the cause.
func (c *ConnectionHandler) terminate() {
	if c.state == stateTerminated {
		return
	}
	previous := c.state
	c.state = stateTerminated
	logger.DebugF("[%s] Session %s -> %s", c.connID, previous, c.state)

	if destinations := c.server.subs.RemoveConnection(c.connID); len(destinations) > 0 {
		logger.DebugF("[%s] Removed from destinations %v", c.connID, destinations)
	}
	if previous == stateAuthenticated && c.username != "" {
		c.server.users.Logout(c.username, c.connID)
		logger.InfoF("[%s] User %s logged out", c.connID, c.username)
	}
	c.server.conns.Remove(c.connID)
}
