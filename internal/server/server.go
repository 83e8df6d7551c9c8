package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/config"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/connection"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/logger"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/ratelimit"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/router"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/subscription"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/users"
)

var ErrServerClosed = errors.New("stomp: server closed")

// Server accepts STOMP connections and runs one handler goroutine per
// connection. The user, subscription and connection registries are shared
// by all handlers.
type Server struct {
	cfg     config.Config
	users   *users.Registry
	subs    *subscription.Registry
	conns   *connection.ConnectionManager
	router  *router.Router
	limiter *ratelimit.IPRateLimiter
	sem     chan struct{}

	// ctx is cancelled on Shutdown and bounds in-flight logins.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	listener net.Listener
	quit     chan struct{}
	closing  atomic.Bool
	wg       sync.WaitGroup
}

func New(cfg config.Config, registry *users.Registry) *Server {
	conns := connection.NewConnectionManager()
	subs := subscription.NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())

	maxConnections := cfg.Broker.MaxConnections
	if maxConnections <= 0 {
		maxConnections = config.Default().Broker.MaxConnections
	}

	s := &Server{
		cfg:    cfg,
		users:  registry,
		subs:   subs,
		conns:  conns,
		router: router.New(subs, connection.NewMessageSender(conns)),
		sem:    make(chan struct{}, maxConnections),
		ctx:    ctx,
		cancel: cancel,
		quit:   make(chan struct{}),
	}
	if cfg.RateLimit.Enabled {
		s.limiter = ratelimit.NewIPRateLimiter(
			cfg.RateLimit.ConnectionsPerSecond,
			cfg.RateLimit.Burst,
			cfg.RateLimit.CleanupInterval.Duration(),
		)
	}
	return s
}

func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Address())
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown, then returns
// ErrServerClosed. ln is closed on return.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	logger.InfoF("STOMP Server Listen On %s", ln.Addr().String())
	defer func() {
		if err := ln.Close(); err != nil && !connection.IsNetClosedError(err) {
			logger.ErrorF("Server close error: %v", err)
		}
	}()

	var tempDelay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closing.Load() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				tempDelay = min(max(2*tempDelay, 5*time.Millisecond), time.Second)
				logger.ErrorF("Accept connection error: %v; retrying in %v", err, tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			return err
		}
		tempDelay = 0

		logger.DebugF("Accepted new connection from %s", conn.RemoteAddr().String())

		if s.limiter != nil && !s.limiter.Allow(conn.RemoteAddr()) {
			logger.WarnF("Connection from %s rejected by rate limiter", conn.RemoteAddr().String())
			_ = conn.Close()
			continue
		}

		select {
		case s.sem <- struct{}{}:
		case <-s.quit:
			_ = conn.Close()
			return ErrServerClosed
		}

		if !s.track() {
			<-s.sem
			_ = conn.Close()
			return ErrServerClosed
		}
		go func(c net.Conn) {
			defer func() {
				<-s.sem
				s.wg.Done()
			}()
			s.newHandler(c).handleConnection()
		}(conn)
	}
}

// track counts a new handler unless Shutdown has begun. Shutdown flips
// closing under the same lock before it waits, so no Add races the Wait.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing.Load() {
		return false
	}
	s.wg.Add(1)
	return true
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting, drops every connection and waits for Serve and
// the handlers to finish or ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closing.Swap(true) {
		s.mu.Unlock()
		return nil
	}
	close(s.quit)
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.mu.Unlock()

	if s.limiter != nil {
		s.limiter.Stop()
	}

	logger.InfoF("Shutting down STOMP server, closing %d connections", s.conns.Len())
	s.conns.CloseAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("STOMP server stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Invoke lets the shutdown cleaner stop the server.
func (s *Server) Invoke(ctx context.Context) error {
	return s.Shutdown(ctx)
}
