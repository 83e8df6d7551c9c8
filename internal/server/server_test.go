package server

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/config"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/database"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/stomp"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/crypto/bcrypt"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.BindAddress = "127.0.0.1"
	cfg.AppPort = 0
	cfg.Broker.BcryptCost = bcrypt.MinCost
	return cfg
}

type testServer struct {
	*Server
	served chan error
}

func startServer(t *testing.T, cfg config.Config) *testServer {
	t.Helper()
	registry := users.NewRegistry(database.NewMemoryStore(), users.Options{
		AutoRegister: cfg.Broker.AutoRegister,
		BcryptCost:   cfg.Broker.BcryptCost,
	})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &testServer{Server: New(cfg, registry), served: make(chan error, 1)}
	go func() { srv.served <- srv.Serve(ln) }()
	require.Eventually(t, func() bool { return srv.Addr() != nil }, time.Second, 5*time.Millisecond)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, srv.Shutdown(ctx))
		assert.ErrorIs(t, <-srv.served, ErrServerClosed)
	})
	return srv
}

type testClient struct {
	t      *testing.T
	conn   net.Conn
	parser *stomp.Parser
}

func dial(t *testing.T, srv *testServer) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &testClient{t: t, conn: conn, parser: stomp.NewParser(conn, 0)}
}

func (c *testClient) writeRaw(data string) {
	c.t.Helper()
	_, err := c.conn.Write([]byte(data))
	require.NoError(c.t, err)
}

func (c *testClient) send(command stomp.Command, body string, headers ...string) {
	c.t.Helper()
	_, err := stomp.NewFrame(command, []byte(body), headers...).WriteTo(c.conn)
	require.NoError(c.t, err)
}

func (c *testClient) read() stomp.Frame {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	f, err := c.parser.Next()
	require.NoError(c.t, err)
	return f
}

func (c *testClient) expect(command stomp.Command) stomp.Frame {
	c.t.Helper()
	f := c.read()
	require.Equal(c.t, command, f.Command, "unexpected frame:\n%s", f.String())
	return f
}

func (c *testClient) expectError(message string) stomp.Frame {
	c.t.Helper()
	f := c.expect(stomp.ERROR)
	assert.Equal(c.t, message, f.Headers.Value(stomp.HeaderMessage))
	assert.NotEmpty(c.t, f.Body)
	return f
}

func (c *testClient) expectClosed() {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, err := c.parser.Next()
	require.Error(c.t, err)
	var ne net.Error
	if errors.As(err, &ne) {
		require.False(c.t, ne.Timeout(), "connection was not closed by the server")
	}
}

// expectSilence checks that nothing arrives for a short while.
func (c *testClient) expectSilence() {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	buf := make([]byte, 1)
	_, err := c.conn.Read(buf)
	var ne net.Error
	require.True(c.t, errors.As(err, &ne) && ne.Timeout(), "unexpected data or error: %v", err)
}

func (c *testClient) connect(login, passcode string) stomp.Frame {
	c.t.Helper()
	c.send(stomp.CONNECT, "",
		stomp.HeaderAcceptVersion, "1.2",
		stomp.HeaderHost, "stomp.test",
		stomp.HeaderLogin, login,
		stomp.HeaderPasscode, passcode,
	)
	return c.read()
}

func (c *testClient) login(login string) {
	c.t.Helper()
	f := c.connect(login, "pw")
	require.Equal(c.t, stomp.CONNECTED, f.Command, "login failed:\n%s", f.String())
}

func (c *testClient) subscribe(id, destination string) {
	c.t.Helper()
	c.send(stomp.SUBSCRIBE, "", stomp.HeaderDestination, destination, stomp.HeaderID, id, stomp.HeaderReceipt, "sub-"+id)
	f := c.expect(stomp.RECEIPT)
	require.Equal(c.t, "sub-"+id, f.Headers.Value(stomp.HeaderReceiptID))
}

func TestServer_Connect(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.AcceptVersions = []string{"1.2", "1.1"}
	srv := startServer(t, cfg)
	c := dial(t, srv)

	c.send(stomp.STOMP, "",
		stomp.HeaderAcceptVersion, "1.0,1.1,1.2",
		stomp.HeaderHost, "stomp.test",
		stomp.HeaderLogin, "alice",
		stomp.HeaderPasscode, "pw",
		stomp.HeaderReceipt, "hello",
	)
	f := c.expect(stomp.CONNECTED)
	assert.Equal(t, "1.2", f.Headers.Value(stomp.HeaderVersion))
	assert.NotEmpty(t, f.Headers.Value(stomp.HeaderSession))
	assert.Equal(t, cfg.AppName, f.Headers.Value(stomp.HeaderServer))
	assert.Equal(t, "hello", c.expect(stomp.RECEIPT).Headers.Value(stomp.HeaderReceiptID))

	owner, ok := srv.users.ActiveSession("alice")
	assert.True(t, ok)
	assert.Equal(t, f.Headers.Value(stomp.HeaderSession), owner)
}

func TestServer_DoubleLogin(t *testing.T) {
	srv := startServer(t, testConfig())
	first := dial(t, srv)
	first.login("alice")

	second := dial(t, srv)
	f := second.connect("alice", "pw")
	require.Equal(t, stomp.ERROR, f.Command)
	assert.Equal(t, "user already logged in", f.Headers.Value(stomp.HeaderMessage))
	second.expectClosed()

	first.send(stomp.DISCONNECT, "", stomp.HeaderReceipt, "77")
	assert.Equal(t, "77", first.expect(stomp.RECEIPT).Headers.Value(stomp.HeaderReceiptID))
	first.expectClosed()

	third := dial(t, srv)
	third.login("alice")
}

func TestServer_AbruptCloseFreesSession(t *testing.T) {
	srv := startServer(t, testConfig())
	c := dial(t, srv)
	c.login("alice")
	c.subscribe("0", "/topic/a")
	require.NoError(t, c.conn.Close())

	assert.Eventually(t, func() bool {
		_, active := srv.users.ActiveSession("alice")
		return !active && len(srv.subs.Destinations()) == 0 && srv.conns.Len() == 0
	}, 3*time.Second, 10*time.Millisecond)

	dial(t, srv).login("alice")
}

func TestServer_SelfDelivery(t *testing.T) {
	srv := startServer(t, testConfig())
	c := dial(t, srv)
	c.login("alice")
	c.subscribe("0", "/topic/t")

	c.send(stomp.SEND, "hi", stomp.HeaderDestination, "/topic/t")
	f := c.expect(stomp.MESSAGE)
	assert.Equal(t, []string{stomp.HeaderSubscription, stomp.HeaderMessageID, stomp.HeaderDestination}, f.Headers.Names())
	assert.Equal(t, "0", f.Headers.Value(stomp.HeaderSubscription))
	assert.Equal(t, "1", f.Headers.Value(stomp.HeaderMessageID))
	assert.Equal(t, "/topic/t", f.Headers.Value(stomp.HeaderDestination))
	assert.Equal(t, "hi", string(f.Body))
}

func TestServer_FanOut(t *testing.T) {
	srv := startServer(t, testConfig())
	alice := dial(t, srv)
	alice.login("alice")
	bob := dial(t, srv)
	bob.login("bob")
	carol := dial(t, srv)
	carol.login("carol")

	alice.subscribe("a1", "/topic/game")
	bob.subscribe("b7", "/topic/game")
	carol.subscribe("c1", "/topic/other")

	body := "team a: x\nteam b: y\n\nevents:\n  goal\n"
	alice.send(stomp.SEND, body, stomp.HeaderDestination, "/topic/game", stomp.HeaderReceipt, "s1")

	f := bob.expect(stomp.MESSAGE)
	assert.Equal(t, "b7", f.Headers.Value(stomp.HeaderSubscription))
	assert.Equal(t, body, string(f.Body), "bodies are delivered byte for byte")

	f = alice.expect(stomp.MESSAGE)
	assert.Equal(t, "a1", f.Headers.Value(stomp.HeaderSubscription))
	assert.Equal(t, body, string(f.Body))
	assert.Equal(t, "s1", alice.expect(stomp.RECEIPT).Headers.Value(stomp.HeaderReceiptID))

	carol.expectSilence()

	bob.send(stomp.SEND, "second", stomp.HeaderDestination, "/topic/game")
	assert.Equal(t, "2", bob.expect(stomp.MESSAGE).Headers.Value(stomp.HeaderMessageID))
	assert.Equal(t, "2", alice.expect(stomp.MESSAGE).Headers.Value(stomp.HeaderMessageID))
}

func TestServer_UnauthorizedSend(t *testing.T) {
	srv := startServer(t, testConfig())
	alice := dial(t, srv)
	alice.login("alice")
	bob := dial(t, srv)
	bob.login("bob")
	bob.subscribe("0", "/topic/t")

	alice.send(stomp.SEND, "hi", stomp.HeaderDestination, "/topic/t", stomp.HeaderReceipt, "r1")
	f := alice.expectError("user is not subscribed to destination")
	assert.Equal(t, "r1", f.Headers.Value(stomp.HeaderReceiptID))
	bob.expectSilence()

	// The connection stays open and no RECEIPT was produced for r1.
	alice.subscribe("0", "/topic/t")
	alice.send(stomp.SEND, "now", stomp.HeaderDestination, "/topic/t")
	assert.Equal(t, "now", string(alice.expect(stomp.MESSAGE).Body))
	assert.Equal(t, "now", string(bob.expect(stomp.MESSAGE).Body))
}

func TestServer_EmptyBody(t *testing.T) {
	srv := startServer(t, testConfig())
	c := dial(t, srv)
	c.login("alice")
	c.subscribe("0", "/topic/t")

	c.send(stomp.SEND, "", stomp.HeaderDestination, "/topic/t")
	c.expectError("empty message body")

	c.send(stomp.SEND, "after", stomp.HeaderDestination, "/topic/t")
	assert.Equal(t, "after", string(c.expect(stomp.MESSAGE).Body))
}

func TestServer_SubscribeUnsubscribeReceipts(t *testing.T) {
	srv := startServer(t, testConfig())
	c := dial(t, srv)
	c.login("alice")

	c.send(stomp.SUBSCRIBE, "", stomp.HeaderDestination, "/topic/t", stomp.HeaderID, "5", stomp.HeaderReceipt, "9")
	assert.Equal(t, "9", c.expect(stomp.RECEIPT).Headers.Value(stomp.HeaderReceiptID))
	assert.Equal(t, []string{"/topic/t"}, srv.subs.Destinations())

	c.send(stomp.UNSUBSCRIBE, "", stomp.HeaderID, "5", stomp.HeaderReceipt, "10")
	assert.Equal(t, "10", c.expect(stomp.RECEIPT).Headers.Value(stomp.HeaderReceiptID))
	assert.Empty(t, srv.subs.Destinations())

	c.send(stomp.UNSUBSCRIBE, "", stomp.HeaderID, "5")
	c.expectError("unknown subscription id")
	c.expectClosed()
}

func TestServer_DuplicateSubscriptionID(t *testing.T) {
	srv := startServer(t, testConfig())
	c := dial(t, srv)
	c.login("alice")
	c.subscribe("1", "/topic/a")

	c.send(stomp.SUBSCRIBE, "", stomp.HeaderDestination, "/topic/b", stomp.HeaderID, "1", stomp.HeaderReceipt, "x")
	f := c.expectError("subscription id already in use")
	assert.Equal(t, "x", f.Headers.Value(stomp.HeaderReceiptID))
	c.expectClosed()

	assert.Eventually(t, func() bool {
		_, active := srv.users.ActiveSession("alice")
		return !active && len(srv.subs.Destinations()) == 0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestServer_FatalProtocolErrors(t *testing.T) {
	tests := []struct {
		name    string
		login   bool
		raw     string
		message string
		echoed  bool
	}{
		{"missing header", true, "SUBSCRIBE\ndestination:/t\n\n\x00", "malformed frame received: missing header", true},
		{"unknown command", true, "FOO\n\n\x00", "unknown command", true},
		{"connect twice", true, "CONNECT\naccept-version:1.2\nhost:h\nlogin:x\npasscode:y\n\n\x00", "unexpected command", true},
		{"header without colon", true, "SEND\ndestination\n\nbody\x00", "malformed frame received", false},
		{"send before connect", false, "SEND\ndestination:/t\n\nhi\x00", "not connected", true},
		{"unknown command before connect", false, "HELLO\n\n\x00", "unknown command", true},
		{"connect without passcode", false, "CONNECT\naccept-version:1.2\nhost:h\nlogin:x\n\n\x00", "malformed frame received: missing header", true},
		{"bad version", false, "CONNECT\naccept-version:1.0\nhost:h\nlogin:x\npasscode:y\n\n\x00", "unsupported version", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := startServer(t, testConfig())
			c := dial(t, srv)
			if tt.login {
				c.login("alice")
			}
			c.writeRaw(tt.raw)
			f := c.expectError(tt.message)
			if tt.echoed {
				assert.Contains(t, string(f.Body), "The message:\n-----\n")
			}
			c.expectClosed()
		})
	}
}

func TestServer_WrongPassword(t *testing.T) {
	srv := startServer(t, testConfig())
	c := dial(t, srv)
	c.login("alice")
	c.send(stomp.DISCONNECT, "")
	c.expectClosed()

	c = dial(t, srv)
	f := c.connect("alice", "not-pw")
	require.Equal(t, stomp.ERROR, f.Command)
	assert.Equal(t, "wrong password", f.Headers.Value(stomp.HeaderMessage))
	c.expectClosed()
}

func TestServer_UnknownUserWithoutAutoRegister(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.AutoRegister = false
	srv := startServer(t, cfg)
	require.NoError(t, srv.users.Provision(context.Background(), "bob", "pw"))

	c := dial(t, srv)
	f := c.connect("mallory", "pw")
	require.Equal(t, stomp.ERROR, f.Command)
	c.expectClosed()

	dial(t, srv).login("bob")
}

func TestServer_KeepAlivePaddingAndCRLF(t *testing.T) {
	srv := startServer(t, testConfig())
	c := dial(t, srv)
	c.login("alice")

	c.writeRaw("\n\r\n")
	c.writeRaw("SUBSCRIBE\r\ndestination:/t\r\nid:0\r\nreceipt:r\r\n\r\n\x00\n")
	assert.Equal(t, "r", c.expect(stomp.RECEIPT).Headers.Value(stomp.HeaderReceiptID))

	// A frame split across writes is reassembled.
	c.writeRaw("SEND\ndestination:/t\n\nline1\r\n")
	time.Sleep(20 * time.Millisecond)
	c.writeRaw("line2\x00")
	assert.Equal(t, "line1\r\nline2", string(c.expect(stomp.MESSAGE).Body))
}

func TestServer_FrameTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.MaxFrameSize = 128
	srv := startServer(t, cfg)
	c := dial(t, srv)
	c.login("alice")
	c.subscribe("0", "/t")

	c.send(stomp.SEND, strings.Repeat("x", 200), stomp.HeaderDestination, "/t")
	c.expectError("malformed frame received")
	c.expectClosed()
}

func TestServer_ConnectTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ConnectTimeout = config.Duration(50 * time.Millisecond)
	srv := startServer(t, cfg)
	c := dial(t, srv)
	c.expectClosed()
}

func TestServer_IdleTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.IdleTimeout = config.Duration(100 * time.Millisecond)
	srv := startServer(t, cfg)
	c := dial(t, srv)
	c.login("alice")
	c.expectClosed()

	assert.Eventually(t, func() bool {
		_, active := srv.users.ActiveSession("alice")
		return !active
	}, 3*time.Second, 10*time.Millisecond)
}

func TestServer_PaddingKeepsIdleConnectionAlive(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.IdleTimeout = config.Duration(150 * time.Millisecond)
	srv := startServer(t, cfg)
	c := dial(t, srv)
	c.login("alice")

	for i := 0; i < 10; i++ {
		time.Sleep(50 * time.Millisecond)
		c.writeRaw("\n")
	}
	c.subscribe("0", "/t")

	c.expectClosed()
}

func TestServer_RateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.ConnectionsPerSecond = 0.001
	cfg.RateLimit.Burst = 1
	srv := startServer(t, cfg)

	dial(t, srv).login("alice")

	rejected := dial(t, srv)
	rejected.expectClosed()
}

func TestServer_Shutdown(t *testing.T) {
	cfg := testConfig()
	registry := users.NewRegistry(database.NewMemoryStore(), users.Options{AutoRegister: true, BcryptCost: bcrypt.MinCost})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := New(cfg, registry)
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	c := &testClient{t: t, conn: conn, parser: stomp.NewParser(conn, 0)}
	c.login("alice")
	c.subscribe("0", "/t")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.ErrorIs(t, <-served, ErrServerClosed)
	assert.NoError(t, srv.Shutdown(ctx), "shutdown is idempotent")

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, err = c.parser.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.Zero(t, srv.conns.Len())
	_, active := srv.users.ActiveSession("alice")
	assert.False(t, active)

	assert.ErrorIs(t, srv.Serve(ln), ErrServerClosed)
}

func TestServer_ShutdownWhileAccepting(t *testing.T) {
	cfg := testConfig()
	registry := users.NewRegistry(database.NewMemoryStore(), users.Options{AutoRegister: true, BcryptCost: bcrypt.MinCost})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := New(cfg, registry)
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()
	require.Eventually(t, func() bool { return srv.Addr() != nil }, time.Second, 5*time.Millisecond)

	stop := make(chan struct{})
	dialed := make(chan struct{})
	go func() {
		defer close(dialed)
		for {
			select {
			case <-stop:
				return
			default:
			}
			conn, err := net.Dial("tcp", ln.Addr().String())
			if err != nil {
				continue
			}
			_ = conn.Close()
		}
	}()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	close(stop)
	<-dialed

	select {
	case err := <-served:
		assert.ErrorIs(t, err, ErrServerClosed)
	case <-time.After(time.Second):
		t.Fatal("Serve still running after Shutdown returned")
	}
	assert.Zero(t, srv.conns.Len())
}
