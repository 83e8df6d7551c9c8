package connection

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/logger"
)

// ConnectionManager indexes live connections by id.
type ConnectionManager struct {
	connections sync.Map
	count       atomic.Int64
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{}
}

func (cm *ConnectionManager) Add(conn *Connection) {
	if _, loaded := cm.connections.LoadOrStore(conn.ConnID, conn); !loaded {
		cm.count.Add(1)
		logger.InfoF("[%s] Client connected from %s", conn.ConnID, conn.Conn.RemoteAddr())
	}
}

func (cm *ConnectionManager) Remove(connID string) {
	if _, loaded := cm.connections.LoadAndDelete(connID); loaded {
		cm.count.Add(-1)
		logger.InfoF("[%s] Client disconnected", connID)
	}
}

func (cm *ConnectionManager) Get(connID string) (*Connection, bool) {
	if value, ok := cm.connections.Load(connID); ok {
		return value.(*Connection), true
	}
	return nil, false
}

// CloseAll closes every registered connection at once.
func (cm *ConnectionManager) CloseAll() {
	cm.connections.Range(func(_, value any) bool {
		value.(*Connection).Close()
		return true
	})
}

func (cm *ConnectionManager) Len() int {
	return int(cm.count.Load())
}

func IsNetClosedError(err error) bool {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var opErr *net.OpError
	ok := errors.As(err, &opErr)
	return ok && opErr.Timeout()
}

func HandleReadError(connID string, err error) {
	switch {
	case errors.Is(err, io.EOF):
		logger.InfoF("[%s] Client close connection", connID)
	case os.IsTimeout(err):
		logger.WarnF("[%s] Reading timeout", connID)
	case IsNetClosedError(err):
		logger.DebugF("[%s] Connection closed by server", connID)
	default:
		logger.ErrorF("[%s] Error occured while reading frame, details: %v", connID, err)
	}
}
