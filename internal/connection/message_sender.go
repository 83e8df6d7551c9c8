package connection

import (
	"fmt"

	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/frame"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/stomp"
)

// MessageSender delivers frames to connections by id.
type MessageSender interface {
	SendFrame(connID string, f stomp.Frame) error
	// SendMessage delivers a MESSAGE frame stamped with the receiving
	// connection's next message id.
	SendMessage(connID, subscriptionID, destination string, body []byte) error
}

type DefaultMessageSender struct {
	manager *ConnectionManager
}

func NewMessageSender(manager *ConnectionManager) MessageSender {
	return &DefaultMessageSender{manager: manager}
}

func (s *DefaultMessageSender) SendFrame(connID string, f stomp.Frame) error {
	conn, ok := s.manager.Get(connID)
	if !ok {
		return fmt.Errorf("connection %s: %w", connID, ErrClosed)
	}
	return conn.Enqueue(f)
}

func (s *DefaultMessageSender) SendMessage(connID, subscriptionID, destination string, body []byte) error {
	conn, ok := s.manager.Get(connID)
	if !ok {
		return fmt.Errorf("connection %s: %w", connID, ErrClosed)
	}
	return conn.Enqueue(frame.NewMessageFrame(subscriptionID, conn.NextMessageID(), destination, body))
}
