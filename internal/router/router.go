// Package router fans published messages out to a destination's subscribers.
package router

import (
	"errors"

	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/connection"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/logger"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/subscription"
)

var ErrNotSubscribed = errors.New("sender is not subscribed to destination")

type Router struct {
	subs   *subscription.Registry
	sender connection.MessageSender
}

func New(subs *subscription.Registry, sender connection.MessageSender) *Router {
	return &Router{subs: subs, sender: sender}
}

// Publish delivers body to every current subscriber of destination,
// including the sender, in subscription order. The sender must hold an open
// subscription to destination. Delivery only enqueues; a subscriber that
// cannot take the message is skipped without affecting the others.
func (r *Router) Publish(connID, destination string, body []byte) (delivered int, err error) {
	subscribers, ok := r.subs.Route(connID, destination)
	if !ok {
		return 0, ErrNotSubscribed
	}
	for _, sub := range subscribers {
		if err := r.sender.SendMessage(sub.ConnID, sub.SubscriptionID, destination, body); err != nil {
			logger.WarnF("[%s] Message to %s not delivered: %v", sub.ConnID, destination, err)
			continue
		}
		delivered++
	}
	logger.DebugF("[%s] Published %d bytes to %s, delivered to %d of %d subscribers",
		connID, len(body), destination, delivered, len(subscribers))
	return delivered, nil
}
