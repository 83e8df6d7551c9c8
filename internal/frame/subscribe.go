package frame

import (
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/stomp"
)

// SubscribeRequest is a validated SUBSCRIBE frame.
type SubscribeRequest struct {
	Destination string
	ID          string
	Receipt     string
}

// ParseSubscribe validates f as a SUBSCRIBE frame.
func ParseSubscribe(f stomp.Frame) (SubscribeRequest, *ProtocolError) {
	if perr := Validate(f); perr != nil {
		return SubscribeRequest{}, perr
	}
	req := SubscribeRequest{
		Destination: f.Headers.Value(stomp.HeaderDestination),
		ID:          f.Headers.Value(stomp.HeaderID),
		Receipt:     f.Headers.Value(stomp.HeaderReceipt),
	}
	if req.Destination == "" {
		return SubscribeRequest{}, NewProtocolError(MissingHeader, f, "the %s header is empty", stomp.HeaderDestination)
	}
	return req, nil
}

// UnsubscribeRequest is a validated UNSUBSCRIBE frame.
type UnsubscribeRequest struct {
	ID      string
	Receipt string
}

// ParseUnsubscribe validates f as an UNSUBSCRIBE frame.
func ParseUnsubscribe(f stomp.Frame) (UnsubscribeRequest, *ProtocolError) {
	if perr := Validate(f); perr != nil {
		return UnsubscribeRequest{}, perr
	}
	return UnsubscribeRequest{
		ID:      f.Headers.Value(stomp.HeaderID),
		Receipt: f.Headers.Value(stomp.HeaderReceipt),
	}, nil
}
