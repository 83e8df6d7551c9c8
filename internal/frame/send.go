package frame

import (
	"strconv"

	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/stomp"
)

// SendRequest is a validated SEND frame.
type SendRequest struct {
	Destination string
	Receipt     string
	Body        []byte
}

// ParseSend validates f as a SEND frame. An empty body is reported as
// EmptyBody, which does not close the connection.
func ParseSend(f stomp.Frame) (SendRequest, *ProtocolError) {
	if perr := Validate(f); perr != nil {
		return SendRequest{}, perr
	}
	req := SendRequest{
		Destination: f.Headers.Value(stomp.HeaderDestination),
		Receipt:     f.Headers.Value(stomp.HeaderReceipt),
		Body:        f.Body,
	}
	if req.Destination == "" {
		return SendRequest{}, NewProtocolError(MissingHeader, f, "the %s header is empty", stomp.HeaderDestination)
	}
	if len(req.Body) == 0 {
		return SendRequest{}, NewProtocolError(EmptyBody, f, "nothing to send to %s", req.Destination)
	}
	return req, nil
}

// NewMessageFrame builds the MESSAGE delivered to one subscriber. The body is
// shared, not copied; frames are never mutated after they are built.
func NewMessageFrame(subscriptionID string, messageID uint64, destination string, body []byte) stomp.Frame {
	return stomp.NewFrame(stomp.MESSAGE, body,
		stomp.HeaderSubscription, subscriptionID,
		stomp.HeaderMessageID, strconv.FormatUint(messageID, 10),
		stomp.HeaderDestination, destination,
	)
}

// DisconnectRequest is a validated DISCONNECT frame.
type DisconnectRequest struct {
	Receipt string
}

// ParseDisconnect validates f as a DISCONNECT frame.
func ParseDisconnect(f stomp.Frame) (DisconnectRequest, *ProtocolError) {
	if perr := Validate(f); perr != nil {
		return DisconnectRequest{}, perr
	}
	return DisconnectRequest{Receipt: f.Headers.Value(stomp.HeaderReceipt)}, nil
}
