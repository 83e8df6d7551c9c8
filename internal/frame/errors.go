package frame

import (
	"bytes"
	"fmt"

	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/stomp"
)

// ErrorKind classifies a failed request.
type ErrorKind byte

const (
	UnsupportedVersion ErrorKind = iota + 1
	BadCredentials
	AlreadyLoggedIn
	MissingHeader
	UnknownCommand
	DuplicateSubscriptionID
	UnknownSubscriptionID
	UnauthorizedSend
	EmptyBody
	NotConnected
	UnexpectedCommand
	MalformedFrame
)

type errorKindInfo struct {
	name    string
	message string
	fatal   bool
}

var errorKinds = map[ErrorKind]errorKindInfo{
	UnsupportedVersion:      {"unsupported-version", "unsupported version", true},
	BadCredentials:          {"bad-credentials", "wrong password", true},
	AlreadyLoggedIn:         {"already-logged-in", "user already logged in", true},
	MissingHeader:           {"missing-header", "malformed frame received: missing header", true},
	UnknownCommand:          {"unknown-command", "unknown command", true},
	DuplicateSubscriptionID: {"duplicate-subscription-id", "subscription id already in use", true},
	UnknownSubscriptionID:   {"unknown-subscription-id", "unknown subscription id", true},
	UnauthorizedSend:        {"unauthorized-send", "user is not subscribed to destination", false},
	EmptyBody:               {"empty-body", "empty message body", false},
	NotConnected:            {"not-connected", "not connected", true},
	UnexpectedCommand:       {"unexpected-command", "unexpected command", true},
	MalformedFrame:          {"malformed-frame", "malformed frame received", true},
}

// String returns the kind's stable name, e.g. "unauthorized-send".
func (k ErrorKind) String() string {
	if info, ok := errorKinds[k]; ok {
		return info.name
	}
	return fmt.Sprintf("error-kind(%d)", byte(k))
}

// Message is the short text put in the ERROR frame's message header.
func (k ErrorKind) Message() string {
	return errorKinds[k].message
}

// Fatal reports whether the connection is closed after reporting k.
// Policy violations leave the connection open so the client may retry.
func (k ErrorKind) Fatal() bool {
	info, ok := errorKinds[k]
	return !ok || info.fatal
}

// ProtocolError is a request failure reported to the client as an ERROR frame.
type ProtocolError struct {
	Kind    ErrorKind
	Detail  string
	Request stomp.Frame
}

// NewProtocolError builds a ProtocolError with a formatted detail.
func NewProtocolError(kind ErrorKind, request stomp.Frame, format string, args ...any) *ProtocolError {
	return &ProtocolError{
		Kind:    kind,
		Detail:  fmt.Sprintf(format, args...),
		Request: request,
	}
}

func (e *ProtocolError) Error() string {
	if e.Detail == "" {
		return e.Kind.Message()
	}
	return e.Kind.Message() + ": " + e.Detail
}

// Fatal reports whether the connection must close once the error is flushed.
func (e *ProtocolError) Fatal() bool {
	return e.Kind.Fatal()
}

// NewErrorFrame builds the ERROR frame describing err.
//
// The body holds the detail and, when known, the offending frame between
// dashed lines. A receipt requested by the failed frame is echoed in a
// receipt-id header; no RECEIPT frame is ever produced for a failure.
func NewErrorFrame(err *ProtocolError) stomp.Frame {
	f := stomp.Frame{Command: stomp.ERROR}
	if receipt, ok := err.Request.Header(stomp.HeaderReceipt); ok {
		f.Headers.Add(stomp.HeaderReceiptID, receipt)
	}
	f.Headers.Add(stomp.HeaderMessage, err.Kind.Message())

	var body bytes.Buffer
	body.WriteString(err.Error())
	body.WriteByte('\n')
	if err.Request.Command != "" {
		body.WriteString("The message:\n-----\n")
		body.Write(requestText(err.Request))
		body.WriteString("\n-----\n")
	}
	f.Body = body.Bytes()
	return f
}

// requestText is the encoded request without its terminator.
func requestText(request stomp.Frame) []byte {
	wire := request.Bytes()
	return wire[:len(wire)-1]
}
