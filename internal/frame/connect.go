package frame

import (
	"strings"

	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/stomp"
)

// ConnectRequest is a validated CONNECT or STOMP frame.
type ConnectRequest struct {
	AcceptVersions []string
	Host           string
	Login          string
	Passcode       string
	Receipt        string
}

// ParseConnect validates f as a CONNECT frame.
func ParseConnect(f stomp.Frame) (ConnectRequest, *ProtocolError) {
	if f.Command != stomp.CONNECT && f.Command != stomp.STOMP {
		return ConnectRequest{}, NewProtocolError(NotConnected, f, "expected %s, got %s", stomp.CONNECT, f.Command)
	}
	if perr := Validate(f); perr != nil {
		return ConnectRequest{}, perr
	}
	req := ConnectRequest{
		Host:     f.Headers.Value(stomp.HeaderHost),
		Login:    f.Headers.Value(stomp.HeaderLogin),
		Passcode: f.Headers.Value(stomp.HeaderPasscode),
		Receipt:  f.Headers.Value(stomp.HeaderReceipt),
	}
	for _, v := range strings.Split(f.Headers.Value(stomp.HeaderAcceptVersion), ",") {
		if v = strings.TrimSpace(v); v != "" {
			req.AcceptVersions = append(req.AcceptVersions, v)
		}
	}
	if req.Login == "" {
		return ConnectRequest{}, NewProtocolError(MissingHeader, f, "the %s header is empty", stomp.HeaderLogin)
	}
	return req, nil
}

// NegotiateVersion picks the highest supported version the client accepts.
// supported is ordered from most to least preferred.
func NegotiateVersion(req ConnectRequest, supported []string) (string, bool) {
	for _, s := range supported {
		for _, a := range req.AcceptVersions {
			if s == a {
				return s, true
			}
		}
	}
	return "", false
}

// NewConnectedFrame answers a successful CONNECT.
func NewConnectedFrame(version, session, server string) stomp.Frame {
	f := stomp.NewFrame(stomp.CONNECTED, nil, stomp.HeaderVersion, version)
	if session != "" {
		f.Headers.Add(stomp.HeaderSession, session)
	}
	if server != "" {
		f.Headers.Add(stomp.HeaderServer, server)
	}
	return f
}
