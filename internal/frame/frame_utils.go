package frame

import (
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/stomp"
)

// requiredHeaders lists, per client command, the headers that must be present.
var requiredHeaders = map[stomp.Command][]string{
	stomp.CONNECT:     {stomp.HeaderAcceptVersion, stomp.HeaderHost, stomp.HeaderLogin, stomp.HeaderPasscode},
	stomp.STOMP:       {stomp.HeaderAcceptVersion, stomp.HeaderHost, stomp.HeaderLogin, stomp.HeaderPasscode},
	stomp.SEND:        {stomp.HeaderDestination},
	stomp.SUBSCRIBE:   {stomp.HeaderDestination, stomp.HeaderID},
	stomp.UNSUBSCRIBE: {stomp.HeaderID},
	stomp.DISCONNECT:  {},
}

// missingHeader returns the first required header absent from f.
func missingHeader(f stomp.Frame) (string, bool) {
	for _, name := range requiredHeaders[f.Command] {
		if !f.Headers.Has(name) {
			return name, true
		}
	}
	return "", false
}

// Validate checks that f is a client command with all required headers.
func Validate(f stomp.Frame) *ProtocolError {
	if !f.Command.FromClient() {
		return NewProtocolError(UnknownCommand, f, "command %q is not recognized", f.Command)
	}
	if name, missing := missingHeader(f); missing {
		return NewProtocolError(MissingHeader, f, "did not contain a %s header, which is REQUIRED for %s", name, f.Command)
	}
	return nil
}
