// Package stomp implements the STOMP frame codec used by the broker.
package stomp

// Command is the first line of a STOMP frame.
type Command string

// Client and server commands understood by the broker.
const (
	CONNECT     Command = "CONNECT"
	STOMP       Command = "STOMP"
	CONNECTED   Command = "CONNECTED"
	SEND        Command = "SEND"
	SUBSCRIBE   Command = "SUBSCRIBE"
	UNSUBSCRIBE Command = "UNSUBSCRIBE"
	DISCONNECT  Command = "DISCONNECT"
	MESSAGE     Command = "MESSAGE"
	RECEIPT     Command = "RECEIPT"
	ERROR       Command = "ERROR"
)

// commandKinds tells whether a known command is sent by clients or by the server.
var commandKinds = map[Command]bool{
	CONNECT:     true,
	STOMP:       true,
	SEND:        true,
	SUBSCRIBE:   true,
	UNSUBSCRIBE: true,
	DISCONNECT:  true,
	CONNECTED:   false,
	MESSAGE:     false,
	RECEIPT:     false,
	ERROR:       false,
}

// String returns the wire form of the command.
func (c Command) String() string {
	return string(c)
}

// Known reports whether c is part of the protocol at all.
func (c Command) Known() bool {
	_, ok := commandKinds[c]
	return ok
}

// FromClient reports whether c is a command a client may send.
func (c Command) FromClient() bool {
	return commandKinds[c]
}

// Header names used by the broker.
const (
	HeaderAcceptVersion = "accept-version"
	HeaderDestination   = "destination"
	HeaderHost          = "host"
	HeaderID            = "id"
	HeaderLogin         = "login"
	HeaderMessage       = "message"
	HeaderMessageID     = "message-id"
	HeaderPasscode      = "passcode"
	HeaderReceipt       = "receipt"
	HeaderReceiptID     = "receipt-id"
	HeaderServer        = "server"
	HeaderSession       = "session"
	HeaderSubscription  = "subscription"
	HeaderVersion       = "version"
)

// Terminator ends every frame on the wire.
const Terminator byte = 0x00
