package signaling

import "encoding/json"

// Conn is one live client channel. Send must not block: implementations queue
// the message or fail fast.
type Conn interface {
	ID() string
	Send(msg Outbound) error
}

// Identity is the user a connection claims to be. It is trusted as presented.
type Identity struct {
	ID      string
	Profile json.RawMessage
}
