package apns

import (
	"encoding/hex"
	"fmt"
)

// Notification is one outbound message for the gateway.
// Token and Payload are opaque bytes, serialization of the payload is up to
// the caller. Expiry is unix seconds, 0 means "do not store".
//
// The wire identifier is assigned by the client once, at first transmission,
// and survives requeue/replay. Everything else is immutable after submit.
type Notification struct {
	Token   []byte
	Payload []byte
	Expiry  uint32

	identifier uint32
	assigned   bool
}

// Identifier returns the wire identifier and whether it has been assigned yet.
func (n *Notification) Identifier() (uint32, bool) { return n.identifier, n.assigned }

func (n *Notification) assign(id uint32) {
	if !n.assigned {
		n.identifier = id
		n.assigned = true
	}
}

func (n *Notification) String() string {
	id := "-"
	if n.assigned {
		id = fmt.Sprintf("%d", n.identifier)
	}
	return fmt.Sprintf("(id=%s token=%s payload=(%d)%s expiry=%d)",
		id, hex.EncodeToString(n.Token), len(n.Payload), n.Payload, n.Expiry)
}
