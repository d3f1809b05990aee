// Package peer describes a single participant in the overlay: its
// identifier, network address, and reserved public-key slot. It mirrors
// the role of skademlia.peer.ID in the teacher codebase, generalized from a
// variable-length hash to the fixed 256-bit NodeID space.
package peer

import (
	"fmt"
	"net"
	"time"

	"github.com/razor7877/kademliatransfer/nodeid"
)

// PublicKeySize is the width of the reserved, currently-unused public-key
// slot carried on every wire Peer record.
const PublicKeySize = 32

// Peer is a participant in the overlay network.
type Peer struct {
	ID        nodeid.ID
	Addr      *net.TCPAddr
	LastSeen  time.Time
	PublicKey [PublicKeySize]byte
}

// New builds a Peer record observed at the current time.
func New(id nodeid.ID, addr *net.TCPAddr, publicKey [PublicKeySize]byte) Peer {
	return Peer{
		ID:        id,
		Addr:      addr,
		LastSeen:  time.Now(),
		PublicKey: publicKey,
	}
}

// Equal compares peers by identifier only, per spec: "Peer equality is by
// id."
func (p Peer) Equal(other Peer) bool {
	return p.ID.Equal(other.ID)
}

// Less orders peers by identifier, used to break ties deterministically in
// sorted candidate lists.
func (p Peer) Less(other Peer) bool {
	return nodeid.Less(p.ID, other.ID)
}

// String renders a peer for logs and error messages.
func (p Peer) String() string {
	addr := "<nil>"
	if p.Addr != nil {
		addr = p.Addr.String()
	}
	return fmt.Sprintf("Peer{id=%s, addr=%s}", p.ID, addr)
}
