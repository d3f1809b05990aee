// Package identity manages a node's signing keypair and derives its
// NodeID from it. It plays the role of skademlia.IdentityAdapter in the
// teacher codebase, minus the S/Kademlia static/dynamic cryptopuzzle
// (out of scope: this specification has no Sybil-resistance requirement),
// and swaps the teacher's internal crypto wrapper packages for the two
// real libraries that cover the same ground: golang.org/x/crypto/ed25519
// for signing and github.com/minio/blake2b-simd for the node ID hash.
package identity

import (
	"crypto/rand"

	"github.com/minio/blake2b-simd"
	"github.com/pkg/errors"
	"golang.org/x/crypto/ed25519"

	"github.com/razor7877/kademliatransfer/nodeid"
)

// KeyPair holds a node's ed25519 signing keypair and the NodeID derived
// from its public half.
type KeyPair struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
	nodeID     nodeid.ID
}

// Generate creates a fresh random keypair and derives its NodeID.
func Generate() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "identity: failed to generate keypair")
	}
	return FromKeyPair(pub, priv), nil
}

// FromKeyPair wraps an existing keypair, deriving its NodeID. Used when a
// node's identity is persisted and reloaded across process lifetimes by
// the caller (this package itself has no persistence, per spec.md's
// "no persistence across restart" non-goal).
func FromKeyPair(pub ed25519.PublicKey, priv ed25519.PrivateKey) *KeyPair {
	sum := blake2b.Sum256(pub)
	return &KeyPair{
		PublicKey:  pub,
		PrivateKey: priv,
		nodeID:     nodeid.New(sum[:]),
	}
}

// NodeID returns the blake2b-256 digest of the public key, used as the
// node's routing identifier.
func (kp *KeyPair) NodeID() nodeid.ID {
	return kp.nodeID
}

// PublicKeyArray returns the public key copied into the fixed-size array
// shape carried on the wire Peer record.
func (kp *KeyPair) PublicKeyArray() [32]byte {
	var out [32]byte
	copy(out[:], kp.PublicKey)
	return out
}

// Sign signs data with the keypair's private key.
func (kp *KeyPair) Sign(data []byte) []byte {
	return ed25519.Sign(kp.PrivateKey, data)
}

// Verify reports whether signature is a valid ed25519 signature of data
// under publicKey.
func Verify(publicKey ed25519.PublicKey, data, signature []byte) bool {
	return ed25519.Verify(publicKey, data, signature)
}
