package peers

import (
	"crypto/ecdsa"
	"sync"

	"github.com/tangleward/tangle/crypto"
	"github.com/tangleward/tangle/crypto/keys"
)

// ID identifies a peer as the broadcast bus names it. The core treats it as
// opaque; the bus implementation decides what it actually is (an address, a
// connection handle, a UUID).
type ID string

// Directory holds one peer's own identity and the public keys it has
// verified for every other peer it has heard from. It has no notion of
// consensus membership or trust weighting; it is purely a
// verified-identity → key lookup, built lazily as PublicKeySyncResponses
// arrive.
type Directory struct {
	mu           sync.RWMutex
	personalKeys *keys.KeyPair
	selfID       ID
	peerKeys     map[ID]*ecdsa.PublicKey
}

// NewDirectory creates an empty Directory.
func NewDirectory() *Directory {
	return &Directory{peerKeys: make(map[ID]*ecdsa.PublicKey)}
}

// SetKeyPair installs this peer's own identity, recording selfID → pair.pub
// in the same table used for remote peers. It sends nothing over the
// network, and no caller broadcasts the new key afterwards: other peers
// learn it only by sending a PublicKeySyncRequest, which the gossip package
// answers. This keeps this package free of any dependency on the bus.
func (d *Directory) SetKeyPair(pair *keys.KeyPair, selfID ID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.personalKeys = pair
	d.selfID = selfID
	d.peerKeys[selfID] = pair.Public()
}

// PersonalKeys returns this peer's own key pair, or nil if none has been
// installed yet.
func (d *Directory) PersonalKeys() *keys.KeyPair {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.personalKeys
}

// SelfID returns the identity SetKeyPair was last called with.
func (d *Directory) SelfID() ID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.selfID
}

// SetPeerKey records a verified public key for a remote peer.
func (d *Directory) SetPeerKey(id ID, pub *ecdsa.PublicKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.peerKeys[id] = pub
}

// PeerKey looks up a previously verified peer key.
func (d *Directory) PeerKey(id ID) (*ecdsa.PublicKey, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	pub, ok := d.peerKeys[id]
	return pub, ok
}

// KnownPeerCount is the number of entries in the directory, including the
// local identity once SetKeyPair has been called.
func (d *Directory) KnownPeerCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.peerKeys)
}

// Snapshot returns a copy of every known peer ID paired with its key.
func (d *Directory) Snapshot() map[ID]*ecdsa.PublicKey {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[ID]*ecdsa.PublicKey, len(d.peerKeys))
	for id, pub := range d.peerKeys {
		out[id] = pub
	}
	return out
}

// FindAccount scans known peer keys for one whose serialized form hashes to
// hash, the account-lookup contract callers use to resolve a Hash back to
// the PublicKey it names.
func (d *Directory) FindAccount(hash crypto.Hash) (*ecdsa.PublicKey, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, pub := range d.peerKeys {
		if crypto.SumHash256(keys.FromPublicKey(pub)) == hash {
			return pub, nil
		}
	}
	return nil, &Error{Type: InvalidAccount, Hash: hash}
}
