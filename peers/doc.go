// Package peers maps peer identities to verified public keys.
//
// A peer's identity on the bus - however the transport names it - is not by
// itself trustworthy; a Directory only records a peer's public key once that
// peer has proven ownership of it (PublicKeySyncResponse's signed "VERIFY"
// message, handled in the gossip package). The local node's own identity,
// personal_keys, is the one entry whose private half the process holds.
package peers
