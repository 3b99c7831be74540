// Package config defines the configuration for a tangle peer.
//
// A peer's Config points at a data directory holding a few files:
//
//	priv_key.pem  // the peer's PEM-encoded private key (cf. the keygen command).
//	peers.json    // the peer directory: known identities and their verified keys.
//	tangle.snapshot // the flat gzip snapshot, when Store is false.
//	badger_db/    // the durable snapshot database, when Store is true.
package config
