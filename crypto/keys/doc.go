// Package keys implements the public key cryptography used throughout the
// ledger.
//
// A validator owns a cryptographic key-pair that it uses to sign and verify
// transactions and gossip messages. The private key is secret; the public key
// reaches other peers through the public-key sync exchange and as the account
// keys of transaction inputs and outputs, so that they can verify signatures.
//
// The ledger uses elliptic curve cryptography (ECDSA) with the secp256k1
// curve, the same curve used by Bitcoin and Ethereum, which means keys from
// those ecosystems could operate a node here without conversion.
package keys
