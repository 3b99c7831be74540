package keys

import (
	"crypto/ecdsa"
)

// verificationMessage is signed by a KeyPair's own private key during
// Validate(), proving to the local process that the private and public
// halves actually correspond.
const verificationMessage = "VALIDATION"

// KeyPair wraps an ecdsa key-pair. It is shared by reference among every
// holder within the local process (a *KeyPair is handed out, never copied): the
// private half never leaves the process, and no other peer ever receives
// more than the Public() half.
type KeyPair struct {
	Private *ecdsa.PrivateKey
}

// NewKeyPair wraps an existing ecdsa.PrivateKey.
func NewKeyPair(priv *ecdsa.PrivateKey) *KeyPair {
	return &KeyPair{Private: priv}
}

// GenerateKeyPair creates a fresh KeyPair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := GenerateECDSAKey()
	if err != nil {
		return nil, err
	}
	return NewKeyPair(priv), nil
}

// Public returns the public half of the pair.
func (kp *KeyPair) Public() *ecdsa.PublicKey {
	if kp == nil || kp.Private == nil {
		return nil
	}
	return &kp.Private.PublicKey
}

// PublicHex returns the base64-encoded public half, used as the wire and
// map-key representation of a PublicKey throughout the ledger.
func (kp *KeyPair) PublicHex() string {
	return PublicKeyHex(kp.Public())
}

// Valid reports whether signing with Private and verifying with Public
// round-trips, i.e. verify(pub, sign(priv, "VALIDATION")) == true.
func (kp *KeyPair) Valid() bool {
	if kp == nil || kp.Private == nil {
		return false
	}

	r, s, err := Sign(kp.Private, []byte(verificationMessage))
	if err != nil {
		return false
	}

	return Verify(kp.Public(), []byte(verificationMessage), r, s)
}
