package crypto

import (
	"crypto/ecdsa"
	"encoding/pem"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/tangleward/tangle/crypto/keys"
)

const pemKeyPath = "priv_key.pem"

// PemKey reads and writes a validator's private key to a PEM file in a data
// directory, guarding concurrent access with a mutex the way the rest of the
// key-reader/writer types in this module do.
type PemKey struct {
	l    sync.Mutex
	path string
}

// NewPemKey returns a PemKey rooted at base/priv_key.pem.
func NewPemKey(base string) *PemKey {
	return &PemKey{path: filepath.Join(base, pemKeyPath)}
}

// ReadKey reads and decodes the private key from disk.
func (k *PemKey) ReadKey() (*ecdsa.PrivateKey, error) {
	k.l.Lock()
	defer k.l.Unlock()

	buf, err := os.ReadFile(k.path)
	if err != nil {
		return nil, err
	}

	return k.readKeyFromBuf(buf)
}

func (k *PemKey) readKeyFromBuf(buf []byte) (*ecdsa.PrivateKey, error) {
	if len(buf) == 0 {
		return nil, nil
	}

	block, _ := pem.Decode(buf)
	if block == nil {
		return nil, fmt.Errorf("error decoding PEM block from data")
	}

	return keys.ParsePrivateKey(block.Bytes)
}

// WriteKey PEM-encodes and writes the private key to disk.
func (k *PemKey) WriteKey(key *ecdsa.PrivateKey) error {
	k.l.Lock()
	defer k.l.Unlock()

	dump, err := ToPemKey(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(path.Dir(k.path), 0700); err != nil {
		return err
	}

	return os.WriteFile(k.path, []byte(dump.PrivateKey), 0600)
}

// PemDump carries the two halves of a keypair in their exported string forms.
type PemDump struct {
	PublicKey  string
	PrivateKey string
}

// GeneratePemKey generates a fresh ECDSA key and returns its PEM dump.
func GeneratePemKey() (*PemDump, error) {
	key, err := keys.GenerateECDSAKey()
	if err != nil {
		return nil, err
	}
	return ToPemKey(key)
}

// ToPemKey PEM-encodes priv's raw D value (keys.DumpPrivateKey) and
// base64-encodes its public half.
func ToPemKey(priv *ecdsa.PrivateKey) (*PemDump, error) {
	pub := keys.PublicKeyHex(&priv.PublicKey)

	block := &pem.Block{Type: "EC PRIVATE KEY", Bytes: keys.DumpPrivateKey(priv)}

	return &PemDump{
		PublicKey:  pub,
		PrivateKey: string(pem.EncodeToMemory(block)),
	}, nil
}
