package peers

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/tangleward/tangle/common"
	"github.com/tangleward/tangle/crypto/keys"
)

const jsonDirectoryPath = "peers.json"

// persistedPeer is the on-disk shape of one Directory entry: an ID plus the
// base64-encoded uncompressed public key, human-editable like the teacher's
// own peers.json.
type persistedPeer struct {
	ID        string `json:"id"`
	PublicKey string `json:"public_key"`
}

// JSONDirectoryStore persists a Directory's peer table to a JSON file so an
// operator can inspect or seed it by hand.
type JSONDirectoryStore struct {
	l    sync.Mutex
	path string
}

// NewJSONDirectoryStore creates a store rooted at base/peers.json.
func NewJSONDirectoryStore(base string) *JSONDirectoryStore {
	return &JSONDirectoryStore{path: filepath.Join(base, jsonDirectoryPath)}
}

// Load reads the peer table into dir, skipping the local identity (SetKeyPair
// installs that separately).
func (s *JSONDirectoryStore) Load(dir *Directory) error {
	s.l.Lock()
	defer s.l.Unlock()

	buf, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	if len(buf) == 0 {
		return nil
	}

	var entries []persistedPeer
	dec := json.NewDecoder(bytes.NewReader(buf))
	if err := dec.Decode(&entries); err != nil {
		return err
	}

	selfID := dir.SelfID()
	for _, e := range entries {
		if ID(e.ID) == selfID && dir.PersonalKeys() != nil {
			continue
		}
		raw, err := common.DecodeFromString(e.PublicKey)
		if err != nil {
			return err
		}
		dir.SetPeerKey(ID(e.ID), keys.ToPublicKey(raw))
	}
	return nil
}

// Save writes dir's current peer table to the JSON file, overwriting it.
func (s *JSONDirectoryStore) Save(dir *Directory) error {
	s.l.Lock()
	defer s.l.Unlock()

	snapshot := dir.Snapshot()
	entries := make([]persistedPeer, 0, len(snapshot))
	for id, pub := range snapshot {
		entries = append(entries, persistedPeer{ID: string(id), PublicKey: publicKeyBase64(pub)})
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return err
	}

	return os.WriteFile(s.path, buf.Bytes(), 0644)
}

func publicKeyBase64(pub *ecdsa.PublicKey) string {
	return keys.PublicKeyHex(pub)
}
