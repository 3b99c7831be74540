package peers

import (
	"os"
	"testing"

	"github.com/tangleward/tangle/crypto"
	"github.com/tangleward/tangle/crypto/keys"
)

func TestSetKeyPairRegistersSelf(t *testing.T) {
	kp, err := keys.GenerateKeyPair()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	dir := NewDirectory()
	dir.SetKeyPair(kp, "self")

	pub, ok := dir.PeerKey("self")
	if !ok {
		t.Fatalf("expected self to be registered as a peer key")
	}
	if pub.X.Cmp(kp.Public().X) != 0 || pub.Y.Cmp(kp.Public().Y) != 0 {
		t.Fatalf("registered key does not match the pair's public key")
	}
}

func TestFindAccountResolvesByHash(t *testing.T) {
	kp, err := keys.GenerateKeyPair()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	dir := NewDirectory()
	dir.SetPeerKey("peer-1", kp.Public())

	hash := crypto.SumHash256(keys.FromPublicKey(kp.Public()))

	found, err := dir.FindAccount(hash)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found.X.Cmp(kp.Public().X) != 0 {
		t.Fatalf("resolved wrong account")
	}
}

func TestFindAccountRejectsUnknownHash(t *testing.T) {
	dir := NewDirectory()
	_, err := dir.FindAccount(crypto.Hash("nonexistent"))
	if err == nil {
		t.Fatalf("expected an error for an unknown account hash")
	}
	if perr, ok := err.(*Error); !ok || perr.Type != InvalidAccount {
		t.Fatalf("expected InvalidAccount error, got %v", err)
	}
}

func TestJSONDirectoryStoreRoundTrip(t *testing.T) {
	kp, err := keys.GenerateKeyPair()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	dir := os.TempDir()
	base, err := os.MkdirTemp(dir, "tangle-peers")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer os.RemoveAll(base)

	store := NewJSONDirectoryStore(base)

	original := NewDirectory()
	original.SetPeerKey("peer-1", kp.Public())

	if err := store.Save(original); err != nil {
		t.Fatalf("save err: %v", err)
	}

	loaded := NewDirectory()
	if err := store.Load(loaded); err != nil {
		t.Fatalf("load err: %v", err)
	}

	pub, ok := loaded.PeerKey("peer-1")
	if !ok {
		t.Fatalf("expected loaded directory to contain peer-1")
	}
	if pub.X.Cmp(kp.Public().X) != 0 {
		t.Fatalf("loaded key does not match saved key")
	}
}
