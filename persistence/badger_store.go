package persistence

import (
	"bytes"
	"os"

	"github.com/dgraph-io/badger"

	"github.com/tangleward/tangle/tangle"
)

// snapshotKey is the single key a BadgerSnapshotStore keeps its latest
// gzip-encoded tangle snapshot under. Unlike a store that indexes many
// small records for incremental replay, this ledger's on-disk format is
// always a single whole-tangle stream, so a durable KV backing only ever
// needs to hold one value.
const snapshotKey = "tangle_snapshot"

// BadgerSnapshotStore is the durable alternative to a plain gzip file:
// SaveTangle's stream is written under one key of a badger database instead
// of a file, giving the same format an ACID-committed home. Grounded on
// `hashgraph/badger_store.go`'s `NewBadgerStore`/`LoadBadgerStore` (open a
// database rooted at a directory, keep the handle, close it on Shutdown).
type BadgerSnapshotStore struct {
	db   *badger.DB
	path string
}

// NewBadgerSnapshotStore opens (creating if necessary) a badger database
// rooted at path.
func NewBadgerSnapshotStore(path string) (*BadgerSnapshotStore, error) {
	opts := badger.DefaultOptions(path)
	opts.SyncWrites = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &BadgerSnapshotStore{db: db, path: path}, nil
}

// LoadBadgerSnapshotStore opens an existing database at path, failing if it
// does not exist.
func LoadBadgerSnapshotStore(path string) (*BadgerSnapshotStore, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return NewBadgerSnapshotStore(path)
}

// Save writes t's current SaveTangle stream into the database, replacing
// any previous snapshot.
func (s *BadgerSnapshotStore) Save(t *tangle.Tangle) error {
	var buf bytes.Buffer
	if err := SaveTangle(t, &buf); err != nil {
		return err
	}

	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	if err := tx.Set([]byte(snapshotKey), buf.Bytes()); err != nil {
		return err
	}
	return tx.Commit()
}

// Load reads back the most recent snapshot and dispatches it through
// dispatcher, the same self-dispatch path LoadTangle uses for a plain file.
// A store that has never been saved to yields no error and dispatches
// nothing.
func (s *BadgerSnapshotStore) Load(dispatcher Dispatcher) error {
	var data []byte

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(snapshotKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte(nil), val...)
			return nil
		})
	})
	if isKeyNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	return LoadTangle(bytes.NewReader(data), int64(len(data)), dispatcher)
}

func isKeyNotFound(err error) bool {
	return err != nil && err.Error() == badger.ErrKeyNotFound.Error()
}

// Close releases the underlying database handle.
func (s *BadgerSnapshotStore) Close() error {
	return s.db.Close()
}

// Path returns the directory the store was opened against.
func (s *BadgerSnapshotStore) Path() string {
	return s.path
}
