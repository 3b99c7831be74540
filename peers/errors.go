package peers

import (
	"fmt"

	"github.com/tangleward/tangle/crypto"
)

// ErrType enumerates Directory's failure modes.
type ErrType uint32

const (
	// InvalidAccount means FindAccount found no key hashing to the given
	// value.
	InvalidAccount ErrType = iota
)

// Error is the typed error Directory operations return on failure.
type Error struct {
	Type ErrType
	Hash crypto.Hash
}

func (e *Error) Error() string {
	switch e.Type {
	case InvalidAccount:
		return fmt.Sprintf("no known account for hash %s", e.Hash)
	default:
		return "peers error"
	}
}
