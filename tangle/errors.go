package tangle

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/tangleward/tangle/crypto"
	"github.com/tangleward/tangle/crypto/keys"
)

// ErrType enumerates the failure modes a Tangle's structural operations can
// raise, mirroring the fixed taxonomy the gossip layer switches on.
type ErrType uint32

const (
	// ValidationFailed means Transaction.ValidateFull rejected the node.
	ValidationFailed ErrType = iota
	// ValueConservation means Transaction.ValidateTotals rejected the node.
	ValueConservation
	// UnminedTransaction means Transaction.ValidateMined rejected the node.
	UnminedTransaction
	// InvalidBalance means installing the node would overdraw an account.
	InvalidBalance
	// NodeNotFound means a declared parent hash does not resolve locally.
	NodeNotFound
	// AlreadyInserted means a node with this hash is already present.
	AlreadyInserted
	// InvalidAccount means no known key matches an account hash (the case
	// peers.Directory.FindAccount reports with its own peers.Error).
	InvalidAccount
	// InvalidKey means the local identity is missing or fails self-validation.
	InvalidKey
	// NotATip means RemoveTip was called on a node that still has children.
	NotATip
)

// Error is the typed error every exported Tangle operation returns on
// failure. Only the fields relevant to Type are populated.
type Error struct {
	Type    ErrType
	Hash    crypto.Hash
	Account *ecdsa.PublicKey
	Balance float64
	Cause   error
}

func (e *Error) Error() string {
	switch e.Type {
	case ValidationFailed:
		return fmt.Sprintf("validation failed for %s: %v", e.Hash, e.Cause)
	case ValueConservation:
		return fmt.Sprintf("value conservation violated by %s", e.Hash)
	case UnminedTransaction:
		return fmt.Sprintf("transaction %s is not mined", e.Hash)
	case InvalidBalance:
		return fmt.Sprintf("invalid balance for account %s: %f", e.accountKey(), e.Balance)
	case NodeNotFound:
		return fmt.Sprintf("node not found: %s", e.Hash)
	case AlreadyInserted:
		return fmt.Sprintf("node already inserted: %s", e.Hash)
	case InvalidAccount:
		return fmt.Sprintf("no known account for hash %s", e.Hash)
	case InvalidKey:
		return "local key pair missing or invalid"
	case NotATip:
		return fmt.Sprintf("node %s is not a tip", e.Hash)
	default:
		return "tangle error"
	}
}

func (e *Error) accountKey() string {
	if e.Account == nil {
		return ""
	}
	return keys.PublicKeyHex(e.Account)
}

// Unwrap exposes the underlying cause, if any, to errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether err is a *Error of the given type.
func Is(err error, t ErrType) bool {
	te, ok := err.(*Error)
	return ok && te.Type == t
}
