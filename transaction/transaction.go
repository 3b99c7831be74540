// Package transaction implements the value-transfer record at the heart of
// the ledger: construction, mining, and the three pure validation
// predicates consumed by the tangle on insertion.
package transaction

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/tangleward/tangle/common"
	"github.com/tangleward/tangle/crypto"
	"github.com/tangleward/tangle/crypto/keys"
)

// DefaultMiningDifficulty is the number of leading characters of a
// Transaction's hash that must equal MiningTarget for the transaction to be
// considered mined.
const DefaultMiningDifficulty = 3

// DefaultMiningTarget is the character a mined hash's leading
// MiningDifficulty characters must equal.
const DefaultMiningTarget byte = 'A'

// Input is one account's contribution to a Transaction. Signature proves
// that the account's owner consented to spend Amount; the account's
// private key never appears here or anywhere else outside the owner's
// process.
type Input struct {
	Account   *ecdsa.PublicKey
	Amount    float64
	Signature string
}

// Output is a destination account and the amount it receives.
type Output struct {
	Account *ecdsa.PublicKey
	Amount  float64
}

// DecimalText is the canonical text representation of an amount, used both
// as the signed message for an Input and inside the Transaction's own hash
// preimage.
func DecimalText(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}

// SignInput builds an Input on behalf of account, signing DecimalText(amount)
// with priv. The caller is responsible for priv actually belonging to
// account; SignInput does not check this (Transaction.ValidateFull does, on
// the receiving end).
func SignInput(priv *ecdsa.PrivateKey, account *ecdsa.PublicKey, amount float64) (Input, error) {
	r, s, err := keys.Sign(priv, []byte(DecimalText(amount)))
	if err != nil {
		return Input{}, err
	}

	return Input{
		Account:   account,
		Amount:    amount,
		Signature: keys.EncodeSignature(r, s),
	}, nil
}

// Transaction is a value-transfer record. Once constructed and installed in
// a Tangle, none of its fields change, except that Tangle.ForceGenesisHash
// overwrites the Hash of an installed genesis; otherwise Hash is recomputed
// only to verify, never to mutate.
type Transaction struct {
	Timestamp        int64 // UTC seconds since epoch at creation
	Nonce            uint64
	MiningDifficulty int
	MiningTarget     byte
	Inputs           []Input
	Outputs          []Output
	ParentHashes     []crypto.Hash // sorted, deduplicated; empty iff genesis
	Hash             crypto.Hash
}

// New constructs a Transaction with the given parents, inputs and outputs.
// Construction seeds Nonce from a CSPRNG, records the current UTC timestamp,
// sorts and deduplicates parents, and computes Hash. It never mines.
func New(parents []crypto.Hash, inputs []Input, outputs []Output, difficulty int) (*Transaction, error) {
	nonce, err := randomNonce()
	if err != nil {
		return nil, err
	}

	tx := &Transaction{
		Timestamp:        time.Now().UTC().Unix(),
		Nonce:            nonce,
		MiningDifficulty: difficulty,
		MiningTarget:     DefaultMiningTarget,
		Inputs:           inputs,
		Outputs:          outputs,
		ParentHashes:     sortedDedupedHashes(parents),
	}

	tx.Hash = tx.RecomputeHash()

	return tx, nil
}

// NewGenesis constructs the unique parentless root of a Tangle. A genesis
// has no inputs (spec invariant: "Genesis MUST have no inputs").
func NewGenesis(outputs []Output, difficulty int) (*Transaction, error) {
	return New(nil, nil, outputs, difficulty)
}

func randomNonce() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

func sortedDedupedHashes(hashes []crypto.Hash) []crypto.Hash {
	seen := make(map[crypto.Hash]bool, len(hashes))
	out := make([]crypto.Hash, 0, len(hashes))
	for _, h := range hashes {
		if seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RecomputeHash returns the SHA3-256-base64 digest of the canonical byte
// concatenation described in spec §3: timestamp, nonce, then each input's
// account/amount/signature, then each output's account/amount, then the
// parent hashes.
func (t *Transaction) RecomputeHash() crypto.Hash {
	var buf bytes.Buffer

	binary.Write(&buf, binary.BigEndian, t.Timestamp)
	binary.Write(&buf, binary.BigEndian, t.Nonce)

	for _, in := range t.Inputs {
		buf.WriteString(common.EncodeToString(keys.FromPublicKey(in.Account)))
		buf.WriteString(DecimalText(in.Amount))
		buf.WriteString(in.Signature)
	}

	for _, out := range t.Outputs {
		buf.WriteString(common.EncodeToString(keys.FromPublicKey(out.Account)))
		buf.WriteString(DecimalText(out.Amount))
	}

	for _, p := range t.ParentHashes {
		buf.WriteString(string(p))
	}

	return crypto.SumHash256(buf.Bytes())
}

// IsGenesis reports whether t has no parents.
func (t *Transaction) IsGenesis() bool {
	return len(t.ParentHashes) == 0
}

// Mine loops Nonce+=1; Hash=RecomputeHash() until ValidateMined() holds. It
// is pure local CPU work; callers may run it on a worker goroutine.
func (t *Transaction) Mine() {
	for {
		t.Hash = t.RecomputeHash()
		if t.ValidateMined() {
			return
		}
		t.Nonce++
	}
}

// ValidateMined reports whether Hash's numeric value is at or below the
// difficulty-many-copies-of-target mining target (spec §3).
func (t *Transaction) ValidateMined() bool {
	target := crypto.MiningTarget(t.MiningDifficulty, t.MiningTarget, len(t.Hash))
	return crypto.HasPrefix(t.Hash, t.MiningDifficulty, t.MiningTarget) &&
		crypto.LessOrEqual(t.Hash, target)
}

// ValidateTotals reports whether the sum of input amounts is at least the
// sum of output amounts.
func (t *Transaction) ValidateTotals() bool {
	var inTotal, outTotal float64
	for _, in := range t.Inputs {
		inTotal += in.Amount
	}
	for _, out := range t.Outputs {
		outTotal += out.Amount
	}
	return inTotal >= outTotal
}

// ValidateFull recomputes Hash and checks it against the stored value, then
// verifies every input's signature against its declared account. It is the
// most expensive of the three predicates and is run first by the tangle on
// insertion (see tangle.Add).
func (t *Transaction) ValidateFull() (bool, error) {
	actual := t.RecomputeHash()
	if actual != t.Hash {
		return false, &InvalidHashError{Actual: actual, Claimed: t.Hash}
	}

	for _, in := range t.Inputs {
		r, s, err := keys.DecodeSignature(in.Signature)
		if err != nil {
			return false, nil
		}
		if !keys.Verify(in.Account, []byte(DecimalText(in.Amount)), r, s) {
			return false, nil
		}
	}

	return true, nil
}

// InvalidHashError is raised when a transaction's declared hash disagrees
// with its recomputed hash.
type InvalidHashError struct {
	Actual  crypto.Hash
	Claimed crypto.Hash
}

func (e *InvalidHashError) Error() string {
	return fmt.Sprintf("invalid hash: claimed %s, actual %s", e.Claimed, e.Actual)
}
