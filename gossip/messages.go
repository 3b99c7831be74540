package gossip

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"

	"github.com/tangleward/tangle/crypto"
	"github.com/tangleward/tangle/transaction"
)

// PublicKeySyncRequest carries no payload: "please send me your public key."
type PublicKeySyncRequest struct{}

// PublicKeySyncResponse proves ownership of PublicKey: Signature is
// signature("VERIFY") under the matching private key.
type PublicKeySyncResponse struct {
	PublicKey string `json:"public_key"`
	Signature string `json:"signature"`
}

// GenesisVoteRequest carries no payload. Receiving one also marks the
// sender as having opted into a genesis vote round, per the handler.
type GenesisVoteRequest struct{}

// GenesisVoteResponse reports the hashes the responder's genesis answers
// to: the alias hashes (if any), followed by the actual current genesis
// hash as the last element. Signature covers the concatenation of Hashes in
// order.
type GenesisVoteResponse struct {
	Hashes    []crypto.Hash `json:"hashes"`
	Signature string        `json:"signature"`
}

// TangleSynchronizeRequest carries no payload: "replay your entire tangle
// to me."
type TangleSynchronizeRequest struct{}

// UpdateWeightsRequest carries no payload: "start a background weight
// refresh."
type UpdateWeightsRequest struct{}

// SyncGenesisRequest installs tx as an authenticated new genesis.
// ClaimedHash is the hash the sender wants this genesis known by locally;
// ActualHash is what Tx.RecomputeHash() should produce. Signature covers
// ClaimedHash concatenated with ActualHash.
type SyncGenesisRequest struct {
	ClaimedHash crypto.Hash              `json:"claimed_hash"`
	ActualHash  crypto.Hash              `json:"actual_hash"`
	Signature   string                   `json:"signature"`
	Tx          *transaction.Transaction `json:"tx"`
}

// AddTransactionRequest announces a new transaction. Hash is the claimed
// hash (checked against Tx.Hash); Signature covers Hash.
type AddTransactionRequest struct {
	Hash      crypto.Hash              `json:"hash"`
	Signature string                   `json:"signature"`
	Tx        *transaction.Transaction `json:"tx"`
}

// SynchronizationAddTransactionRequest is AddTransactionRequest's bulk-load
// twin: same payload shape, but its handler suppresses cascading weight
// recomputation for the duration of the sync.
type SynchronizationAddTransactionRequest struct {
	Hash      crypto.Hash              `json:"hash"`
	Signature string                   `json:"signature"`
	Tx        *transaction.Transaction `json:"tx"`
}

// compressedTypes is the subset of the taxonomy the protocol gzips
// end-to-end, independent of whatever the transport itself does. Keeping
// compression a per-message-type policy (rather than a transport-level
// concern) means a future transport swap never has to relearn which
// payloads are already compressed.
var compressedTypes = map[MessageType]bool{
	MsgSyncGenesisRequest:                   true,
	MsgAddTransactionRequest:                true,
	MsgSynchronizationAddTransactionRequest: true,
}

// encodePayload JSON-encodes msg and, if t is one of the taxonomy's
// compressed types, gzips the result.
func encodePayload(t MessageType, msg interface{}) ([]byte, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	if !compressedTypes[t] {
		return raw, nil
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodePayload reverses encodePayload into out, a pointer to one of this
// file's message structs.
func decodePayload(t MessageType, payload []byte, out interface{}) error {
	if !compressedTypes[t] {
		return json.Unmarshal(payload, out)
	}

	gz, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer gz.Close()

	raw, err := io.ReadAll(gz)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
