package transaction

import (
	"encoding/json"

	"github.com/tangleward/tangle/common"
	"github.com/tangleward/tangle/crypto"
	"github.com/tangleward/tangle/crypto/keys"
)

// wireInput/wireOutput/wireTransaction are the JSON-safe shapes of
// Transaction and its parts: an *ecdsa.PublicKey has no natural JSON
// encoding, so accounts travel as the same base64 string PublicKeyHex uses
// everywhere else.
type wireInput struct {
	Account   string  `json:"account"`
	Amount    float64 `json:"amount"`
	Signature string  `json:"signature"`
}

type wireOutput struct {
	Account string  `json:"account"`
	Amount  float64 `json:"amount"`
}

type wireTransaction struct {
	Timestamp        int64        `json:"timestamp"`
	Nonce            uint64       `json:"nonce"`
	MiningDifficulty int          `json:"mining_difficulty"`
	MiningTarget     byte         `json:"mining_target"`
	Inputs           []wireInput  `json:"inputs"`
	Outputs          []wireOutput `json:"outputs"`
	ParentHashes     []crypto.Hash `json:"parent_hashes"`
	Hash             crypto.Hash  `json:"hash"`
}

// MarshalJSON implements json.Marshaler with the wire encoding used both by
// the persistence stream and by the gossip protocol's transaction payloads.
func (t *Transaction) MarshalJSON() ([]byte, error) {
	w := wireTransaction{
		Timestamp:        t.Timestamp,
		Nonce:            t.Nonce,
		MiningDifficulty: t.MiningDifficulty,
		MiningTarget:     t.MiningTarget,
		ParentHashes:     t.ParentHashes,
		Hash:             t.Hash,
	}

	for _, in := range t.Inputs {
		w.Inputs = append(w.Inputs, wireInput{
			Account:   keys.PublicKeyHex(in.Account),
			Amount:    in.Amount,
			Signature: in.Signature,
		})
	}
	for _, out := range t.Outputs {
		w.Outputs = append(w.Outputs, wireOutput{
			Account: keys.PublicKeyHex(out.Account),
			Amount:  out.Amount,
		})
	}

	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler, the inverse of MarshalJSON.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	var w wireTransaction
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	t.Timestamp = w.Timestamp
	t.Nonce = w.Nonce
	t.MiningDifficulty = w.MiningDifficulty
	t.MiningTarget = w.MiningTarget
	t.ParentHashes = w.ParentHashes
	t.Hash = w.Hash

	t.Inputs = nil
	for _, in := range w.Inputs {
		raw, err := common.DecodeFromString(in.Account)
		if err != nil {
			return err
		}
		t.Inputs = append(t.Inputs, Input{
			Account:   keys.ToPublicKey(raw),
			Amount:    in.Amount,
			Signature: in.Signature,
		})
	}

	t.Outputs = nil
	for _, out := range w.Outputs {
		raw, err := common.DecodeFromString(out.Account)
		if err != nil {
			return err
		}
		t.Outputs = append(t.Outputs, Output{
			Account: keys.ToPublicKey(raw),
			Amount:  out.Amount,
		})
	}

	return nil
}
