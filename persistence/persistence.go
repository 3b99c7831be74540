// Package persistence implements the tangle's on-disk format: a
// gzip-compressed stream of topologically ordered transactions, and the
// self-dispatch load path that replays that stream through the same gossip
// handlers a network sync would use.
package persistence

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"io"
	"sort"

	"github.com/tangleward/tangle/tangle"
	"github.com/tangleward/tangle/transaction"
)

// Dispatcher is the subset of the gossip bus's self-addressing capability
// persistence needs: routing a decoded transaction back through the normal
// validation and installation path. The gossip package's Engine implements
// this by dispatching to its own local handlers.
type Dispatcher interface {
	DispatchSyncGenesis(tx *transaction.Transaction) error
	DispatchSynchronizationAdd(tx *transaction.Transaction) error
	DispatchUpdateWeights()
}

// SaveTangle enumerates every node reachable from t's genesis, orders them
// by timestamp with the genesis forced to position 0, and writes them to w
// as a gzip stream whose cleartext is a u64 count followed by that many
// JSON-encoded transactions.
func SaveTangle(t *tangle.Tangle, w io.Writer) error {
	nodes := collectNodes(t)

	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].IsGenesis {
			return true
		}
		if nodes[j].IsGenesis {
			return false
		}
		return nodes[i].Tx.Timestamp < nodes[j].Tx.Timestamp
	})

	var cleartext bytes.Buffer
	var count [8]byte
	binary.BigEndian.PutUint64(count[:], uint64(len(nodes)))
	cleartext.Write(count[:])

	for _, n := range nodes {
		encoded, err := json.Marshal(n.Tx)
		if err != nil {
			return err
		}
		var frameLen [4]byte
		binary.BigEndian.PutUint32(frameLen[:], uint32(len(encoded)))
		cleartext.Write(frameLen[:])
		cleartext.Write(encoded)
	}

	gz := gzip.NewWriter(w)
	if _, err := gz.Write(cleartext.Bytes()); err != nil {
		return err
	}
	return gz.Close()
}

func collectNodes(t *tangle.Tangle) []*tangle.Node {
	visited := map[*tangle.Node]bool{}
	genesis := t.Genesis()
	queue := []*tangle.Node{genesis}
	visited[genesis] = true

	var nodes []*tangle.Node
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		nodes = append(nodes, cur)
		for _, c := range cur.Children() {
			if !visited[c] {
				visited[c] = true
				queue = append(queue, c)
			}
		}
	}
	return nodes
}

// LoadTangle reads size bytes from r, gunzips them, decodes the transaction
// stream SaveTangle produces, and self-dispatches the result through
// dispatcher: the first transaction as a SyncGenesisRequest, the rest as
// SynchronizationAddTransactionRequests, followed by an UpdateWeightsRequest.
// Routing through the same dispatcher a network sync would use reuses every
// validation and orphan-handling path a remote transaction gets.
func LoadTangle(r io.Reader, size int64, dispatcher Dispatcher) error {
	gz, err := gzip.NewReader(io.LimitReader(r, size))
	if err != nil {
		return err
	}
	defer gz.Close()

	var countBuf [8]byte
	if _, err := io.ReadFull(gz, countBuf[:]); err != nil {
		return err
	}
	count := binary.BigEndian.Uint64(countBuf[:])
	if count == 0 {
		return nil
	}

	txs := make([]*transaction.Transaction, 0, count)
	for i := uint64(0); i < count; i++ {
		var lenBuf [4]byte
		if _, err := io.ReadFull(gz, lenBuf[:]); err != nil {
			return err
		}
		frame := make([]byte, binary.BigEndian.Uint32(lenBuf[:]))
		if _, err := io.ReadFull(gz, frame); err != nil {
			return err
		}

		tx := &transaction.Transaction{}
		if err := json.Unmarshal(frame, tx); err != nil {
			return err
		}
		txs = append(txs, tx)
	}

	if err := dispatcher.DispatchSyncGenesis(txs[0]); err != nil {
		return err
	}
	for _, tx := range txs[1:] {
		if err := dispatcher.DispatchSynchronizationAdd(tx); err != nil {
			return err
		}
	}
	dispatcher.DispatchUpdateWeights()

	return nil
}
