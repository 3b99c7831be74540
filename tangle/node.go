package tangle

import (
	"sync"

	"github.com/tangleward/tangle/crypto"
	"github.com/tangleward/tangle/transaction"
)

// Node is a Transaction plus its graph edges. Parents are fixed at
// construction (only Prune, during the genesis splice, and RemoveTip, which
// clears the removed tip's parents, rewrite them);
// children mutate under structMu and are guarded here by their own
// reader/writer lock so concurrent readers - balance queries, random walks -
// never block on each other.
type Node struct {
	Tx        *transaction.Transaction
	IsGenesis bool

	// Height is the node's distance from the genesis: 0 for the genesis,
	// otherwise one more than its deepest parent. Fixed at construction and
	// used only by left-behind tip attachment.
	Height int

	mu       sync.RWMutex
	parents  []*Node
	children []*Node

	weightMu sync.RWMutex
	weight   float32

	aliasMu     sync.RWMutex
	aliasHashes []crypto.Hash
}

// NewNode builds a Node for tx with the given resolved parents. Callers are
// responsible for having already validated tx and resolved every one of its
// ParentHashes to a live *Node.
func NewNode(tx *transaction.Transaction, parents []*Node) *Node {
	height := 0
	for _, p := range parents {
		if p.Height+1 > height {
			height = p.Height + 1
		}
	}

	return &Node{
		Tx:        tx,
		IsGenesis: tx.IsGenesis(),
		Height:    height,
		parents:   parents,
	}
}

// Hash returns the node's transaction hash. For a genesis that has been
// aliased by pruning, this is the forced hash, not the hash the underlying
// transaction would recompute to (see Tangle.Prune).
func (n *Node) Hash() crypto.Hash {
	return n.Tx.Hash
}

// Parents returns a snapshot of n's parent nodes.
func (n *Node) Parents() []*Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Node, len(n.parents))
	copy(out, n.parents)
	return out
}

func (n *Node) setParents(parents []*Node) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.parents = parents
}

// Children returns a snapshot of n's child nodes, in insertion order.
func (n *Node) Children() []*Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

func (n *Node) childCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.children)
}

func (n *Node) addChild(c *Node) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.children = append(n.children, c)
}

// removeChild detaches c from n's child list, reporting whether it was
// present.
func (n *Node) removeChild(c *Node) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, ch := range n.children {
		if ch == c {
			n.children = append(n.children[:i], n.children[i+1:]...)
			return true
		}
	}
	return false
}

// OwnWeight is min(mining_difficulty / 5.0, 1.0).
func (n *Node) OwnWeight() float32 {
	w := float32(n.Tx.MiningDifficulty) / 5.0
	if w > 1.0 {
		return 1.0
	}
	return w
}

// CumulativeWeight returns the last value UpdateCumulativeWeights wrote for
// n. It approaches own_weight(n) + sum of descendants' own_weight as
// propagation passes converge; it is never a barrier-synchronized exact
// value.
func (n *Node) CumulativeWeight() float32 {
	n.weightMu.RLock()
	defer n.weightMu.RUnlock()
	return n.weight
}

func (n *Node) setCumulativeWeight(w float32) {
	n.weightMu.Lock()
	defer n.weightMu.Unlock()
	n.weight = w
}

// AliasHashes returns the hashes a pruned-away genesis used to answer to,
// kept so Tangle.Find still resolves old references after a splice.
func (n *Node) AliasHashes() []crypto.Hash {
	n.aliasMu.RLock()
	defer n.aliasMu.RUnlock()
	out := make([]crypto.Hash, len(n.aliasHashes))
	copy(out, n.aliasHashes)
	return out
}

func (n *Node) setAliasHashes(hashes []crypto.Hash) {
	n.aliasMu.Lock()
	defer n.aliasMu.Unlock()
	n.aliasHashes = hashes
}

// IsAncestorOf reports whether target is reachable from n by following
// child edges (n counts as its own ancestor).
func (n *Node) IsAncestorOf(target *Node) bool {
	if n == target {
		return true
	}

	visited := map[*Node]bool{n: true}
	queue := []*Node{n}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range cur.Children() {
			if c == target {
				return true
			}
			if !visited[c] {
				visited[c] = true
				queue = append(queue, c)
			}
		}
	}
	return false
}
