// Package tangle implements the DAG of value-transfer transactions: node
// insertion and removal, balance reconstruction, cumulative-weight
// propagation, MCMC tip selection, confirmation confidence, and the
// latest-common-genesis pruning procedure.
package tangle

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/binary"
	"math"
	mrand "math/rand"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/tangleward/tangle/crypto"
	"github.com/tangleward/tangle/crypto/keys"
	"github.com/tangleward/tangle/transaction"
)

const (
	// GenesisCandidateThreshold bounds both the tip-set size that triggers a
	// pruning-candidate snapshot and the number of snapshots retained.
	GenesisCandidateThreshold = 3

	// DefaultRandomWalkAlpha is the bias strength used by BiasedRandomWalk
	// when the caller does not override it.
	DefaultRandomWalkAlpha = 10.0

	confirmationWalkMinSize = 100

	// LeftBehindTipThreshold is the G-IOTA extension constant: a tip whose
	// height is at least this many levels below the average height of the
	// tips chosen by ordinary tip selection gets attached as an extra
	// parent so it stops being left behind.
	LeftBehindTipThreshold = 5
)

// Tangle is one peer's full local copy of the DAG.
type Tangle struct {
	logger *logrus.Entry

	// structMu is the tangle's structural mutex. Add, RemoveTip, SetGenesis
	// and ForceGenesisHash all take it; WithStructuralLock lets the gossip
	// layer hold it across a whole handler body (e.g. streaming a full sync)
	// the way the original's recursive mutex would. Go has no recursive
	// mutex, so every exported method that needs the lock is a thin wrapper
	// around an unexported *Locked method that assumes it is already held -
	// never call an exported method from inside one of these.
	structMu sync.Mutex

	genesisMu sync.RWMutex
	genesis   *Node

	tipsMu sync.RWMutex
	tips   []*Node

	nodesMu     sync.RWMutex
	nodesByHash map[crypto.Hash]*Node

	candMu     sync.Mutex
	candidates [][]*Node

	updateWeights int32 // atomic bool; 1 = background propagation enabled
}

// New creates a Tangle rooted at genesisTx, which must have no parents.
func New(genesisTx *transaction.Transaction, logger *logrus.Entry) (*Tangle, error) {
	if !genesisTx.IsGenesis() {
		return nil, &Error{Type: ValidationFailed, Hash: genesisTx.Hash}
	}

	node := NewNode(genesisTx, nil)
	node.IsGenesis = true

	return &Tangle{
		logger:        logger,
		genesis:       node,
		tips:          []*Node{node},
		nodesByHash:   map[crypto.Hash]*Node{node.Hash(): node},
		updateWeights: 1,
	}, nil
}

// SetUpdateWeights enables or disables background cumulative-weight
// propagation on Add. SynchronizationAddTransactionRequest's handler
// disables it for the duration of a bulk load.
func (t *Tangle) SetUpdateWeights(enabled bool) {
	v := int32(0)
	if enabled {
		v = 1
	}
	atomic.StoreInt32(&t.updateWeights, v)
}

func (t *Tangle) updateWeightsEnabled() bool {
	return atomic.LoadInt32(&t.updateWeights) == 1
}

// Genesis returns the current root node.
func (t *Tangle) Genesis() *Node {
	t.genesisMu.RLock()
	defer t.genesisMu.RUnlock()
	return t.genesis
}

// Tips returns a snapshot of the current tip set.
func (t *Tangle) Tips() []*Node {
	t.tipsMu.RLock()
	defer t.tipsMu.RUnlock()
	out := make([]*Node, len(t.tips))
	copy(out, t.tips)
	return out
}

// Find resolves hash to a node, honoring the genesis's alias hashes left
// behind by a prior Prune.
func (t *Tangle) Find(hash crypto.Hash) (*Node, bool) {
	t.nodesMu.RLock()
	n, ok := t.nodesByHash[hash]
	t.nodesMu.RUnlock()
	if ok {
		return n, true
	}

	g := t.Genesis()
	for _, alias := range g.AliasHashes() {
		if alias == hash {
			return g, true
		}
	}
	return nil, false
}

// WithStructuralLock runs fn while holding the structural mutex, the same
// lock Add/RemoveTip/SetGenesis use. The gossip layer's
// TangleSynchronizeRequest handler uses this to stream the whole DAG to a
// peer without any structural mutation interleaving.
func (t *Tangle) WithStructuralLock(fn func()) {
	t.structMu.Lock()
	defer t.structMu.Unlock()
	fn()
}

func (t *Tangle) appendTip(n *Node) {
	t.tipsMu.Lock()
	defer t.tipsMu.Unlock()
	for _, tip := range t.tips {
		if tip.Hash() == n.Hash() {
			return
		}
	}
	t.tips = append(t.tips, n)
}

func (t *Tangle) removeFromTips(n *Node) {
	t.tipsMu.Lock()
	defer t.tipsMu.Unlock()
	for i, tip := range t.tips {
		if tip == n {
			t.tips = append(t.tips[:i], t.tips[i+1:]...)
			return
		}
	}
}

func (t *Tangle) pushCandidateSnapshot() {
	t.candMu.Lock()
	defer t.candMu.Unlock()
	t.candidates = append(t.candidates, t.Tips())
	if len(t.candidates) > GenesisCandidateThreshold {
		t.candidates = t.candidates[len(t.candidates)-GenesisCandidateThreshold:]
	}
}

// Add validates and structurally installs tx. It never touches the network;
// callers that want the insertion gossiped use the gossip package's
// networked add, which calls this first.
func (t *Tangle) Add(tx *transaction.Transaction) (*Node, error) {
	t.structMu.Lock()
	defer t.structMu.Unlock()
	return t.addLocked(tx)
}

func (t *Tangle) addLocked(tx *transaction.Transaction) (*Node, error) {
	ok, err := tx.ValidateFull()
	if err != nil || !ok {
		return nil, &Error{Type: ValidationFailed, Hash: tx.Hash, Cause: err}
	}

	if !tx.ValidateTotals() {
		return nil, &Error{Type: ValueConservation, Hash: tx.Hash}
	}

	if !tx.ValidateMined() {
		return nil, &Error{Type: UnminedTransaction, Hash: tx.Hash}
	}

	if _, exists := t.Find(tx.Hash); exists {
		return nil, &Error{Type: AlreadyInserted, Hash: tx.Hash}
	}

	if err := t.simulateBalances(tx); err != nil {
		return nil, err
	}

	parents := make([]*Node, 0, len(tx.ParentHashes))
	for _, ph := range tx.ParentHashes {
		p, ok := t.Find(ph)
		if !ok {
			return nil, &Error{Type: NodeNotFound, Hash: ph}
		}
		parents = append(parents, p)
	}

	node := NewNode(tx, parents)

	for _, p := range parents {
		t.removeFromTips(p)
		p.addChild(node)
	}
	t.appendTip(node)

	t.nodesMu.Lock()
	t.nodesByHash[tx.Hash] = node
	t.nodesMu.Unlock()

	if t.updateWeightsEnabled() {
		go t.UpdateCumulativeWeights(node)
	}

	if len(t.Tips()) <= GenesisCandidateThreshold {
		t.pushCandidateSnapshot()
	}

	if t.logger != nil {
		t.logger.WithField("hash", string(tx.Hash)).Debug("installed transaction")
	}

	return node, nil
}

// simulateBalances checks, for every distinct account among tx.Inputs, that
// debiting the account by the sum of its inputs within tx does not drive its
// current balance negative.
func (t *Tangle) simulateBalances(tx *transaction.Transaction) error {
	seen := map[string]bool{}
	for _, in := range tx.Inputs {
		k := keys.PublicKeyHex(in.Account)
		if seen[k] {
			continue
		}
		seen[k] = true

		var totalIn float64
		for _, in2 := range tx.Inputs {
			if keys.PublicKeyHex(in2.Account) == k {
				totalIn += in2.Amount
			}
		}

		balance, err := t.QueryBalance(in.Account, 0)
		if err != nil {
			return err
		}

		if balance-totalIn < 0 {
			return &Error{Type: InvalidBalance, Account: in.Account, Balance: balance - totalIn}
		}
	}
	return nil
}

// RemoveTip detaches a childless node from the tangle: every parent loses it
// from their child list (gaining tip status if that leaves them childless),
// and the node itself leaves the tip list and the lookup index.
func (t *Tangle) RemoveTip(node *Node) error {
	t.structMu.Lock()
	defer t.structMu.Unlock()
	return t.removeTipLocked(node)
}

func (t *Tangle) removeTipLocked(node *Node) error {
	if node.childCount() > 0 {
		return &Error{Type: NotATip, Hash: node.Hash()}
	}

	for _, p := range node.Parents() {
		p.removeChild(node)
		if p.childCount() == 0 {
			t.appendTip(p)
		}
	}

	t.removeFromTips(node)
	node.setParents(nil)

	t.nodesMu.Lock()
	delete(t.nodesByHash, node.Hash())
	t.nodesMu.Unlock()

	return nil
}

// SetGenesis installs tx as an entirely new, empty-history genesis. Used by
// the gossip layer's SyncGenesisRequest handler; tx must have no inputs.
func (t *Tangle) SetGenesis(tx *transaction.Transaction) (*Node, error) {
	t.structMu.Lock()
	defer t.structMu.Unlock()
	return t.setGenesisLocked(tx)
}

func (t *Tangle) setGenesisLocked(tx *transaction.Transaction) (*Node, error) {
	if len(tx.Inputs) > 0 {
		return nil, &Error{Type: ValidationFailed, Hash: tx.Hash}
	}

	node := NewNode(tx, nil)
	node.IsGenesis = true

	t.genesisMu.Lock()
	t.genesis = node
	t.genesisMu.Unlock()

	t.nodesMu.Lock()
	t.nodesByHash = map[crypto.Hash]*Node{node.Hash(): node}
	t.nodesMu.Unlock()

	t.tipsMu.Lock()
	t.tips = []*Node{node}
	t.tipsMu.Unlock()

	return node, nil
}

// ForceGenesisHash overwrites the current genesis's hash, used after
// SetGenesis to alias the synthetic hash a remote peer claimed for it.
func (t *Tangle) ForceGenesisHash(hash crypto.Hash) {
	t.structMu.Lock()
	defer t.structMu.Unlock()

	g := t.Genesis()

	t.nodesMu.Lock()
	delete(t.nodesByHash, g.Hash())
	g.Tx.Hash = hash
	t.nodesByHash[hash] = g
	t.nodesMu.Unlock()
}

// QueryBalance reconstructs an account's balance by breadth-first traversal
// from the genesis, following a child only once its confirmation confidence
// clears confidenceThreshold (0 disables the check and visits everything
// reachable).
func (t *Tangle) QueryBalance(account *ecdsa.PublicKey, confidenceThreshold float64) (float64, error) {
	accountKey := keys.PublicKeyHex(account)

	var balance float64
	visited := map[crypto.Hash]bool{}
	genesis := t.Genesis()
	visited[genesis.Hash()] = true
	queue := []*Node{genesis}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, in := range cur.Tx.Inputs {
			if keys.PublicKeyHex(in.Account) == accountKey {
				balance -= in.Amount
				if balance < 0 {
					return 0, &Error{Type: InvalidBalance, Account: account, Balance: balance}
				}
			}
		}
		for _, out := range cur.Tx.Outputs {
			if keys.PublicKeyHex(out.Account) == accountKey {
				balance += out.Amount
			}
		}

		for _, c := range cur.Children() {
			if visited[c.Hash()] {
				continue
			}
			if confidenceThreshold == 0 || t.ConfirmationConfidence(c) >= confidenceThreshold {
				visited[c.Hash()] = true
				queue = append(queue, c)
			}
		}
	}

	return balance, nil
}

// UpdateCumulativeWeights performs one idempotent BFS toward the genesis
// starting at source, recomputing own_weight + sum(children cumulative
// weight) at each visited node. It is fire-and-forget background work;
// repeated passes converge on the true cumulative weight as inserts settle.
func (t *Tangle) UpdateCumulativeWeights(source *Node) {
	visited := map[*Node]bool{}
	queue := []*Node{source}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true

		var childSum float32
		for _, c := range cur.Children() {
			childSum += c.CumulativeWeight()
		}
		cur.setCumulativeWeight(cur.OwnWeight() + childSum)

		queue = append(queue, cur.Parents()...)
	}
}

func newLocalRand() *mrand.Rand {
	var seed [8]byte
	// Best-effort CSPRNG seed; a read failure just falls back to the
	// zero seed, which still produces a valid (if predictable) walk.
	rand.Read(seed[:])
	return mrand.New(mrand.NewSource(int64(binary.BigEndian.Uint64(seed[:]))))
}

// BiasedRandomWalk performs the MCMC tip-selection walk described by the
// ledger's consensus model, starting at start and returning the tip it
// lands on. alpha<=0 selects DefaultRandomWalkAlpha. Safe to call
// concurrently; each call uses its own locally seeded generator.
func (t *Tangle) BiasedRandomWalk(start *Node, alpha float64) *Node {
	return t.biasedRandomWalk(start, alpha, newLocalRand())
}

func (t *Tangle) biasedRandomWalk(start *Node, alpha float64, rnd *mrand.Rand) *Node {
	if alpha <= 0 {
		alpha = DefaultRandomWalkAlpha
	}

	cur := start
	for {
		children := cur.Children()
		if len(children) == 0 {
			return cur
		}

		curCW := float64(cur.CumulativeWeight())
		weights := make([]float64, len(children))
		var total float64
		for i, c := range children {
			w := math.Exp(-alpha * (curCW - float64(c.CumulativeWeight())))
			if w <= 0 {
				w = math.SmallestNonzeroFloat64
			}
			weights[i] = w
			total += w
		}

		pick := rnd.Float64() * total
		acc := 0.0
		chosen := children[len(children)-1]
		for i, w := range weights {
			acc += w
			if pick <= acc {
				chosen = children[i]
				break
			}
		}
		cur = chosen
	}
}

// ConfirmationConfidence estimates, by repeated biased random walks from a
// neighborhood around n, the fraction of resulting tips that descend from n.
func (t *Tangle) ConfirmationConfidence(n *Node) float64 {
	children := n.Children()

	levels := 5
	var walkSet []*Node
	if len(children) > 0 {
		walkSet = append(walkSet, children...)
		levels = 6
	} else {
		walkSet = append(walkSet, n)
	}

	frontier := append([]*Node{}, walkSet...)
	for i := 0; i < levels && len(frontier) > 0; i++ {
		var next []*Node
		for _, f := range frontier {
			next = append(next, f.Parents()...)
		}
		walkSet = append(walkSet, next...)
		frontier = next
	}

	exclude := map[*Node]bool{n: true}
	for _, c := range children {
		exclude[c] = true
	}
	pruned := make([]*Node, 0, len(walkSet))
	for _, w := range walkSet {
		if !exclude[w] {
			pruned = append(pruned, w)
		}
	}
	walkSet = pruned

	if len(walkSet) == 0 {
		// n has no eligible neighborhood to walk from (e.g. the genesis with
		// no history yet); treat it as fully confirmed.
		return 1.0
	}

	for len(walkSet) < confirmationWalkMinSize {
		walkSet = append(walkSet, walkSet...)
	}

	rnd := newLocalRand()
	var count int
	for _, w := range walkSet {
		tip := t.biasedRandomWalk(w, DefaultRandomWalkAlpha, rnd)
		if n.IsAncestorOf(tip) {
			count++
		}
	}

	return float64(count) / float64(len(walkSet))
}

// SelectParents runs numWalks independent biased random walks from the
// genesis to choose tips as parents for a new transaction, deduplicating by
// hash, then attaches one additional "left behind" tip - one whose height
// trails the average height of the chosen tips by at least
// LeftBehindTipThreshold - if any such tip exists and was not already
// chosen.
func (t *Tangle) SelectParents(numWalks int) []*Node {
	genesis := t.Genesis()

	chosen := map[crypto.Hash]*Node{}
	var result []*Node
	for i := 0; i < numWalks; i++ {
		tip := t.BiasedRandomWalk(genesis, DefaultRandomWalkAlpha)
		if _, ok := chosen[tip.Hash()]; ok {
			continue
		}
		chosen[tip.Hash()] = tip
		result = append(result, tip)
	}

	if len(result) == 0 {
		return result
	}

	var heightSum int
	for _, n := range result {
		heightSum += n.Height
	}
	avgHeight := float64(heightSum) / float64(len(result))

	for _, tip := range t.Tips() {
		if _, already := chosen[tip.Hash()]; already {
			continue
		}
		if avgHeight-float64(tip.Height) >= LeftBehindTipThreshold {
			result = append(result, tip)
			break
		}
	}

	return result
}

// Prune scans the candidate-tip-set buffer newest to oldest for the most
// recent set on which every member has reached confirmation confidence 1.0,
// and if one exists, collapses everything behind it into a synthetic
// genesis. If no such set exists, the current genesis is kept and Prune is
// a no-op.
func (t *Tangle) Prune() error {
	t.structMu.Lock()
	defer t.structMu.Unlock()

	t.candMu.Lock()
	snapshot := make([][]*Node, len(t.candidates))
	copy(snapshot, t.candidates)
	t.candMu.Unlock()

	var chosen []*Node
	for i := len(snapshot) - 1; i >= 0; i-- {
		set := snapshot[i]
		if len(set) == 0 {
			continue
		}
		allConfident := true
		for _, n := range set {
			if t.ConfirmationConfidence(n) != 1.0 {
				allConfident = false
				break
			}
		}
		if allConfident {
			chosen = set
			break
		}
	}

	if chosen == nil {
		return nil
	}

	accounts := map[string]*ecdsa.PublicKey{}
	balances := map[string]float64{}
	visited := map[crypto.Hash]bool{}
	queue := append([]*Node{}, chosen...)
	for _, n := range chosen {
		visited[n.Hash()] = true
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, in := range cur.Tx.Inputs {
			k := keys.PublicKeyHex(in.Account)
			accounts[k] = in.Account
			balances[k] -= in.Amount
		}
		for _, out := range cur.Tx.Outputs {
			k := keys.PublicKeyHex(out.Account)
			accounts[k] = out.Account
			balances[k] += out.Amount
		}

		for _, p := range cur.Parents() {
			if !visited[p.Hash()] {
				visited[p.Hash()] = true
				queue = append(queue, p)
			}
		}
	}

	var outputs []transaction.Output
	for k, bal := range balances {
		if bal != 0 {
			outputs = append(outputs, transaction.Output{Account: accounts[k], Amount: bal})
		}
	}

	genesisTx, err := transaction.NewGenesis(outputs, transaction.DefaultMiningDifficulty)
	if err != nil {
		return err
	}

	aliasHashes := make([]crypto.Hash, 0, len(chosen)-1)
	for _, n := range chosen[1:] {
		aliasHashes = append(aliasHashes, n.Hash())
	}
	genesisTx.Hash = chosen[0].Hash()

	newGenesis := NewNode(genesisTx, nil)
	newGenesis.IsGenesis = true
	newGenesis.setAliasHashes(aliasHashes)

	var allChildren []*Node
	seenChild := map[*Node]bool{}
	for _, n := range chosen {
		for _, c := range n.Children() {
			if !seenChild[c] {
				seenChild[c] = true
				allChildren = append(allChildren, c)
			}
		}
	}
	for _, c := range allChildren {
		c.setParents([]*Node{newGenesis})
		newGenesis.addChild(c)
	}

	newIndex := map[crypto.Hash]*Node{newGenesis.Hash(): newGenesis}
	seenIdx := map[crypto.Hash]bool{newGenesis.Hash(): true}
	var newTips []*Node
	if len(newGenesis.Children()) == 0 {
		newTips = append(newTips, newGenesis)
	}
	bfs := append([]*Node{}, allChildren...)
	for len(bfs) > 0 {
		cur := bfs[0]
		bfs = bfs[1:]
		if seenIdx[cur.Hash()] {
			continue
		}
		seenIdx[cur.Hash()] = true
		newIndex[cur.Hash()] = cur
		children := cur.Children()
		if len(children) == 0 {
			newTips = append(newTips, cur)
		}
		bfs = append(bfs, children...)
	}

	t.genesisMu.Lock()
	t.genesis = newGenesis
	t.genesisMu.Unlock()

	t.nodesMu.Lock()
	t.nodesByHash = newIndex
	t.nodesMu.Unlock()

	t.tipsMu.Lock()
	t.tips = newTips
	t.tipsMu.Unlock()

	t.candMu.Lock()
	t.candidates = nil
	t.candMu.Unlock()

	return nil
}
