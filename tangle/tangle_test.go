package tangle

import (
	"math"
	"testing"

	"github.com/tangleward/tangle/crypto"
	"github.com/tangleward/tangle/crypto/keys"
	"github.com/tangleward/tangle/transaction"
)

func mustKeyPair(t *testing.T) *keys.KeyPair {
	t.Helper()
	kp, err := keys.GenerateKeyPair()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	return kp
}

func newTestTangle(t *testing.T, genesisBalance float64, networkKey *keys.KeyPair) *Tangle {
	t.Helper()
	genesisTx, err := transaction.NewGenesis(
		[]transaction.Output{{Account: networkKey.Public(), Amount: genesisBalance}},
		transaction.DefaultMiningDifficulty,
	)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	genesisTx.Mine()

	tg, err := New(genesisTx, nil)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	return tg
}

func TestGenesisOnlyBalance(t *testing.T) {
	nk := mustKeyPair(t)
	other := mustKeyPair(t)
	tg := newTestTangle(t, math.MaxFloat64, nk)

	balance, err := tg.QueryBalance(nk.Public(), 0)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if balance != math.MaxFloat64 {
		t.Fatalf("expected max balance, got %f", balance)
	}

	otherBalance, err := tg.QueryBalance(other.Public(), 0)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if otherBalance != 0 {
		t.Fatalf("expected 0 balance for unmentioned account, got %f", otherBalance)
	}
}

func TestTransferAndSettle(t *testing.T) {
	nk := mustKeyPair(t)
	a := mustKeyPair(t)
	tg := newTestTangle(t, 2_000_000, nk)

	genesisHash := tg.Genesis().Hash()

	in, err := transaction.SignInput(nk.Private, nk.Public(), 1_000_000)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	tx, err := transaction.New(
		[]crypto.Hash{genesisHash},
		[]transaction.Input{in},
		[]transaction.Output{{Account: a.Public(), Amount: 1_000_000}},
		1,
	)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	tx.Mine()

	node, err := tg.Add(tx)
	if err != nil {
		t.Fatalf("unexpected error adding transaction: %v", err)
	}

	aBalance, err := tg.QueryBalance(a.Public(), 0)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if aBalance != 1_000_000 {
		t.Fatalf("expected A balance 1_000_000, got %f", aBalance)
	}

	nkBalance, err := tg.QueryBalance(nk.Public(), 0)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if nkBalance != 1_000_000 {
		t.Fatalf("expected network balance 1_000_000, got %f", nkBalance)
	}

	tips := tg.Tips()
	if len(tips) != 1 || tips[0].Hash() != node.Hash() {
		t.Fatalf("expected sole tip to be the new node")
	}
}

func TestOverdraftRejected(t *testing.T) {
	nk := mustKeyPair(t)
	a := mustKeyPair(t)
	tg := newTestTangle(t, 2_000_000, nk)

	genesisHash := tg.Genesis().Hash()

	in1, err := transaction.SignInput(nk.Private, nk.Public(), 1_000_000)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	tx1, err := transaction.New([]crypto.Hash{genesisHash}, []transaction.Input{in1},
		[]transaction.Output{{Account: a.Public(), Amount: 1_000_000}}, 1)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	tx1.Mine()
	node1, err := tg.Add(tx1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	in2, err := transaction.SignInput(a.Private, a.Public(), 2_000_000)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	tx2, err := transaction.New([]crypto.Hash{node1.Hash()}, []transaction.Input{in2},
		[]transaction.Output{{Account: nk.Public(), Amount: 2_000_000}}, 1)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	tx2.Mine()

	_, err = tg.Add(tx2)
	if err == nil {
		t.Fatalf("expected overdraft to be rejected")
	}
	terr, ok := err.(*Error)
	if !ok || terr.Type != InvalidBalance {
		t.Fatalf("expected InvalidBalance error, got %v", err)
	}
	if terr.Balance != -1_000_000 {
		t.Fatalf("expected balance -1_000_000, got %f", terr.Balance)
	}

	tips := tg.Tips()
	if len(tips) != 1 || tips[0].Hash() != node1.Hash() {
		t.Fatalf("topology must be unchanged after rejected overdraft")
	}
}

func TestRemoveTipRejectsNodeWithChildren(t *testing.T) {
	nk := mustKeyPair(t)
	a := mustKeyPair(t)
	tg := newTestTangle(t, 10, nk)

	genesisHash := tg.Genesis().Hash()
	in, err := transaction.SignInput(nk.Private, nk.Public(), 5)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	tx, err := transaction.New([]crypto.Hash{genesisHash}, []transaction.Input{in},
		[]transaction.Output{{Account: a.Public(), Amount: 5}}, 1)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	tx.Mine()
	if _, err := tg.Add(tx); err != nil {
		t.Fatalf("unexpected error adding child: %v", err)
	}

	err = tg.RemoveTip(tg.Genesis())
	if err == nil {
		t.Fatalf("expected removing a node with children to fail")
	}
	terr, ok := err.(*Error)
	if !ok || terr.Type != NotATip {
		t.Fatalf("expected NotATip error, got %v", err)
	}
	if terr.Hash != genesisHash {
		t.Fatalf("expected error hash to be the genesis, got %s", terr.Hash)
	}

	tips := tg.Tips()
	if len(tips) != 1 || tips[0].Hash() == genesisHash {
		t.Fatalf("genesis must still be in the tangle, not a tip, after the rejected removal")
	}
}

func TestFindResolvesGenesisAlias(t *testing.T) {
	nk := mustKeyPair(t)
	tg := newTestTangle(t, 10, nk)

	aliased := crypto.Hash("some-old-hash")
	tg.Genesis().setAliasHashes([]crypto.Hash{aliased})

	node, ok := tg.Find(aliased)
	if !ok || node.Hash() != tg.Genesis().Hash() {
		t.Fatalf("expected Find to resolve aliased hash to genesis")
	}
}

func TestBiasedRandomWalkAlwaysReturnsATip(t *testing.T) {
	nk := mustKeyPair(t)
	tg := newTestTangle(t, 10, nk)

	tip := tg.BiasedRandomWalk(tg.Genesis(), DefaultRandomWalkAlpha)
	if len(tip.Children()) != 0 {
		t.Fatalf("expected walk to land on a childless tip")
	}
}

// selfTransferChain appends n self-transfers of amount onto parent (the
// first one chained off genesis), returning the chain in order. Every
// transaction's sole input and output belong to nk, so the account's
// reachable balance is unaffected and cannot trigger InvalidBalance.
func selfTransferChain(t *testing.T, tg *Tangle, nk *keys.KeyPair, parent crypto.Hash, amount float64, n int) []*Node {
	t.Helper()
	nodes := make([]*Node, 0, n)
	for i := 0; i < n; i++ {
		in, err := transaction.SignInput(nk.Private, nk.Public(), amount)
		if err != nil {
			t.Fatalf("err: %v", err)
		}
		tx, err := transaction.New([]crypto.Hash{parent}, []transaction.Input{in},
			[]transaction.Output{{Account: nk.Public(), Amount: amount}}, 1)
		if err != nil {
			t.Fatalf("err: %v", err)
		}
		tx.Mine()

		node, err := tg.Add(tx)
		if err != nil {
			t.Fatalf("unexpected error adding chain link %d: %v", i, err)
		}
		nodes = append(nodes, node)
		parent = node.Hash()
	}
	return nodes
}

// A tangle with no forks is the simplest case where confirmation confidence
// is exactly computable: every biased random walk, from any starting node,
// can only ever land on the single existing tip, and a node counts as its
// own ancestor, so both the tip and every one of its ancestors settle at a
// confidence of 1.0.
func TestConfirmationConfidenceReachesOneInLinearChain(t *testing.T) {
	nk := mustKeyPair(t)
	tg := newTestTangle(t, 100, nk)

	chain := selfTransferChain(t, tg, nk, tg.Genesis().Hash(), 1, 4)

	if got := tg.ConfirmationConfidence(tg.Genesis()); got != 1.0 {
		t.Fatalf("expected genesis confidence 1.0, got %f", got)
	}
	if got := tg.ConfirmationConfidence(chain[0]); got != 1.0 {
		t.Fatalf("expected old transaction's confidence 1.0, got %f", got)
	}
	if got := tg.ConfirmationConfidence(chain[len(chain)-1]); got != 1.0 {
		t.Fatalf("expected current tip's confidence 1.0, got %f", got)
	}
}

// Every Add on a tangle that never has more than GenesisCandidateThreshold
// tips records a pruning-candidate snapshot, so a linear chain guarantees
// Prune has something fully-confirmed to collapse: the most recent snapshot
// is just the current sole tip, which is trivially its own confirmed
// ancestor.
func TestPruneCollapsesLinearHistoryIntoSyntheticGenesis(t *testing.T) {
	nk := mustKeyPair(t)
	tg := newTestTangle(t, 100, nk)

	chain := selfTransferChain(t, tg, nk, tg.Genesis().Hash(), 1, 4)
	tip := chain[len(chain)-1]

	wantBalance, err := tg.QueryBalance(nk.Public(), 0)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if err := tg.Prune(); err != nil {
		t.Fatalf("unexpected error pruning: %v", err)
	}

	if got := tg.Genesis().Hash(); got != tip.Hash() {
		t.Fatalf("expected new genesis to alias the old tip's hash, got %s want %s", got, tip.Hash())
	}

	tips := tg.Tips()
	if len(tips) != 1 || tips[0].Hash() != tg.Genesis().Hash() {
		t.Fatalf("expected the new genesis to be the sole tip after pruning, got %v", tips)
	}

	if _, ok := tg.Find(chain[0].Hash()); ok {
		t.Fatalf("expected collapsed history to no longer resolve by hash")
	}

	gotBalance, err := tg.QueryBalance(nk.Public(), 0)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if gotBalance != wantBalance {
		t.Fatalf("expected balance to survive pruning unchanged, got %f want %f", gotBalance, wantBalance)
	}
}

// SelectParents' MCMC walk overwhelmingly favors the heavier of two branches
// off genesis; this builds a long actively-extended chain alongside a single
// short branch left far enough behind (in height) to trigger the left-behind
// attachment, and disables background weight propagation so the cumulative
// weights driving that bias are deterministic at the point SelectParents
// runs.
func TestSelectParentsAttachesLeftBehindTip(t *testing.T) {
	nk := mustKeyPair(t)
	tg := newTestTangle(t, 100, nk)
	tg.SetUpdateWeights(false)

	mainChain := selfTransferChain(t, tg, nk, tg.Genesis().Hash(), 1, 20)
	mainTip := mainChain[len(mainChain)-1]
	tg.UpdateCumulativeWeights(mainTip)

	shortBranch := selfTransferChain(t, tg, nk, tg.Genesis().Hash(), 1, 1)
	leftBehind := shortBranch[0]
	tg.UpdateCumulativeWeights(leftBehind)

	result := tg.SelectParents(2)

	var sawMainTip, sawLeftBehind bool
	for _, n := range result {
		if n.Hash() == mainTip.Hash() {
			sawMainTip = true
		}
		if n.Hash() == leftBehind.Hash() {
			sawLeftBehind = true
		}
	}

	if !sawMainTip {
		t.Fatalf("expected the heavily favored chain's tip among the selected parents, got %v", result)
	}
	if !sawLeftBehind {
		t.Fatalf("expected the left-behind tip to be attached as an extra parent, got %v", result)
	}
}
