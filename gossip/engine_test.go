package gossip

import (
	"testing"
	"time"

	"github.com/tangleward/tangle/crypto"
	"github.com/tangleward/tangle/crypto/keys"
	"github.com/tangleward/tangle/peers"
	"github.com/tangleward/tangle/tangle"
	"github.com/tangleward/tangle/transaction"
)

func mustKeyPair(t *testing.T) *keys.KeyPair {
	t.Helper()
	kp, err := keys.GenerateKeyPair()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	return kp
}

func newWiredEngine(t *testing.T, genesisTx *transaction.Transaction, id peers.ID, selfKeys *keys.KeyPair) (*Engine, *InMemBus, *peers.Directory, *tangle.Tangle) {
	t.Helper()

	tg, err := tangle.New(genesisTx, nil)
	if err != nil {
		t.Fatalf("tangle.New: %v", err)
	}

	dir := peers.NewDirectory()
	dir.SetKeyPair(selfKeys, id)

	bus := NewInMemBus(id)
	eng := NewEngine(tg, dir, bus, nil)
	return eng, bus, dir, tg
}

// TestOrphanResolution mirrors the spec's literal scenario 4: peer B
// receives T2 (parent T1) before T1 (parent genesis), must hold T2 in its
// orphan queue until T1 arrives, at which point both settle and B's sole
// tip is T2.
func TestOrphanResolution(t *testing.T) {
	nk := mustKeyPair(t)
	acctX := mustKeyPair(t)
	acctY := mustKeyPair(t)
	kpA := mustKeyPair(t)
	kpB := mustKeyPair(t)

	genesisTx, err := transaction.NewGenesis([]transaction.Output{{Account: nk.Public(), Amount: 1000}}, 1)
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}
	genesisTx.Mine()

	_, _, dirA, _ := newWiredEngine(t, genesisTx, "A", kpA)
	engB, busB, dirB, tgB := newWiredEngine(t, genesisTx, "B", kpB)
	dirA.SetPeerKey("B", kpB.Public())
	dirB.SetPeerKey("A", kpA.Public())

	in1, err := transaction.SignInput(nk.Private, nk.Public(), 10)
	if err != nil {
		t.Fatalf("sign input 1: %v", err)
	}
	t1, err := transaction.New([]crypto.Hash{genesisTx.Hash}, []transaction.Input{in1},
		[]transaction.Output{{Account: acctX.Public(), Amount: 10}}, 1)
	if err != nil {
		t.Fatalf("new t1: %v", err)
	}
	t1.Mine()

	in2, err := transaction.SignInput(acctX.Private, acctX.Public(), 5)
	if err != nil {
		t.Fatalf("sign input 2: %v", err)
	}
	t2, err := transaction.New([]crypto.Hash{t1.Hash}, []transaction.Input{in2},
		[]transaction.Output{{Account: acctY.Public(), Amount: 5}}, 1)
	if err != nil {
		t.Fatalf("new t2: %v", err)
	}
	t2.Mine()

	sign := func(tx *transaction.Transaction) string {
		r, s, err := keys.Sign(kpA.Private, []byte(tx.Hash))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return keys.EncodeSignature(r, s)
	}

	envelopeFor := func(tx *transaction.Transaction) Envelope {
		payload, err := encodePayload(MsgAddTransactionRequest, AddTransactionRequest{
			Hash:      tx.Hash,
			Signature: sign(tx),
			Tx:        tx,
		})
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		return Envelope{Type: MsgAddTransactionRequest, Source: "A", Payload: payload}
	}

	// B receives T2 first: it orphans, leaving only the genesis installed.
	busB.dispatch(envelopeFor(t2))

	if _, ok := tgB.Find(t2.Hash); ok {
		t.Fatalf("T2 should not be installed before its parent arrives")
	}
	if got := engB.orphans.Len(); got != 1 {
		t.Fatalf("expected 1 orphaned entry, got %d", got)
	}
	tips := tgB.Tips()
	if len(tips) != 1 || tips[0].Hash() != genesisTx.Hash {
		t.Fatalf("expected genesis to be the sole tip, got %v", tips)
	}

	// Now T1 arrives: it installs, then draining the orphan queue installs
	// T2 too.
	busB.dispatch(envelopeFor(t1))

	if _, ok := tgB.Find(t1.Hash); !ok {
		t.Fatalf("T1 should be installed")
	}
	if _, ok := tgB.Find(t2.Hash); !ok {
		t.Fatalf("T2 should be installed after T1 arrives")
	}
	if got := engB.orphans.Len(); got != 0 {
		t.Fatalf("orphan queue should be empty, got %d entries", got)
	}

	tips = tgB.Tips()
	if len(tips) != 1 || tips[0].Hash() != t2.Hash {
		t.Fatalf("expected T2 to be the sole tip, got %v", tips)
	}
}

// TestPublicKeyHandshakeConverges exercises the real asynchronous bus: two
// connected peers with no prior knowledge of each other's keys exchange
// PublicKeySyncRequest/Response on connect and each ends up holding the
// other's verified key.
func TestPublicKeyHandshakeConverges(t *testing.T) {
	kpA := mustKeyPair(t)
	kpB := mustKeyPair(t)

	genesisTx, err := transaction.NewGenesis([]transaction.Output{{Account: kpA.Public(), Amount: 1}}, 1)
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}
	genesisTx.Mine()

	_, busA, dirA, _ := newWiredEngine(t, genesisTx, "A", kpA)
	_, busB, dirB, _ := newWiredEngine(t, genesisTx, "B", kpB)

	busA.OnConnect(func(id peers.ID) {
		busA.SendTo(id, mustEnvelope(t, MsgPublicKeySyncRequest, PublicKeySyncRequest{}))
	})
	busB.OnConnect(func(id peers.ID) {
		busB.SendTo(id, mustEnvelope(t, MsgPublicKeySyncRequest, PublicKeySyncRequest{}))
	})

	busA.Connect(busB)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, okA := dirA.PeerKey("B")
		_, okB := dirB.PeerKey("A")
		if okA && okB {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("public key handshake did not converge")
}

func mustEnvelope(t *testing.T, msgType MessageType, msg interface{}) Envelope {
	t.Helper()
	payload, err := encodePayload(msgType, msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return Envelope{Type: msgType, Payload: payload}
}
