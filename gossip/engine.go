// Package gossip implements the broadcast-bus protocol that keeps peers'
// tangles in sync: public-key exchange, genesis-vote consensus on join,
// full-tangle replay, transaction propagation, and the orphan queue that
// buffers transactions whose parents haven't arrived yet.
package gossip

import (
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tangleward/tangle/common"
	"github.com/tangleward/tangle/crypto"
	"github.com/tangleward/tangle/crypto/keys"
	"github.com/tangleward/tangle/peers"
	"github.com/tangleward/tangle/tangle"
	"github.com/tangleward/tangle/transaction"
)

// verifyMessage is the fixed text a PublicKeySyncResponse signs to prove
// key ownership, per the wire contract.
const verifyMessage = "VERIFY"

// voteRecord tallies support for one candidate genesis-hash tuple during an
// active vote round.
type voteRecord struct {
	hashes     []crypto.Hash
	count      int
	firstVoter peers.ID
}

func voteKey(hashes []crypto.Hash) string {
	parts := make([]string, len(hashes))
	for i, h := range hashes {
		parts[i] = string(h)
	}
	return strings.Join(parts, "")
}

// Engine wires a Tangle and a peer Directory to a Bus, implementing every
// handler the gossip protocol defines and exposing the networked Add
// operation user-initiated insertions should call.
type Engine struct {
	logger  *logrus.Entry
	tg      *tangle.Tangle
	dir     *peers.Directory
	bus     Bus
	orphans *OrphanQueue

	lastKeySentMu   sync.Mutex
	lastKeySentTo   peers.ID
	haveLastKeySent bool

	voteMu                 sync.Mutex
	collectingVotes        bool
	votes                  map[string]*voteRecord
	totalVotes             int
	expectedGenesisHash    crypto.Hash
	hasExpectedGenesisHash bool
}

// NewEngine builds an Engine over tg/dir/bus and registers every handler.
// logger may be nil.
func NewEngine(tg *tangle.Tangle, dir *peers.Directory, bus Bus, logger *logrus.Entry) *Engine {
	e := &Engine{
		logger:  logger,
		tg:      tg,
		dir:     dir,
		bus:     bus,
		orphans: NewOrphanQueue(),
		votes:   make(map[string]*voteRecord),
	}
	e.registerHandlers()
	return e
}

func (e *Engine) log() *logrus.Entry {
	if e.logger != nil {
		return e.logger
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// recoverHandler implements the propagation policy: any panic from a
// handler body is caught, logged with the handler name, and swallowed so
// the bus's dispatch loop keeps running.
func (e *Engine) recoverHandler(name string) {
	if r := recover(); r != nil {
		e.log().WithFields(logrus.Fields{"handler": name, "panic": r}).Error("gossip handler panicked")
	}
}

func (e *Engine) registerHandlers() {
	e.bus.OnMessage(MsgPublicKeySyncRequest, e.handlePublicKeySyncRequest)
	e.bus.OnMessage(MsgPublicKeySyncResponse, e.handlePublicKeySyncResponse)
	e.bus.OnMessage(MsgGenesisVoteRequest, e.handleGenesisVoteRequest)
	e.bus.OnMessage(MsgGenesisVoteResponse, e.handleGenesisVoteResponse)
	e.bus.OnMessage(MsgTangleSynchronizeRequest, e.handleTangleSynchronizeRequest)
	e.bus.OnMessage(MsgUpdateWeightsRequest, e.handleUpdateWeightsRequest)
	e.bus.OnMessage(MsgSyncGenesisRequest, e.handleSyncGenesisRequest)
	e.bus.OnMessage(MsgAddTransactionRequest, e.handleAddTransactionRequest)
	e.bus.OnMessage(MsgSynchronizationAddTransactionRequest, e.handleSynchronizationAddTransactionRequest)
}

// --- public-key exchange ---

func (e *Engine) handlePublicKeySyncRequest(env Envelope) {
	defer e.recoverHandler("PublicKeySyncRequest")

	personal := e.dir.PersonalKeys()
	if personal == nil || !personal.Valid() {
		e.log().Error("local key pair missing or invalid, cannot answer PublicKeySyncRequest")
		return
	}

	e.lastKeySentMu.Lock()
	shouldRespond := !e.haveLastKeySent || e.lastKeySentTo != env.Source
	if shouldRespond {
		e.lastKeySentTo = env.Source
		e.haveLastKeySent = true
	}
	e.lastKeySentMu.Unlock()

	if shouldRespond {
		r, s, err := keys.Sign(personal.Private, []byte(verifyMessage))
		if err != nil {
			e.log().WithError(err).Error("failed to sign PublicKeySyncResponse")
			return
		}
		e.sendTo(env.Source, MsgPublicKeySyncResponse, PublicKeySyncResponse{
			PublicKey: common.EncodeToString(keys.FromPublicKey(personal.Public())),
			Signature: keys.EncodeSignature(r, s),
		})
	}

	if _, known := e.dir.PeerKey(env.Source); !known {
		e.sendTo(env.Source, MsgPublicKeySyncRequest, PublicKeySyncRequest{})
	}
}

func (e *Engine) handlePublicKeySyncResponse(env Envelope) {
	defer e.recoverHandler("PublicKeySyncResponse")

	var msg PublicKeySyncResponse
	if err := decodePayload(MsgPublicKeySyncResponse, env.Payload, &msg); err != nil {
		e.log().WithError(err).Warn("malformed PublicKeySyncResponse")
		return
	}

	raw, err := common.DecodeFromString(msg.PublicKey)
	if err != nil {
		e.log().WithError(err).Warn("malformed public key in PublicKeySyncResponse")
		return
	}
	pub := keys.ToPublicKey(raw)

	r, s, err := keys.DecodeSignature(msg.Signature)
	if err != nil {
		e.log().WithError(err).Warn("malformed signature in PublicKeySyncResponse")
		return
	}
	if !keys.Verify(pub, []byte(verifyMessage), r, s) {
		e.log().WithField("peer", env.Source).Warn("PublicKeySyncResponse failed verification, discarding")
		return
	}

	e.dir.SetPeerKey(env.Source, pub)
}

// --- genesis vote ---

func (e *Engine) handleGenesisVoteRequest(env Envelope) {
	defer e.recoverHandler("GenesisVoteRequest")

	genesis := e.tg.Genesis()
	hashes := append(append([]crypto.Hash{}, genesis.AliasHashes()...), genesis.Hash())

	personal := e.dir.PersonalKeys()
	if personal == nil {
		return
	}
	r, s, err := keys.Sign(personal.Private, []byte(voteKey(hashes)))
	if err != nil {
		e.log().WithError(err).Error("failed to sign GenesisVoteResponse")
		return
	}

	e.sendTo(env.Source, MsgGenesisVoteResponse, GenesisVoteResponse{
		Hashes:    hashes,
		Signature: keys.EncodeSignature(r, s),
	})
}

// BeginGenesisVote opens a collection window for GenesisVoteResponses and
// broadcasts a GenesisVoteRequest to every connected peer. Called when this
// peer joins a network it does not yet have a tangle for.
func (e *Engine) BeginGenesisVote() {
	e.voteMu.Lock()
	e.collectingVotes = true
	e.votes = make(map[string]*voteRecord)
	e.totalVotes = 0
	e.voteMu.Unlock()

	e.broadcast(MsgGenesisVoteRequest, GenesisVoteRequest{})
}

func (e *Engine) handleGenesisVoteResponse(env Envelope) {
	defer e.recoverHandler("GenesisVoteResponse")

	// The vote request's broadcast reaches this peer too; its own answer is
	// not a vote.
	if env.Source == e.bus.Self() {
		return
	}

	e.voteMu.Lock()
	collecting := e.collectingVotes
	e.voteMu.Unlock()
	if !collecting {
		return
	}

	var msg GenesisVoteResponse
	if err := decodePayload(MsgGenesisVoteResponse, env.Payload, &msg); err != nil {
		e.log().WithError(err).Warn("malformed GenesisVoteResponse")
		return
	}

	pub, known := e.dir.PeerKey(env.Source)
	if !known {
		e.sendTo(env.Source, MsgPublicKeySyncRequest, PublicKeySyncRequest{})
		e.sendTo(env.Source, MsgGenesisVoteRequest, GenesisVoteRequest{})
		return
	}

	r, s, err := keys.DecodeSignature(msg.Signature)
	if err != nil {
		e.log().WithError(err).Warn("malformed signature in GenesisVoteResponse")
		return
	}
	if !keys.Verify(pub, []byte(voteKey(msg.Hashes)), r, s) {
		e.log().WithField("peer", env.Source).Warn("GenesisVoteResponse failed verification, discarding")
		return
	}

	e.voteMu.Lock()
	defer e.voteMu.Unlock()

	key := voteKey(msg.Hashes)
	rec, ok := e.votes[key]
	if !ok {
		rec = &voteRecord{hashes: msg.Hashes, firstVoter: env.Source}
		e.votes[key] = rec
	}
	rec.count++
	e.totalVotes++

	knownPeers := e.dir.KnownPeerCount()
	majority := rec.count*2 > knownPeers
	exhausted := e.totalVotes >= knownPeers-1

	if !majority && !exhausted {
		return
	}

	var best *voteRecord
	for _, v := range e.votes {
		if best == nil || v.count > best.count {
			best = v
		}
	}
	if best == nil || len(best.hashes) == 0 {
		return
	}

	e.collectingVotes = false
	e.expectedGenesisHash = best.hashes[len(best.hashes)-1]
	e.hasExpectedGenesisHash = true

	if _, stillConnected := e.dir.PeerKey(best.firstVoter); stillConnected {
		e.sendTo(best.firstVoter, MsgTangleSynchronizeRequest, TangleSynchronizeRequest{})
	}
}

// --- full tangle replay ---

func (e *Engine) handleTangleSynchronizeRequest(env Envelope) {
	defer e.recoverHandler("TangleSynchronizeRequest")

	e.tg.WithStructuralLock(func() {
		genesis := e.tg.Genesis()
		e.sendSyncGenesis(env.Source, genesis)

		visited := map[*tangle.Node]bool{genesis: true}
		queue := genesis.Children()
		for _, c := range queue {
			visited[c] = true
		}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]

			e.sendSynchronizationAdd(env.Source, cur.Tx)

			for _, c := range cur.Children() {
				if !visited[c] {
					visited[c] = true
					queue = append(queue, c)
				}
			}
		}
	})

	e.sendTo(env.Source, MsgUpdateWeightsRequest, UpdateWeightsRequest{})
}

func (e *Engine) sendSyncGenesis(to peers.ID, genesis *tangle.Node) {
	personal := e.dir.PersonalKeys()
	if personal == nil {
		return
	}

	claimed := genesis.Hash()
	actual := genesis.Tx.RecomputeHash()
	r, s, err := keys.Sign(personal.Private, []byte(string(claimed)+string(actual)))
	if err != nil {
		e.log().WithError(err).Error("failed to sign SyncGenesisRequest")
		return
	}

	e.sendTo(to, MsgSyncGenesisRequest, SyncGenesisRequest{
		ClaimedHash: claimed,
		ActualHash:  actual,
		Signature:   keys.EncodeSignature(r, s),
		Tx:          genesis.Tx,
	})
}

func (e *Engine) sendSynchronizationAdd(to peers.ID, tx *transaction.Transaction) {
	personal := e.dir.PersonalKeys()
	if personal == nil {
		return
	}
	r, s, err := keys.Sign(personal.Private, []byte(tx.Hash))
	if err != nil {
		e.log().WithError(err).Error("failed to sign SynchronizationAddTransactionRequest")
		return
	}
	e.sendTo(to, MsgSynchronizationAddTransactionRequest, SynchronizationAddTransactionRequest{
		Hash:      tx.Hash,
		Signature: keys.EncodeSignature(r, s),
		Tx:        tx,
	})
}

func (e *Engine) handleUpdateWeightsRequest(env Envelope) {
	defer e.recoverHandler("UpdateWeightsRequest")
	go func() {
		for _, tip := range e.tg.Tips() {
			e.tg.UpdateCumulativeWeights(tip)
		}
	}()
}

func (e *Engine) handleSyncGenesisRequest(env Envelope) {
	defer e.recoverHandler("SyncGenesisRequest")

	var msg SyncGenesisRequest
	if err := decodePayload(MsgSyncGenesisRequest, env.Payload, &msg); err != nil {
		e.log().WithError(err).Warn("malformed SyncGenesisRequest")
		return
	}

	e.voteMu.Lock()
	expected, have := e.expectedGenesisHash, e.hasExpectedGenesisHash
	e.voteMu.Unlock()
	if !have || expected != msg.ClaimedHash {
		return
	}

	if msg.Tx.RecomputeHash() != msg.ActualHash {
		e.log().Warn("SyncGenesisRequest actual_hash does not match recomputed hash, discarding")
		return
	}

	pub, known := e.dir.PeerKey(env.Source)
	if !known {
		e.sendTo(env.Source, MsgPublicKeySyncRequest, PublicKeySyncRequest{})
		e.sendTo(env.Source, MsgTangleSynchronizeRequest, TangleSynchronizeRequest{})
		return
	}

	r, s, err := keys.DecodeSignature(msg.Signature)
	if err != nil {
		e.log().WithError(err).Warn("malformed signature in SyncGenesisRequest")
		return
	}
	if !keys.Verify(pub, []byte(string(msg.ClaimedHash)+string(msg.ActualHash)), r, s) {
		e.log().WithField("peer", env.Source).Warn("SyncGenesisRequest failed verification, discarding")
		return
	}

	if len(msg.Tx.Inputs) > 0 {
		e.log().Warn("SyncGenesisRequest genesis has inputs, rejecting")
		return
	}

	if _, err := e.tg.SetGenesis(msg.Tx); err != nil {
		e.log().WithError(err).Error("failed to install synchronized genesis")
		return
	}
	e.tg.ForceGenesisHash(msg.ClaimedHash)

	e.voteMu.Lock()
	e.hasExpectedGenesisHash = false
	e.voteMu.Unlock()
}

// --- transaction propagation ---

func (e *Engine) handleAddTransactionRequest(env Envelope) {
	defer e.recoverHandler("AddTransactionRequest")

	var msg AddTransactionRequest
	if err := decodePayload(MsgAddTransactionRequest, env.Payload, &msg); err != nil {
		e.log().WithError(err).Warn("malformed AddTransactionRequest")
		return
	}
	e.handleAddBase(env.Source, msg.Hash, msg.Signature, msg.Tx, true)
}

func (e *Engine) handleSynchronizationAddTransactionRequest(env Envelope) {
	defer e.recoverHandler("SynchronizationAddTransactionRequest")

	var msg SynchronizationAddTransactionRequest
	if err := decodePayload(MsgSynchronizationAddTransactionRequest, env.Payload, &msg); err != nil {
		e.log().WithError(err).Warn("malformed SynchronizationAddTransactionRequest")
		return
	}
	e.handleAddBase(env.Source, msg.Hash, msg.Signature, msg.Tx, false)
}

// handleAddBase implements AddTransactionRequestBase: validate the claimed
// hash, attempt the add, drain and shrink the orphan queue. updateWeights
// toggles background recomputation around the attempt, suppressed during
// bulk sync to avoid cascading recomputes.
func (e *Engine) handleAddBase(source peers.ID, claimedHash crypto.Hash, signature string, tx *transaction.Transaction, updateWeights bool) {
	if tx == nil || tx.Hash != claimedHash {
		e.log().WithField("claimed", claimedHash).Warn("AddTransactionRequest hash mismatch, discarding")
		return
	}

	if !updateWeights {
		e.tg.SetUpdateWeights(false)
		defer e.tg.SetUpdateWeights(true)
	}

	e.attemptToAdd(tx, source, signature)

	for _, orphan := range e.orphans.DrainAll() {
		e.attemptToAdd(orphan.Tx, orphan.Peer, orphan.Signature)
	}
	e.orphans.MaybeShrink()
}

// attemptToAdd implements the shared validation path: unknown signer keys
// and unresolved parents both orphan the transaction rather than reject
// it, since either condition may resolve once more gossip arrives.
func (e *Engine) attemptToAdd(tx *transaction.Transaction, source peers.ID, signature string) {
	pub, known := e.dir.PeerKey(source)
	if !known {
		e.sendTo(source, MsgPublicKeySyncRequest, PublicKeySyncRequest{})
		e.orphans.Enqueue(tx, source, signature)
		return
	}

	r, s, err := keys.DecodeSignature(signature)
	if err != nil {
		e.log().WithError(err).Warn("malformed transaction signature, discarding")
		return
	}
	if !keys.Verify(pub, []byte(tx.Hash), r, s) {
		e.log().WithField("hash", tx.Hash).Warn("transaction signature failed verification, discarding")
		return
	}

	for _, ph := range tx.ParentHashes {
		if _, ok := e.tg.Find(ph); !ok {
			e.orphans.Enqueue(tx, source, signature)
			return
		}
	}

	if _, err := e.tg.Add(tx); err != nil {
		e.log().WithFields(logrus.Fields{"hash": tx.Hash, "error": err}).Debug("structural add rejected transaction")
		return
	}
	e.log().WithField("hash", tx.Hash).Debug("structurally added transaction from gossip")
}

// AddTransaction is the networked add entry point: structural add followed
// by a signed broadcast, per the structural-versus-networked distinction.
// Every user-initiated insertion should call this rather than the tangle's
// own Add directly, so the rest of the network learns about it; handlers
// receiving remote transactions call the tangle's structural Add instead,
// to avoid echoing a transaction back out and causing a fan-out storm.
func (e *Engine) AddTransaction(tx *transaction.Transaction) error {
	if _, err := e.tg.Add(tx); err != nil {
		return err
	}

	personal := e.dir.PersonalKeys()
	if personal == nil {
		return nil
	}
	r, s, err := keys.Sign(personal.Private, []byte(tx.Hash))
	if err != nil {
		return err
	}

	e.broadcast(MsgAddTransactionRequest, AddTransactionRequest{
		Hash:      tx.Hash,
		Signature: keys.EncodeSignature(r, s),
		Tx:        tx,
	})
	return nil
}

// --- send helpers ---

func (e *Engine) sendTo(to peers.ID, t MessageType, msg interface{}) {
	payload, err := encodePayload(t, msg)
	if err != nil {
		e.log().WithError(err).WithField("type", t).Error("failed to encode outgoing message")
		return
	}
	e.bus.SendTo(to, Envelope{Type: t, Payload: payload})
}

func (e *Engine) broadcast(t MessageType, msg interface{}) {
	payload, err := encodePayload(t, msg)
	if err != nil {
		e.log().WithError(err).WithField("type", t).Error("failed to encode outgoing message")
		return
	}
	e.bus.Broadcast(Envelope{Type: t, Payload: payload})
}

// --- persistence.Dispatcher ---

// DispatchSyncGenesis implements persistence.Dispatcher by self-addressing
// a SyncGenesisRequest the way a loaded-from-disk genesis would arrive over
// the network, reusing the same install path.
func (e *Engine) DispatchSyncGenesis(tx *transaction.Transaction) error {
	personal := e.dir.PersonalKeys()
	if personal == nil {
		return &tangle.Error{Type: tangle.InvalidKey}
	}

	e.voteMu.Lock()
	e.expectedGenesisHash = tx.Hash
	e.hasExpectedGenesisHash = true
	e.voteMu.Unlock()

	r, s, err := keys.Sign(personal.Private, []byte(string(tx.Hash)+string(tx.Hash)))
	if err != nil {
		return err
	}

	payload, err := encodePayload(MsgSyncGenesisRequest, SyncGenesisRequest{
		ClaimedHash: tx.Hash,
		ActualHash:  tx.Hash,
		Signature:   keys.EncodeSignature(r, s),
		Tx:          tx,
	})
	if err != nil {
		return err
	}

	selfID := e.dir.SelfID()
	e.dir.SetPeerKey(selfID, personal.Public())
	e.bus.SendTo(selfID, Envelope{Type: MsgSyncGenesisRequest, Source: selfID, Payload: payload})
	return nil
}

// DispatchSynchronizationAdd implements persistence.Dispatcher the same way,
// self-addressing a SynchronizationAddTransactionRequest.
func (e *Engine) DispatchSynchronizationAdd(tx *transaction.Transaction) error {
	personal := e.dir.PersonalKeys()
	if personal == nil {
		return &tangle.Error{Type: tangle.InvalidKey}
	}

	r, s, err := keys.Sign(personal.Private, []byte(tx.Hash))
	if err != nil {
		return err
	}

	payload, err := encodePayload(MsgSynchronizationAddTransactionRequest, SynchronizationAddTransactionRequest{
		Hash:      tx.Hash,
		Signature: keys.EncodeSignature(r, s),
		Tx:        tx,
	})
	if err != nil {
		return err
	}

	selfID := e.dir.SelfID()
	e.bus.SendTo(selfID, Envelope{Type: MsgSynchronizationAddTransactionRequest, Source: selfID, Payload: payload})
	return nil
}

// DispatchUpdateWeights implements persistence.Dispatcher by self-addressing
// an UpdateWeightsRequest.
func (e *Engine) DispatchUpdateWeights() {
	selfID := e.dir.SelfID()
	e.bus.SendTo(selfID, Envelope{Type: MsgUpdateWeightsRequest, Source: selfID})
}
