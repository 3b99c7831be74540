package gossip

import (
	"sync"

	"github.com/google/uuid"

	"github.com/tangleward/tangle/peers"
)

// MessageType names one of the wire message kinds the bus carries. Carried
// as a plain string rather than an iota so a log line naming the type is
// self-describing without a lookup table.
type MessageType string

const (
	MsgPublicKeySyncRequest               MessageType = "PublicKeySyncRequest"
	MsgPublicKeySyncResponse              MessageType = "PublicKeySyncResponse"
	MsgGenesisVoteRequest                 MessageType = "GenesisVoteRequest"
	MsgGenesisVoteResponse                MessageType = "GenesisVoteResponse"
	MsgTangleSynchronizeRequest           MessageType = "TangleSynchronizeRequest"
	MsgUpdateWeightsRequest               MessageType = "UpdateWeightsRequest"
	MsgSyncGenesisRequest                 MessageType = "SyncGenesisRequest"
	MsgAddTransactionRequest              MessageType = "AddTransactionRequest"
	MsgSynchronizationAddTransactionRequest MessageType = "SynchronizationAddTransactionRequest"
)

// Envelope is one message in flight: a typed, peer-attributed payload. The
// three message types the taxonomy marks as gzip-compressed carry a Payload
// that is already gzipped JSON; every other type carries plain JSON. Source
// is the sender's ID as the bus assigns it; a message a peer delivers to
// itself (a broadcast's own copy, or the Dispatch* methods persistence's load
// path calls) carries this peer's own ID.
type Envelope struct {
	Type    MessageType
	Source  peers.ID
	Payload []byte
}

// Handler receives one delivered envelope.
type Handler func(Envelope)

// Bus is the minimal broadcast transport the gossip engine consumes: no
// ordering or delivery guarantee, tolerant of loss, reordering and
// duplication. An InMemBus implementation exists for same-process testing
// and for persistence's self-addressed replay; a real deployment would
// plug in a transport wired to an actual network.
type Bus interface {
	Self() peers.ID
	Broadcast(env Envelope)
	SendTo(peer peers.ID, env Envelope)
	OnConnect(cb func(peers.ID))
	OnDisconnect(cb func(peers.ID))
	OnMessage(t MessageType, h Handler)
}

// InMemBus is a same-process broadcast bus: every registered peer is a
// channel-fed goroutine dispatching into that peer's own handler table.
// Grounded on the teacher's InmemTransport (a map of peer address to peer,
// guarded by a lock, with a buffered per-peer channel standing in for a
// socket) generalized from point-to-point RPC to typed broadcast/pub-sub.
type InMemBus struct {
	self peers.ID

	mu    sync.RWMutex
	peers map[peers.ID]*InMemBus

	connMu      sync.RWMutex
	connections map[peers.ID]uuid.UUID

	handlersMu sync.RWMutex
	handlers   map[MessageType][]Handler

	lifecycleMu  sync.RWMutex
	onConnect    []func(peers.ID)
	onDisconnect []func(peers.ID)

	inbox chan Envelope
	done  chan struct{}
}

// NewInMemBus creates a bus identified as self and starts its delivery loop.
func NewInMemBus(self peers.ID) *InMemBus {
	b := &InMemBus{
		self:        self,
		peers:       make(map[peers.ID]*InMemBus),
		connections: make(map[peers.ID]uuid.UUID),
		handlers:    make(map[MessageType][]Handler),
		inbox:       make(chan Envelope, 256),
		done:        make(chan struct{}),
	}
	go b.loop()
	return b
}

func (b *InMemBus) loop() {
	for {
		select {
		case env := <-b.inbox:
			b.dispatch(env)
		case <-b.done:
			return
		}
	}
}

func (b *InMemBus) dispatch(env Envelope) {
	b.handlersMu.RLock()
	hs := append([]Handler{}, b.handlers[env.Type]...)
	b.handlersMu.RUnlock()
	for _, h := range hs {
		h(env)
	}
}

// Close stops the delivery loop. Peers already holding a reference to this
// bus will find sends to it silently dropped once closed.
func (b *InMemBus) Close() {
	close(b.done)
}

// Connect registers other as a reachable peer of both b and other (the
// in-memory transport is symmetric - there is no direction-only link in a
// single test process) and fires both sides' OnConnect callbacks. The pair
// is tagged with a single connection id, visible to either side via
// ConnectionID, replacing the hand-rolled id generator a point-to-point
// transport would otherwise need.
func (b *InMemBus) Connect(other *InMemBus) {
	connID := uuid.New()

	b.mu.Lock()
	b.peers[other.self] = other
	b.mu.Unlock()
	b.connMu.Lock()
	b.connections[other.self] = connID
	b.connMu.Unlock()

	other.mu.Lock()
	other.peers[b.self] = b
	other.mu.Unlock()
	other.connMu.Lock()
	other.connections[b.self] = connID
	other.connMu.Unlock()

	b.fireConnect(other.self)
	other.fireConnect(b.self)
}

// ConnectionID returns the id Connect assigned to the link with peer, if
// one is still established.
func (b *InMemBus) ConnectionID(peer peers.ID) (uuid.UUID, bool) {
	b.connMu.RLock()
	defer b.connMu.RUnlock()
	id, ok := b.connections[peer]
	return id, ok
}

func (b *InMemBus) fireConnect(id peers.ID) {
	b.lifecycleMu.RLock()
	cbs := append([]func(peers.ID){}, b.onConnect...)
	b.lifecycleMu.RUnlock()
	for _, cb := range cbs {
		cb(id)
	}
}

// Self implements Bus.
func (b *InMemBus) Self() peers.ID { return b.self }

// Broadcast implements Bus: best-effort delivery to every connected peer,
// plus a self-delivery so self-addressed variants (persistence's replay)
// reach this bus's own handlers too.
func (b *InMemBus) Broadcast(env Envelope) {
	env.Source = b.self

	b.mu.RLock()
	targets := make([]*InMemBus, 0, len(b.peers))
	for _, p := range b.peers {
		targets = append(targets, p)
	}
	b.mu.RUnlock()

	for _, p := range targets {
		p.deliver(env)
	}
	b.deliver(env)
}

// SendTo implements Bus: best-effort delivery to one named peer. A
// self-addressed send (peer == Self()) delivers directly into this bus's
// own handler table without needing a loopback entry in the peer map -
// persistence's load path relies on exactly this to self-dispatch.
func (b *InMemBus) SendTo(peer peers.ID, env Envelope) {
	env.Source = b.self

	if peer == b.self {
		b.deliver(env)
		return
	}

	b.mu.RLock()
	p, ok := b.peers[peer]
	b.mu.RUnlock()
	if !ok {
		return
	}
	p.deliver(env)
}

func (b *InMemBus) deliver(env Envelope) {
	select {
	case b.inbox <- env:
	case <-b.done:
	}
}

// OnConnect implements Bus.
func (b *InMemBus) OnConnect(cb func(peers.ID)) {
	b.lifecycleMu.Lock()
	b.onConnect = append(b.onConnect, cb)
	b.lifecycleMu.Unlock()
}

// OnDisconnect implements Bus.
func (b *InMemBus) OnDisconnect(cb func(peers.ID)) {
	b.lifecycleMu.Lock()
	b.onDisconnect = append(b.onDisconnect, cb)
	b.lifecycleMu.Unlock()
}

// Disconnect removes other from b's peer set and fires OnDisconnect.
func (b *InMemBus) Disconnect(other peers.ID) {
	b.mu.Lock()
	delete(b.peers, other)
	b.mu.Unlock()

	b.connMu.Lock()
	delete(b.connections, other)
	b.connMu.Unlock()

	b.lifecycleMu.RLock()
	cbs := append([]func(peers.ID){}, b.onDisconnect...)
	b.lifecycleMu.RUnlock()
	for _, cb := range cbs {
		cb(other)
	}
}

// OnMessage implements Bus: registers h to run whenever an envelope of type
// t is delivered to this bus.
func (b *InMemBus) OnMessage(t MessageType, h Handler) {
	b.handlersMu.Lock()
	b.handlers[t] = append(b.handlers[t], h)
	b.handlersMu.Unlock()
}
