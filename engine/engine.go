// Package engine assembles a Config, a key, a peer Directory, a Tangle and
// a gossip Engine into the lifecycle a running peer actually follows:
// load-or-generate identity, load-or-seed the tangle, wire the bus, then run
// until asked to stop, adapted to a ledger with no real network transport of
// its own - "connecting" two Engines means handing one's bus to the other's
// Connect method within the same process.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tangleward/tangle/config"
	"github.com/tangleward/tangle/crypto"
	"github.com/tangleward/tangle/crypto/keys"
	"github.com/tangleward/tangle/gossip"
	"github.com/tangleward/tangle/peers"
	"github.com/tangleward/tangle/persistence"
	"github.com/tangleward/tangle/service"
	"github.com/tangleward/tangle/tangle"
	"github.com/tangleward/tangle/transaction"
)

// snapshotSaveInterval is how often Run persists the tangle in the
// background, independent of any explicit Shutdown save.
const snapshotSaveInterval = 30 * time.Second

// Engine owns every long-lived component a running peer needs and the
// order they must come up in.
type Engine struct {
	Config    *config.Config
	Key       *keys.KeyPair
	Directory *peers.Directory
	Tangle    *tangle.Tangle
	Bus       *gossip.InMemBus
	Gossip    *gossip.Engine
	Service   *service.Service

	peerStore   *peers.JSONDirectoryStore
	badgerStore *persistence.BadgerSnapshotStore

	// seeded is true when this peer started from a genesis file or an
	// existing snapshot, i.e. it already has a real genesis and should not
	// go looking for one over the bus.
	seeded bool
}

// New returns an Engine bound to cfg. Call Init before Run.
func New(cfg *config.Config) *Engine {
	return &Engine{Config: cfg}
}

// Init brings every component up in dependency order: key, directory,
// tangle (loaded or seeded), then the gossip bus over it.
func (e *Engine) Init() error {
	if err := e.initKey(); err != nil {
		return fmt.Errorf("initializing key: %w", err)
	}
	if err := e.initDirectory(); err != nil {
		return fmt.Errorf("initializing peer directory: %w", err)
	}
	if err := e.initTangle(); err != nil {
		return fmt.Errorf("initializing tangle: %w", err)
	}
	e.initGossip()
	if err := e.initStore(); err != nil {
		return fmt.Errorf("initializing store: %w", err)
	}
	e.initService()
	return nil
}

// initKey loads the peer's private key, generating and persisting a fresh
// one on first run.
func (e *Engine) initKey() error {
	pemKey := crypto.NewPemKey(e.Config.DataDir)

	priv, err := pemKey.ReadKey()
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		priv, err = keys.GenerateECDSAKey()
		if err != nil {
			return err
		}
		if err := pemKey.WriteKey(priv); err != nil {
			return err
		}
		e.Config.Logger().WithField("datadir", e.Config.DataDir).Info("generated a new private key")
	}

	e.Key = keys.NewKeyPair(priv)
	return nil
}

// initDirectory installs this peer's own identity and loads any previously
// verified peer keys from disk.
func (e *Engine) initDirectory() error {
	e.Directory = peers.NewDirectory()
	e.Directory.SetKeyPair(e.Key, peers.ID(e.Config.Moniker))

	e.peerStore = peers.NewJSONDirectoryStore(e.Config.DataDir)
	if err := e.peerStore.Load(e.Directory); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// initTangle builds the Tangle this peer starts with. If a durable snapshot
// already exists, a placeholder genesis is used here and the real tangle is
// replayed into it once initStore runs. Otherwise a configured genesis file
// seeds a brand-new network directly; absent that, a placeholder genesis is
// installed and the gossip genesis vote (run by the caller once peers are
// connected) replaces it with whatever the network has already agreed on.
func (e *Engine) initTangle() error {
	if e.hasExistingSnapshot() {
		genesisTx, err := placeholderGenesis()
		if err != nil {
			return err
		}
		tg, err := tangle.New(genesisTx, e.Config.Logger())
		if err != nil {
			return err
		}
		e.Tangle = tg
		e.seeded = true
		return nil
	}

	if genesisTx, err := loadGenesisFile(e.Config.GenesisPath()); err == nil {
		tg, err := tangle.New(genesisTx, e.Config.Logger())
		if err != nil {
			return err
		}
		e.Tangle = tg
		e.seeded = true
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	genesisTx, err := placeholderGenesis()
	if err != nil {
		return err
	}
	tg, err := tangle.New(genesisTx, e.Config.Logger())
	if err != nil {
		return err
	}
	e.Tangle = tg
	e.seeded = false
	return nil
}

func (e *Engine) hasExistingSnapshot() bool {
	if e.Config.Store {
		_, err := os.Stat(e.Config.DatabaseDir())
		return err == nil
	}
	_, err := os.Stat(e.Config.SnapshotFile())
	return err == nil
}

// initGossip wires the bus and the handler engine over the tangle and
// directory just built, and arranges for a fresh connection to trigger a
// key handshake the way the spec's on_connect contract expects a caller to.
func (e *Engine) initGossip() {
	e.Bus = gossip.NewInMemBus(peers.ID(e.Config.Moniker))
	e.Gossip = gossip.NewEngine(e.Tangle, e.Directory, e.Bus, e.Config.Logger())

	e.Bus.OnConnect(func(id peers.ID) {
		e.Bus.SendTo(id, gossip.Envelope{Type: gossip.MsgPublicKeySyncRequest})
		if !e.seeded {
			e.Gossip.BeginGenesisVote()
		}
	})
}

// initStore opens the durable store this peer uses and, if a snapshot was
// already on disk, replays it through the gossip engine's self-dispatch
// path (the same one a TangleSynchronizeRequest reply uses).
func (e *Engine) initStore() error {
	if e.Config.Store {
		store, err := persistence.NewBadgerSnapshotStore(e.Config.DatabaseDir())
		if err != nil {
			return err
		}
		e.badgerStore = store
		if e.seeded {
			return store.Load(e.Gossip)
		}
		return nil
	}

	if !e.seeded {
		return nil
	}
	f, err := os.Open(e.Config.SnapshotFile())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	return persistence.LoadTangle(f, info.Size(), e.Gossip)
}

// initService builds the debug HTTP surface over this peer's tangle, if a
// bind address was configured. Leaving ServiceAddr empty skips it entirely.
func (e *Engine) initService() {
	if e.Config.ServiceAddr == "" {
		return
	}
	e.Service = service.NewService(e.Config.ServiceAddr, e.Tangle, e.Config.Logger())
}

// Connect joins this Engine's bus to other's, the in-process stand-in for
// dialing a peer: both sides' on_connect callbacks fire, starting the key
// handshake and, for an unseeded side, a genesis vote.
func (e *Engine) Connect(other *Engine) {
	e.Bus.Connect(other.Bus)
}

// AddTransaction submits an already mined, user-originated transaction
// through the networked add path: structural install followed by a signed
// broadcast. It does no mining of its own.
func (e *Engine) AddTransaction(tx *transaction.Transaction) error {
	return e.Gossip.AddTransaction(tx)
}

// Run blocks, periodically persisting the tangle, until ctx is cancelled,
// then saves once more and releases the store.
func (e *Engine) Run(ctx context.Context) error {
	if e.Service != nil {
		go e.Service.Serve()
	}

	ticker := time.NewTicker(snapshotSaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return e.Shutdown()
		case <-ticker.C:
			if err := e.saveSnapshot(); err != nil {
				e.Config.Logger().WithError(err).Error("periodic snapshot save failed")
			}
		}
	}
}

// Shutdown persists the tangle and the peer directory one last time and
// releases the durable store.
func (e *Engine) Shutdown() error {
	if err := e.saveSnapshot(); err != nil {
		return err
	}
	if e.peerStore != nil {
		if err := e.peerStore.Save(e.Directory); err != nil {
			return err
		}
	}
	e.Bus.Close()
	if e.badgerStore != nil {
		return e.badgerStore.Close()
	}
	return nil
}

func (e *Engine) saveSnapshot() error {
	if e.Config.Store {
		return e.badgerStore.Save(e.Tangle)
	}

	f, err := os.Create(e.Config.SnapshotFile())
	if err != nil {
		return err
	}
	defer f.Close()
	return persistence.SaveTangle(e.Tangle, f)
}

func loadGenesisFile(path string) (*transaction.Transaction, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tx := &transaction.Transaction{}
	if err := json.Unmarshal(buf, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// placeholderGenesis is a zero-output, zero-difficulty root used only to
// bootstrap a Tangle struct before its real genesis is known; set_genesis
// (triggered by a synchronized replay or a won genesis vote) replaces it
// wholesale.
func placeholderGenesis() (*transaction.Transaction, error) {
	return transaction.NewGenesis(nil, 0)
}
