// Package service exposes a small read-only HTTP surface over a running
// peer's tangle: tip count, genesis hash, and per-account balance queries.
// It carries no gossip-protocol responsibility of its own - it is purely
// observability, the same role the reference engine's own service package
// played over its consensus graph, and the operator console spec.md's
// Non-goals excludes stays out of scope.
package service

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/tangleward/tangle/common"
	"github.com/tangleward/tangle/crypto/keys"
	"github.com/tangleward/tangle/tangle"
)

// Service serves JSON over HTTP for a single Tangle.
type Service struct {
	bindAddress string
	tg          *tangle.Tangle
	logger      *logrus.Entry
	router      *mux.Router
}

// NewService builds a Service bound to addr, serving tg's state. Serve must
// be called to actually start listening.
func NewService(bindAddress string, tg *tangle.Tangle, logger *logrus.Entry) *Service {
	s := &Service{
		bindAddress: bindAddress,
		tg:          tg,
		logger:      logger,
		router:      mux.NewRouter().SkipClean(true),
	}
	s.registerHandlers()
	return s
}

func (s *Service) registerHandlers() {
	s.router.HandleFunc("/stats", s.corsHandler(s.GetStats)).Methods("GET")
	s.router.HandleFunc("/genesis", s.corsHandler(s.GetGenesis)).Methods("GET")
	s.router.HandleFunc("/balance/{account:.+}", s.corsHandler(s.GetBalance)).Methods("GET")
}

// corsHandler wraps fn with the permissive CORS header the reference
// service always set, so a locally hosted dashboard can call this API
// straight from a browser.
func (s *Service) corsHandler(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Content-Type", "application/json")
		fn(w, r)
	}
}

// Serve blocks, listening on bindAddress.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("service serving")
	if err := http.ListenAndServe(s.bindAddress, s.router); err != nil {
		s.logger.WithError(err).Error("service failed")
	}
}

type statsResponse struct {
	TipCount    int    `json:"tip_count"`
	GenesisHash string `json:"genesis_hash"`
}

// GetStats reports the current tip count and genesis hash.
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		TipCount:    len(s.tg.Tips()),
		GenesisHash: string(s.tg.Genesis().Hash()),
	}
	json.NewEncoder(w).Encode(resp)
}

type genesisResponse struct {
	Hash      string `json:"hash"`
	Timestamp int64  `json:"timestamp"`
}

// GetGenesis reports the current genesis hash and timestamp.
func (s *Service) GetGenesis(w http.ResponseWriter, r *http.Request) {
	genesis := s.tg.Genesis()
	json.NewEncoder(w).Encode(genesisResponse{
		Hash:      string(genesis.Hash()),
		Timestamp: genesis.Tx.Timestamp,
	})
}

type balanceResponse struct {
	Account string  `json:"account"`
	Balance float64 `json:"balance"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// GetBalance decodes {account} as a standard-base64 uncompressed public key
// (the form keys.PublicKeyHex produces, '/' included) and reports its
// reconstructed balance, using every node currently in the tangle
// (confidence threshold 0) since this is a debug surface, not a settlement
// query.
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	hexAccount := mux.Vars(r)["account"]

	raw, err := common.DecodeFromString(hexAccount)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(errorResponse{Error: "malformed account: " + err.Error()})
		return
	}

	account := keys.ToPublicKey(raw)
	balance, err := s.tg.QueryBalance(account, 0)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
		return
	}

	json.NewEncoder(w).Encode(balanceResponse{Account: hexAccount, Balance: balance})
}
