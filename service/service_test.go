package service

import (
	"crypto/ecdsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tangleward/tangle/common"
	"github.com/tangleward/tangle/crypto/keys"
	"github.com/tangleward/tangle/tangle"
	"github.com/tangleward/tangle/transaction"
)

func newTestService(t *testing.T) (*Service, *ecdsa.PublicKey) {
	t.Helper()

	kp, err := keys.GenerateKeyPair()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}

	genesisTx, err := transaction.NewGenesis([]transaction.Output{{Account: kp.Public(), Amount: 100}}, 1)
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}

	tg, err := tangle.New(genesisTx, nil)
	if err != nil {
		t.Fatalf("tangle.New: %v", err)
	}

	return NewService("", tg, common.NewTestLogger(t).WithField("test", true)), kp.Public()
}

func TestGetStats(t *testing.T) {
	svc, _ := newTestService(t)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	svc.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp statsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TipCount != 1 {
		t.Fatalf("expected 1 tip, got %d", resp.TipCount)
	}
}

func TestGetBalance(t *testing.T) {
	svc, pub := newTestService(t)

	hexAccount := keys.PublicKeyHex(pub)
	req := httptest.NewRequest(http.MethodGet, "/balance/"+hexAccount, nil)
	rec := httptest.NewRecorder()
	svc.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body %s", rec.Code, rec.Body.String())
	}

	var resp balanceResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Balance != 100 {
		t.Fatalf("expected balance 100, got %v", resp.Balance)
	}
}

func TestGetBalanceMalformedAccount(t *testing.T) {
	svc, _ := newTestService(t)

	req := httptest.NewRequest(http.MethodGet, "/balance/not-hex!", nil)
	rec := httptest.NewRecorder()
	svc.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetGenesis(t *testing.T) {
	svc, _ := newTestService(t)

	req := httptest.NewRequest(http.MethodGet, "/genesis", nil)
	rec := httptest.NewRecorder()
	svc.router.ServeHTTP(rec, req)

	var resp genesisResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Hash == "" {
		t.Fatalf("expected non-empty genesis hash")
	}
}
