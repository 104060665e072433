package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/walletabi/relaygo/internal/database"
	"github.com/walletabi/relaygo/internal/models"
	"github.com/walletabi/relaygo/internal/pairing"
	"github.com/walletabi/relaygo/internal/relay"
	"github.com/walletabi/relaygo/internal/store"
	"github.com/walletabi/relaygo/internal/transport"
)

var testSecret = []byte("test-secret-not-for-production")

func newTestRouter(t *testing.T) *Router {
	t.Helper()

	db, err := database.Connect(":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.AutoMigrate(&models.Pairing{}, &models.Message{}, &models.Event{}); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	st := store.New(db)
	manager := pairing.NewManager(st, testSecret, transport.MaxRequestTTLMs, "ws://127.0.0.1:8787/v1/ws")
	relayServer := relay.NewServer(st, testSecret)
	return NewRouter(manager, relayServer)
}

func doJSON(t *testing.T, router *Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, "GET", "/v1/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz returned %d", rec.Code)
	}
}

func TestCreateGetDeletePairing(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, "POST", "/v1/pairings", pairing.CreateInput{
		Origin:    "https://dapp.example",
		RequestID: "req-1",
		Network:   "mainnet",
		TTLMs:     90_000,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create returned %d: %s", rec.Code, rec.Body)
	}

	var created pairing.CreateResult
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("parse create response: %v", err)
	}
	if created.PairingID == "" || created.WebToken == "" || created.PhoneToken == "" {
		t.Fatalf("incomplete create response: %+v", created)
	}

	rec = doJSON(t, router, "GET", "/v1/pairings/"+created.PairingID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get returned %d: %s", rec.Code, rec.Body)
	}
	var view pairing.StatusView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("parse status view: %v", err)
	}
	if view.State != models.PairingStateCreated {
		t.Errorf("state = %s", view.State)
	}

	rec = doJSON(t, router, "DELETE", "/v1/pairings/"+created.PairingID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete returned %d", rec.Code)
	}

	rec = doJSON(t, router, "GET", "/v1/pairings/"+created.PairingID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete returned %d", rec.Code)
	}

	// Delete is idempotent.
	rec = doJSON(t, router, "DELETE", "/v1/pairings/"+created.PairingID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("repeat delete returned %d", rec.Code)
	}
}

func TestCreatePairingRejectsBadInput(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, "POST", "/v1/pairings", pairing.CreateInput{
		Origin:    "http://dapp.example",
		RequestID: "req-1",
		Network:   "mainnet",
		TTLMs:     90_000,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad origin returned %d", rec.Code)
	}

	var apiErr struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &apiErr); err != nil {
		t.Fatalf("parse error body: %v", err)
	}
	if apiErr.Code != "invalid_pairing" || apiErr.Message == "" {
		t.Errorf("unexpected error body: %+v", apiErr)
	}

	req := httptest.NewRequest("POST", "/v1/pairings", bytes.NewReader([]byte("{not json")))
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusBadRequest {
		t.Fatalf("malformed body returned %d", rec2.Code)
	}
}

func TestGetUnknownPairing(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, "GET", "/v1/pairings/no-such-id", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown pairing returned %d", rec.Code)
	}
}
