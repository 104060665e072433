package pairing

import (
	"errors"
	"testing"

	"github.com/walletabi/relaygo/internal/database"
	"github.com/walletabi/relaygo/internal/models"
	"github.com/walletabi/relaygo/internal/store"
	"github.com/walletabi/relaygo/internal/token"
	"github.com/walletabi/relaygo/internal/transport"
)

const testWsURL = "ws://127.0.0.1:8787/v1/ws"

var testSecret = []byte("test-secret-not-for-production")

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	db, err := database.Connect(":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.AutoMigrate(&models.Pairing{}, &models.Message{}, &models.Event{}); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	return NewManager(store.New(db), testSecret, transport.MaxRequestTTLMs, testWsURL)
}

func validInput() CreateInput {
	return CreateInput{
		Origin:    "https://dapp.example",
		RequestID: "req-1",
		Network:   "mainnet",
		TTLMs:     90_000,
	}
}

func TestCreateIssuesRoleBoundTokens(t *testing.T) {
	m := newTestManager(t)

	result, err := m.Create(validInput())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if result.PairingID == "" || result.RelayWsURL != testWsURL {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.WebToken == result.PhoneToken {
		t.Error("both roles got the same token")
	}

	if _, err := token.Verify(testSecret, result.WebToken, result.PairingID, transport.RoleWeb); err != nil {
		t.Errorf("web token invalid: %v", err)
	}
	if _, err := token.Verify(testSecret, result.PhoneToken, result.PairingID, transport.RolePhone); err != nil {
		t.Errorf("phone token invalid: %v", err)
	}
	// Tokens must not cross roles.
	if _, err := token.Verify(testSecret, result.WebToken, result.PairingID, transport.RolePhone); err == nil {
		t.Error("web token accepted for phone role")
	}

	view, err := m.Get(result.PairingID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if view.State != models.PairingStateCreated {
		t.Errorf("new pairing state = %s", view.State)
	}
	if view.ExpiresAtMs != result.ExpiresAtMs {
		t.Errorf("expires_at_ms mismatch: %d vs %d", view.ExpiresAtMs, result.ExpiresAtMs)
	}
	if view.MessageCount != 0 || view.PendingCount != 0 {
		t.Errorf("fresh pairing has message counts: %+v", view)
	}
}

func TestCreateValidation(t *testing.T) {
	m := newTestManager(t)

	in := validInput()
	in.Origin = "http://dapp.example"
	if _, err := m.Create(in); err == nil {
		t.Error("non-https origin accepted")
	}

	in = validInput()
	in.RequestID = "  "
	if _, err := m.Create(in); err == nil {
		t.Error("blank request_id accepted")
	}

	in = validInput()
	in.Network = ""
	if _, err := m.Create(in); err == nil {
		t.Error("blank network accepted")
	}

	in = validInput()
	in.TTLMs = transport.MaxRequestTTLMs + 1
	if _, err := m.Create(in); !errors.Is(err, ErrTTLExceeded) {
		t.Errorf("expected ErrTTLExceeded, got %v", err)
	}

	in = validInput()
	in.TTLMs = 0
	if _, err := m.Create(in); err == nil {
		t.Error("zero ttl accepted")
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	m := newTestManager(t)

	result, err := m.Create(validInput())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := m.Delete(result.PairingID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := m.Get(result.PairingID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := m.Delete(result.PairingID); err != nil {
		t.Errorf("repeat delete failed: %v", err)
	}
	if err := m.Delete("never-existed"); err != nil {
		t.Errorf("delete of unknown id failed: %v", err)
	}
}
