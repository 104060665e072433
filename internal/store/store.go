// Package store is the durable source of truth for pairings, messages,
// and audit events. Connection handlers hold no authoritative state of
// their own: everything they decide is re-checked against this store.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/walletabi/relaygo/internal/database"
	"github.com/walletabi/relaygo/internal/models"
	"github.com/walletabi/relaygo/internal/transport"
)

var (
	ErrNotFound         = errors.New("store: pairing not found")
	ErrDuplicateMessage = errors.New("store: duplicate message")
	ErrClosed           = errors.New("store: pairing is closed")
)

// Store provides pairing-scoped persistence over the embedded database.
type Store struct {
	db *database.DB
}

func New(db *database.DB) *Store {
	return &Store{db: db}
}

// CreatePairing inserts a new pairing row.
func (s *Store) CreatePairing(p *models.Pairing) error {
	if err := s.db.Create(p).Error; err != nil {
		return fmt.Errorf("store: create pairing: %w", err)
	}
	return nil
}

// GetPairing loads one pairing by id.
func (s *Store) GetPairing(pairingID string) (*models.Pairing, error) {
	var p models.Pairing
	err := s.db.First(&p, "pairing_id = ?", pairingID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get pairing: %w", err)
	}
	return &p, nil
}

// SetState moves a pairing into state. closedAtMs and lastErr are only
// written when non-zero / non-empty, so transitions into non-terminal
// states leave the closure columns alone. Closed is terminal: the WHERE
// clause refuses to move a closed pairing anywhere, so a writer racing
// the expiry sweep cannot resurrect it. Re-closing a closed pairing is
// an idempotent no-op.
func (s *Store) SetState(pairingID string, state models.PairingState, closedAtMs int64, lastErr string) error {
	updates := map[string]interface{}{"state": state}
	if closedAtMs != 0 {
		updates["closed_at_ms"] = closedAtMs
	}
	if lastErr != "" {
		updates["last_error"] = lastErr
	}

	res := s.db.Model(&models.Pairing{}).
		Where("pairing_id = ? AND state <> ?", pairingID, models.PairingStateClosed).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("store: set state: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		current, err := s.GetPairing(pairingID)
		if err != nil {
			return err
		}
		if current.State == models.PairingStateClosed {
			if state == models.PairingStateClosed {
				return nil
			}
			return ErrClosed
		}
	}
	return nil
}

// SetLastError records a diagnostic on the pairing without touching state.
func (s *Store) SetLastError(pairingID, lastErr string) error {
	res := s.db.Model(&models.Pairing{}).Where("pairing_id = ?", pairingID).Update("last_error", lastErr)
	if res.Error != nil {
		return fmt.Errorf("store: set last_error: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkPeerConnected stamps the first-connect timestamp for role. The
// timestamp is only written once; reconnects keep the original value.
func (s *Store) MarkPeerConnected(pairingID string, role transport.Role, atMs int64) error {
	var column string
	switch role {
	case transport.RoleWeb:
		column = "web_connected_at_ms"
	case transport.RolePhone:
		column = "phone_connected_at_ms"
	default:
		return fmt.Errorf("store: unknown role %q", role)
	}

	res := s.db.Model(&models.Pairing{}).
		Where("pairing_id = ? AND "+column+" IS NULL", pairingID).
		Update(column, atMs)
	if res.Error != nil {
		return fmt.Errorf("store: mark peer connected: %w", res.Error)
	}
	return nil
}

// InsertMessage persists one ciphertext unit. A second insert with the
// same (pairing_id, msg_id) returns ErrDuplicateMessage.
func (s *Store) InsertMessage(m *models.Message) error {
	err := s.db.Create(m).Error
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint") {
		return ErrDuplicateMessage
	}
	return fmt.Errorf("store: insert message: %w", err)
}

// MarkMessageAcked stamps acked_at_ms on one message. The direction
// filter scopes the ack to messages the acking peer actually receives,
// so a sender cannot ack its own message out of the backlog. Acking an
// already acked or unknown message is a no-op.
func (s *Store) MarkMessageAcked(pairingID, msgID string, direction transport.Direction, atMs int64) error {
	res := s.db.Model(&models.Message{}).
		Where("pairing_id = ? AND msg_id = ? AND direction = ? AND acked_at_ms IS NULL", pairingID, msgID, direction).
		Update("acked_at_ms", atMs)
	if res.Error != nil {
		return fmt.Errorf("store: mark message acked: %w", res.Error)
	}
	return nil
}

// PendingMessages returns the unacked messages flowing in direction,
// oldest first. This is the backlog replayed to a peer on connect.
func (s *Store) PendingMessages(pairingID string, direction transport.Direction) ([]models.Message, error) {
	var msgs []models.Message
	err := s.db.
		Where("pairing_id = ? AND direction = ? AND acked_at_ms IS NULL", pairingID, direction).
		Order("id ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("store: pending messages: %w", err)
	}
	return msgs, nil
}

// MessageCounts returns total and unacked message counts for a pairing.
func (s *Store) MessageCounts(pairingID string) (total, pending int64, err error) {
	if err = s.db.Model(&models.Message{}).Where("pairing_id = ?", pairingID).Count(&total).Error; err != nil {
		return 0, 0, fmt.Errorf("store: count messages: %w", err)
	}
	if err = s.db.Model(&models.Message{}).
		Where("pairing_id = ? AND acked_at_ms IS NULL", pairingID).
		Count(&pending).Error; err != nil {
		return 0, 0, fmt.Errorf("store: count pending messages: %w", err)
	}
	return total, pending, nil
}

// AddEvent appends one audit event. Failure to record an event is
// reported but never blocks the operation that caused it; callers log
// and move on.
func (s *Store) AddEvent(pairingID, eventType string, detail map[string]interface{}, atMs int64) error {
	var raw datatypes.JSON
	if detail != nil {
		b, err := json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("store: marshal event detail: %w", err)
		}
		raw = datatypes.JSON(b)
	}

	ev := models.Event{
		PairingID:   pairingID,
		EventType:   eventType,
		Detail:      raw,
		CreatedAtMs: atMs,
	}
	if err := s.db.Create(&ev).Error; err != nil {
		return fmt.Errorf("store: add event: %w", err)
	}
	return nil
}

// Events returns the audit trail for a pairing, oldest first.
func (s *Store) Events(pairingID string) ([]models.Event, error) {
	var evs []models.Event
	err := s.db.Where("pairing_id = ?", pairingID).Order("id ASC").Find(&evs).Error
	if err != nil {
		return nil, fmt.Errorf("store: list events: %w", err)
	}
	return evs, nil
}

// DeletePairing removes a pairing and everything scoped to it. Deleting
// an unknown pairing succeeds, which makes the API-level delete
// idempotent.
func (s *Store) DeletePairing(pairingID string) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("pairing_id = ?", pairingID).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("pairing_id = ?", pairingID).Delete(&models.Event{}).Error; err != nil {
			return err
		}
		return tx.Where("pairing_id = ?", pairingID).Delete(&models.Pairing{}).Error
	})
	if err != nil {
		return fmt.Errorf("store: delete pairing: %w", err)
	}
	return nil
}

// ExpirePairings closes every non-closed pairing whose deadline has
// passed, stamping last_error and appending an expiry event per pairing
// inside one transaction. It returns the ids it closed.
func (s *Store) ExpirePairings(nowMs int64) ([]string, error) {
	var expired []string

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var rows []models.Pairing
		if err := tx.
			Where("expires_at_ms <= ? AND state <> ?", nowMs, models.PairingStateClosed).
			Find(&rows).Error; err != nil {
			return err
		}

		for _, p := range rows {
			if err := tx.Model(&models.Pairing{}).
				Where("pairing_id = ?", p.PairingID).
				Updates(map[string]interface{}{
					"state":        models.PairingStateClosed,
					"closed_at_ms": nowMs,
					"last_error":   models.LastErrorExpired,
				}).Error; err != nil {
				return err
			}

			detail, _ := json.Marshal(map[string]interface{}{"expires_at_ms": p.ExpiresAtMs})
			ev := models.Event{
				PairingID:   p.PairingID,
				EventType:   "pairing_expired",
				Detail:      datatypes.JSON(detail),
				CreatedAtMs: nowMs,
			}
			if err := tx.Create(&ev).Error; err != nil {
				return err
			}

			expired = append(expired, p.PairingID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: expire pairings: %w", err)
	}
	return expired, nil
}

// PruneEvents deletes audit events older than the retention horizon and
// returns how many were removed.
func (s *Store) PruneEvents(olderThanMs int64) (int64, error) {
	res := s.db.Where("created_at_ms < ?", olderThanMs).Delete(&models.Event{})
	if res.Error != nil {
		return 0, fmt.Errorf("store: prune events: %w", res.Error)
	}
	return res.RowsAffected, nil
}
