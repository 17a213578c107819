package consent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrContactNotFound is returned when no contact row exists for the provided identifier.
var ErrContactNotFound = errors.New("consent: contact not found")

// ErrInvalidInput is returned when a caller omits a required identifier.
var ErrInvalidInput = errors.New("consent: invalid input")

// Repository is the only writer of the consent columns on contacts.
type Repository struct{}

// NewRepository returns a stateless consent repository.
func NewRepository() *Repository {
	return &Repository{}
}

const selectStateSQL = `
SELECT consent_granted, opted_out_at, consent_changed_at, change_reason
FROM contacts
WHERE id = $1`

// GetState reads the consent state without locking.
func (r *Repository) GetState(ctx context.Context, tx pgx.Tx, contactID string) (State, error) {
	return r.scanState(ctx, tx, selectStateSQL, contactID)
}

// LockState reads the consent state and holds the contact row lock until tx ends.
// Senders hold a share lock on the same row, so a transition waits for in-flight sends.
func (r *Repository) LockState(ctx context.Context, tx pgx.Tx, contactID string) (State, error) {
	return r.scanState(ctx, tx, selectStateSQL+` FOR UPDATE`, contactID)
}

func (r *Repository) scanState(ctx context.Context, tx pgx.Tx, query, contactID string) (State, error) {
	var s State
	err := tx.QueryRow(ctx, query, contactID).Scan(&s.Granted, &s.OptedOutAt, &s.ChangedAt, &s.ChangeReason)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return State{}, ErrContactNotFound
		}
		return State{}, fmt.Errorf("consent: select state: %w", err)
	}
	return s, nil
}

// SaveState writes the full consent record and appends an audit event in the same transaction.
func (r *Repository) SaveState(ctx context.Context, tx pgx.Tx, contactID string, s State) error {
	if err := s.Validate(); err != nil {
		return err
	}

	const updateSQL = `
UPDATE contacts
SET consent_granted = $2,
    opted_out_at = $3,
    consent_changed_at = $4,
    change_reason = $5
WHERE id = $1`

	tag, err := tx.Exec(ctx, updateSQL, contactID, s.Granted, s.OptedOutAt, s.ChangedAt, s.ChangeReason)
	if err != nil {
		return fmt.Errorf("consent: update state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrContactNotFound
	}

	changedAt := time.Now()
	if s.ChangedAt != nil {
		changedAt = *s.ChangedAt
	}

	const insertEventSQL = `
INSERT INTO consent_events (contact_id, granted, reason, changed_at)
VALUES ($1, $2, $3, $4)`

	if _, err := tx.Exec(ctx, insertEventSQL, contactID, s.Granted, s.ChangeReason, changedAt); err != nil {
		return fmt.Errorf("consent: insert event: %w", err)
	}
	return nil
}
