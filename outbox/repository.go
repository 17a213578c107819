package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrMessageNotFound is returned when no message row matches.
	ErrMessageNotFound = errors.New("outbox: message not found")
	// ErrInvalidReceipt is returned for receipt statuses a provider may not report.
	ErrInvalidReceipt = errors.New("outbox: invalid receipt status")
	// ErrInvalidInput is returned for missing identifiers or a non-positive batch size.
	ErrInvalidInput = errors.New("outbox: invalid input")
)

// Repository reads and writes outbound_messages rows inside the caller's transaction.
type Repository struct{}

// NewRepository returns a stateless outbox repository.
func NewRepository() *Repository {
	return &Repository{}
}

const messageColumns = `id::text, contact_id::text, reminder_id::text, template, params, scheduled_for, status,
       provider_message_id, claimed_at, claimed_by, error_detail, sent_at, created_at`

// Enqueue validates the parameter bag and inserts a queued message.
func (r *Repository) Enqueue(ctx context.Context, tx pgx.Tx, m NewMessage, at time.Time) (Message, error) {
	if m.ContactID == "" {
		return Message{}, fmt.Errorf("%w: missing contact id", ErrInvalidInput)
	}
	if err := m.Template.Validate(m.Params); err != nil {
		return Message{}, err
	}

	params, err := json.Marshal(m.Params)
	if err != nil {
		return Message{}, fmt.Errorf("outbox: marshal params: %w", err)
	}

	var reminderID any
	if m.ReminderID != "" {
		reminderID = m.ReminderID
	}

	const insertSQL = `
INSERT INTO outbound_messages (contact_id, reminder_id, template, params, scheduled_for, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, 'queued', $6, $6)
RETURNING ` + messageColumns

	msg, err := scanMessage(tx.QueryRow(ctx, insertSQL, m.ContactID, reminderID, string(m.Template), params, m.ScheduledFor, at))
	if err != nil {
		return Message{}, fmt.Errorf("outbox: insert message: %w", err)
	}
	return msg, nil
}

// Get loads one message.
func (r *Repository) Get(ctx context.Context, tx pgx.Tx, id string) (Message, error) {
	msg, err := scanMessage(tx.QueryRow(ctx, `SELECT `+messageColumns+` FROM outbound_messages WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrMessageNotFound
		}
		return Message{}, fmt.Errorf("outbox: select message: %w", err)
	}
	return msg, nil
}

// CancelQueuedForContact cancels every queued message addressed to the contact. Other statuses are untouched.
func (r *Repository) CancelQueuedForContact(ctx context.Context, tx pgx.Tx, contactID, reason string, at time.Time) (int64, error) {
	const updateSQL = `
UPDATE outbound_messages
SET status = 'cancelled', error_detail = $2, updated_at = $3
WHERE contact_id = $1 AND status = 'queued'`

	tag, err := tx.Exec(ctx, updateSQL, contactID, reason, at)
	if err != nil {
		return 0, fmt.Errorf("outbox: cancel queued for contact: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ClaimQueued stamps up to limit due, unclaimed, queued messages for workerID in one statement.
// Rows locked by a concurrent claimant are skipped. The result is ordered by scheduled_for.
func (r *Repository) ClaimQueued(ctx context.Context, tx pgx.Tx, now time.Time, limit int, workerID string) ([]Message, error) {
	const claimSQL = `
WITH due AS (
    SELECT id
    FROM outbound_messages
    WHERE status = 'queued' AND claimed_at IS NULL AND scheduled_for <= $1
    ORDER BY scheduled_for
    LIMIT $2
    FOR UPDATE SKIP LOCKED
)
UPDATE outbound_messages m
SET claimed_at = $1, claimed_by = $3, updated_at = $1
FROM due
WHERE m.id = due.id
RETURNING m.id::text, m.contact_id::text, m.reminder_id::text, m.template, m.params, m.scheduled_for, m.status,
          m.provider_message_id, m.claimed_at, m.claimed_by, m.error_detail, m.sent_at, m.created_at`

	rows, err := tx.Query(ctx, claimSQL, now, limit, workerID)
	if err != nil {
		return nil, fmt.Errorf("outbox: claim queued: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("outbox: scan claimed: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: claim queued: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	return out, nil
}

// LockMessage loads a message and locks it until tx ends.
func (r *Repository) LockMessage(ctx context.Context, tx pgx.Tx, id string) (Message, error) {
	msg, err := scanMessage(tx.QueryRow(ctx, `SELECT `+messageColumns+` FROM outbound_messages WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrMessageNotFound
		}
		return Message{}, fmt.Errorf("outbox: lock message: %w", err)
	}
	return msg, nil
}

// MarkSent records a successful hand-off to the provider.
func (r *Repository) MarkSent(ctx context.Context, tx pgx.Tx, id, providerID string, at time.Time) error {
	const updateSQL = `
UPDATE outbound_messages
SET status = 'sent', provider_message_id = NULLIF($2, ''), sent_at = $3, error_detail = NULL, updated_at = $3
WHERE id = $1 AND status = 'queued'`
	return r.expectOne(ctx, tx, "mark sent", updateSQL, id, providerID, at)
}

// Cancel moves a queued message to cancelled with a reason.
func (r *Repository) Cancel(ctx context.Context, tx pgx.Tx, id, reason string, at time.Time) error {
	const updateSQL = `
UPDATE outbound_messages
SET status = 'cancelled', error_detail = $2, updated_at = $3
WHERE id = $1 AND status = 'queued'`
	return r.expectOne(ctx, tx, "cancel", updateSQL, id, reason, at)
}

// MarkFailed records a delivery failure, but only while workerID still holds the claim on a queued row.
func (r *Repository) MarkFailed(ctx context.Context, tx pgx.Tx, id, workerID, detail string, at time.Time) (bool, error) {
	const updateSQL = `
UPDATE outbound_messages
SET status = 'failed', error_detail = $3, updated_at = $4
WHERE id = $1 AND status = 'queued' AND claimed_by = $2`

	tag, err := tx.Exec(ctx, updateSQL, id, workerID, detail, at)
	if err != nil {
		return false, fmt.Errorf("outbox: mark failed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordReceipt applies a provider delivery receipt. Receipts only move forward
// (sent -> delivered -> read, or sent/delivered -> failed); stale or duplicate receipts change nothing
// and report changed=false.
func (r *Repository) RecordReceipt(ctx context.Context, tx pgx.Tx, providerID string, status Status, detail *string, at time.Time) (Message, bool, error) {
	var from []string
	switch status {
	case StatusDelivered:
		from = []string{string(StatusSent)}
	case StatusRead:
		from = []string{string(StatusSent), string(StatusDelivered)}
	case StatusFailed:
		from = []string{string(StatusSent), string(StatusDelivered)}
	default:
		return Message{}, false, fmt.Errorf("%w: %q", ErrInvalidReceipt, status)
	}

	const updateSQL = `
UPDATE outbound_messages
SET status = $2, error_detail = COALESCE($4, error_detail), updated_at = $5
WHERE provider_message_id = $1 AND status = ANY($3)
RETURNING ` + messageColumns

	msg, err := scanMessage(tx.QueryRow(ctx, updateSQL, providerID, string(status), from, detail, at))
	if err == nil {
		return msg, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Message{}, false, fmt.Errorf("outbox: record receipt: %w", err)
	}

	msg, err = scanMessage(tx.QueryRow(ctx, `SELECT `+messageColumns+` FROM outbound_messages WHERE provider_message_id = $1`, providerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, false, ErrMessageNotFound
		}
		return Message{}, false, fmt.Errorf("outbox: select by provider id: %w", err)
	}
	return msg, false, nil
}

// ReclaimStale releases claims older than cutoff on messages still queued.
func (r *Repository) ReclaimStale(ctx context.Context, tx pgx.Tx, cutoff time.Time) (int64, error) {
	const updateSQL = `
UPDATE outbound_messages
SET claimed_at = NULL, claimed_by = NULL
WHERE status = 'queued' AND claimed_at IS NOT NULL AND claimed_at < $1`

	tag, err := tx.Exec(ctx, updateSQL, cutoff)
	if err != nil {
		return 0, fmt.Errorf("outbox: reclaim stale: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) expectOne(ctx context.Context, tx pgx.Tx, op, query string, args ...any) error {
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("outbox: %s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("outbox: %s: %w", op, ErrMessageNotFound)
	}
	return nil
}

func scanMessage(row pgx.Row) (Message, error) {
	var (
		m        Message
		template string
		status   string
		params   []byte
	)
	err := row.Scan(&m.ID, &m.ContactID, &m.ReminderID, &template, &params, &m.ScheduledFor, &status,
		&m.ProviderMessageID, &m.ClaimedAt, &m.ClaimedBy, &m.ErrorDetail, &m.SentAt, &m.CreatedAt)
	if err != nil {
		return Message{}, err
	}
	m.Template = Template(template)
	m.Status = Status(status)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &m.Params); err != nil {
			return Message{}, fmt.Errorf("outbox: decode params: %w", err)
		}
	}
	return m, nil
}
