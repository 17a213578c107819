package reminder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"remindflow/outbox"
)

var (
	// ErrReminderNotFound is returned when no reminder row matches the identifier or the status guard.
	ErrReminderNotFound = errors.New("reminder: not found")
	// ErrNotFailed is returned when requeueing a reminder that is not in the failed state.
	ErrNotFailed = errors.New("reminder: only failed reminders can be requeued")
	// ErrInvalidInput is returned for missing identifiers or a non-positive batch size.
	ErrInvalidInput = errors.New("reminder: invalid input")
)

// Repository reads and writes reminders rows. Every mutation runs inside the caller's transaction.
type Repository struct{}

// NewRepository returns a stateless reminder repository.
func NewRepository() *Repository {
	return &Repository{}
}

const reminderColumns = `id::text, deadline_id::text, template, send_at, status, sent_at, claimed_at, claimed_by, error_detail, created_at`

// InsertPending persists candidates for a deadline. Slots that already exist for the
// (deadline, template) pair are skipped; only freshly inserted rows are returned.
func (r *Repository) InsertPending(ctx context.Context, tx pgx.Tx, deadlineID string, candidates []Candidate) ([]Reminder, error) {
	const insertSQL = `
INSERT INTO reminders (deadline_id, template, send_at, status)
VALUES ($1, $2, $3, 'pending')
ON CONFLICT (deadline_id, template) DO NOTHING
RETURNING ` + reminderColumns

	created := make([]Reminder, 0, len(candidates))
	for _, c := range candidates {
		rem, err := scanReminder(tx.QueryRow(ctx, insertSQL, deadlineID, string(c.Template), c.SendAt.UTC()))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			return nil, fmt.Errorf("reminder: insert %s: %w", c.Template, err)
		}
		created = append(created, rem)
	}
	return created, nil
}

// Get loads one reminder without locking.
func (r *Repository) Get(ctx context.Context, tx pgx.Tx, id string) (Reminder, error) {
	return r.getWith(ctx, tx, id, "")
}

// LockReminder loads one reminder and locks it until tx ends.
func (r *Repository) LockReminder(ctx context.Context, tx pgx.Tx, id string) (Reminder, error) {
	return r.getWith(ctx, tx, id, " FOR UPDATE")
}

func (r *Repository) getWith(ctx context.Context, tx pgx.Tx, id, lock string) (Reminder, error) {
	rem, err := scanReminder(tx.QueryRow(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE id = $1`+lock, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Reminder{}, ErrReminderNotFound
		}
		return Reminder{}, fmt.Errorf("reminder: select: %w", err)
	}
	return rem, nil
}

// ListByDeadline returns every reminder of a deadline ordered by send time.
func (r *Repository) ListByDeadline(ctx context.Context, tx pgx.Tx, deadlineID string) ([]Reminder, error) {
	rows, err := tx.Query(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE deadline_id = $1 ORDER BY send_at`, deadlineID)
	if err != nil {
		return nil, fmt.Errorf("reminder: list by deadline: %w", err)
	}
	return collect(rows, "list by deadline")
}

// ClaimDue stamps up to limit due, unclaimed, pending reminders for workerID in one statement.
// Rows locked by a concurrent claimant are skipped, so two claimants never share a row.
func (r *Repository) ClaimDue(ctx context.Context, tx pgx.Tx, now time.Time, limit int, workerID string) ([]Reminder, error) {
	const claimSQL = `
WITH due AS (
    SELECT id
    FROM reminders
    WHERE status = 'pending' AND claimed_at IS NULL AND send_at <= $1
    ORDER BY send_at
    LIMIT $2
    FOR UPDATE SKIP LOCKED
)
UPDATE reminders r
SET claimed_at = $1, claimed_by = $3, updated_at = $1
FROM due
WHERE r.id = due.id
RETURNING r.id::text, r.deadline_id::text, r.template, r.send_at, r.status, r.sent_at,
          r.claimed_at, r.claimed_by, r.error_detail, r.created_at`

	rows, err := tx.Query(ctx, claimSQL, now, limit, workerID)
	if err != nil {
		return nil, fmt.Errorf("reminder: claim due: %w", err)
	}
	out, err := collect(rows, "claim due")
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SendAt.Before(out[j].SendAt) })
	return out, nil
}

// MarkSent closes a pending reminder as sent.
func (r *Repository) MarkSent(ctx context.Context, tx pgx.Tx, id string, at time.Time) error {
	const updateSQL = `
UPDATE reminders
SET status = 'sent', sent_at = $2, updated_at = $2
WHERE id = $1 AND status = 'pending'`
	return r.expectOne(ctx, tx, "mark sent", updateSQL, id, at)
}

// Cancel closes a pending reminder as cancelled with reason.
func (r *Repository) Cancel(ctx context.Context, tx pgx.Tx, id, reason string, at time.Time) error {
	const updateSQL = `
UPDATE reminders
SET status = 'cancelled', error_detail = $2, updated_at = $3
WHERE id = $1 AND status = 'pending'`
	return r.expectOne(ctx, tx, "cancel", updateSQL, id, reason, at)
}

// MarkFailed closes a pending reminder still claimed by workerID as failed.
// It reports false when the row moved on in the meantime.
func (r *Repository) MarkFailed(ctx context.Context, tx pgx.Tx, id, workerID, detail string, at time.Time) (bool, error) {
	const updateSQL = `
UPDATE reminders
SET status = 'failed', error_detail = $3, updated_at = $4
WHERE id = $1 AND status = 'pending' AND claimed_by = $2`
	tag, err := tx.Exec(ctx, updateSQL, id, workerID, detail, at)
	if err != nil {
		return false, fmt.Errorf("reminder: mark failed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CancelPendingForDeadline cancels every pending reminder of a deadline.
func (r *Repository) CancelPendingForDeadline(ctx context.Context, tx pgx.Tx, deadlineID, reason string, at time.Time) (int64, error) {
	const updateSQL = `
UPDATE reminders
SET status = 'cancelled', error_detail = $2, updated_at = $3
WHERE deadline_id = $1 AND status = 'pending'`
	tag, err := tx.Exec(ctx, updateSQL, deadlineID, reason, at)
	if err != nil {
		return 0, fmt.Errorf("reminder: cancel pending for deadline: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CancelPendingForContact cancels pending reminders of every deadline whose entity
// belongs to an account that has contactID as its primary contact.
func (r *Repository) CancelPendingForContact(ctx context.Context, tx pgx.Tx, contactID, reason string, at time.Time) (int64, error) {
	const updateSQL = `
UPDATE reminders r
SET status = 'cancelled', error_detail = $2, updated_at = $3
FROM deadlines d
JOIN entities e ON e.id = d.entity_id
JOIN contacts c ON c.account_id = e.account_id AND c.is_primary
WHERE r.deadline_id = d.id AND c.id = $1 AND r.status = 'pending'`
	tag, err := tx.Exec(ctx, updateSQL, contactID, reason, at)
	if err != nil {
		return 0, fmt.Errorf("reminder: cancel pending for contact: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ReclaimStale clears claims on pending reminders claimed before cutoff.
func (r *Repository) ReclaimStale(ctx context.Context, tx pgx.Tx, cutoff time.Time) (int64, error) {
	const updateSQL = `
UPDATE reminders
SET claimed_at = NULL, claimed_by = NULL, updated_at = now()
WHERE status = 'pending' AND claimed_at IS NOT NULL AND claimed_at < $1`
	tag, err := tx.Exec(ctx, updateSQL, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reminder: reclaim stale: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Requeue resets a failed reminder to pending and clears its claim and error.
func (r *Repository) Requeue(ctx context.Context, tx pgx.Tx, id string, at time.Time) (Reminder, error) {
	const updateSQL = `
UPDATE reminders
SET status = 'pending', claimed_at = NULL, claimed_by = NULL, error_detail = NULL, updated_at = $2
WHERE id = $1 AND status = 'failed'
RETURNING ` + reminderColumns

	rem, err := scanReminder(tx.QueryRow(ctx, updateSQL, id, at))
	if err == nil {
		return rem, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Reminder{}, fmt.Errorf("reminder: requeue: %w", err)
	}
	if _, err := r.Get(ctx, tx, id); err != nil {
		return Reminder{}, err
	}
	return Reminder{}, ErrNotFailed
}

func (r *Repository) expectOne(ctx context.Context, tx pgx.Tx, op, query string, args ...any) error {
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("reminder: %s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reminder: %s: %w", op, ErrReminderNotFound)
	}
	return nil
}

func collect(rows pgx.Rows, op string) ([]Reminder, error) {
	defer rows.Close()
	var out []Reminder
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("reminder: scan %s: %w", op, err)
		}
		out = append(out, rem)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reminder: %s: %w", op, err)
	}
	return out, nil
}

func scanReminder(row pgx.Row) (Reminder, error) {
	var (
		rem      Reminder
		template string
		status   string
	)
	err := row.Scan(&rem.ID, &rem.DeadlineID, &template, &rem.SendAt, &status, &rem.SentAt,
		&rem.ClaimedAt, &rem.ClaimedBy, &rem.ErrorDetail, &rem.CreatedAt)
	if err != nil {
		return Reminder{}, err
	}
	rem.Template = outbox.Template(template)
	rem.Status = Status(status)
	return rem, nil
}
