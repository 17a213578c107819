package deadline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrDeadlineNotFound is returned when no deadline row exists for the provided identifier.
var ErrDeadlineNotFound = errors.New("deadline: not found")

// ErrInvalidInput is returned when a caller omits a required identifier.
var ErrInvalidInput = errors.New("deadline: invalid input")

// Repository persists filing deadlines.
type Repository struct{}

// NewRepository returns a stateless deadline repository.
func NewRepository() *Repository {
	return &Repository{}
}

const deadlineColumns = `id::text, entity_id::text, return_type, period_year, period_month, due_date, filed_at, proof_ref, created_at`

// InsertDrafts persists drafts for an entity. Drafts that already exist for the same
// (entity, return type, period) are skipped silently; only freshly inserted rows are returned.
func (r *Repository) InsertDrafts(ctx context.Context, tx pgx.Tx, entityID string, drafts []Draft) ([]Deadline, error) {
	const insertSQL = `
INSERT INTO deadlines (entity_id, return_type, period_year, period_month, due_date)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (entity_id, return_type, period_year, period_month) DO NOTHING
RETURNING ` + deadlineColumns

	created := make([]Deadline, 0, len(drafts))
	for _, d := range drafts {
		row := tx.QueryRow(ctx, insertSQL, entityID, string(d.ReturnType), d.Period.Year, int(d.Period.Month), d.DueDate)
		dl, err := scanDeadline(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			return nil, fmt.Errorf("deadline: insert draft %s %s: %w", d.ReturnType, d.Period, err)
		}
		created = append(created, dl)
	}
	return created, nil
}

// Get loads one deadline without locking.
func (r *Repository) Get(ctx context.Context, tx pgx.Tx, id string) (Deadline, error) {
	return r.getWith(ctx, tx, id, "")
}

// GetForShare loads one deadline and share-locks it, so filing waits for the caller's transaction.
func (r *Repository) GetForShare(ctx context.Context, tx pgx.Tx, id string) (Deadline, error) {
	return r.getWith(ctx, tx, id, " FOR SHARE")
}

// GetForUpdate loads one deadline and locks it exclusively.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Deadline, error) {
	return r.getWith(ctx, tx, id, " FOR UPDATE")
}

func (r *Repository) getWith(ctx context.Context, tx pgx.Tx, id, lock string) (Deadline, error) {
	row := tx.QueryRow(ctx, `SELECT `+deadlineColumns+` FROM deadlines WHERE id = $1`+lock, id)
	d, err := scanDeadline(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Deadline{}, ErrDeadlineNotFound
		}
		return Deadline{}, fmt.Errorf("deadline: select: %w", err)
	}
	return d, nil
}

// ListUnfiledByEntity returns the entity's unfiled deadlines ordered by due date.
func (r *Repository) ListUnfiledByEntity(ctx context.Context, tx pgx.Tx, entityID string) ([]Deadline, error) {
	rows, err := tx.Query(ctx, `SELECT `+deadlineColumns+`
FROM deadlines
WHERE entity_id = $1 AND filed_at IS NULL
ORDER BY due_date, return_type`, entityID)
	if err != nil {
		return nil, fmt.Errorf("deadline: list unfiled: %w", err)
	}
	defer rows.Close()

	var out []Deadline
	for rows.Next() {
		d, err := scanDeadline(rows)
		if err != nil {
			return nil, fmt.Errorf("deadline: scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("deadline: list unfiled: %w", err)
	}
	return out, nil
}

// MarkFiled sets filed_at once. It returns ErrDeadlineNotFound when the row is missing or already
// filed; callers lock the row first to tell the two apart.
func (r *Repository) MarkFiled(ctx context.Context, tx pgx.Tx, id string, at time.Time, proofRef *string) (Deadline, error) {
	const updateSQL = `
UPDATE deadlines
SET filed_at = $2,
    proof_ref = COALESCE($3, proof_ref)
WHERE id = $1 AND filed_at IS NULL
RETURNING ` + deadlineColumns

	d, err := scanDeadline(tx.QueryRow(ctx, updateSQL, id, at, proofRef))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Deadline{}, ErrDeadlineNotFound
		}
		return Deadline{}, fmt.Errorf("deadline: mark filed: %w", err)
	}
	return d, nil
}

func scanDeadline(row pgx.Row) (Deadline, error) {
	var (
		d          Deadline
		returnType string
		month      int
	)
	if err := row.Scan(&d.ID, &d.EntityID, &returnType, &d.Period.Year, &month, &d.DueDate, &d.FiledAt, &d.ProofRef, &d.CreatedAt); err != nil {
		return Deadline{}, err
	}
	d.ReturnType = ReturnType(returnType)
	d.Period.Month = time.Month(month)
	return d, nil
}
