package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrEntityNotFound is returned when no entity row exists for the provided identifier.
	ErrEntityNotFound = errors.New("account: entity not found")
	// ErrContactNotFound is returned when no contact row matches.
	ErrContactNotFound = errors.New("account: contact not found")
)

// Repository reads entities and contacts. It never writes consent columns.
type Repository struct{}

// NewRepository returns a stateless account repository.
func NewRepository() *Repository {
	return &Repository{}
}

const entityColumns = `id::text, account_id::text, gstin, legal_name, cadence, timezone, active, created_at`

// GetEntity loads one entity.
func (r *Repository) GetEntity(ctx context.Context, tx pgx.Tx, entityID string) (Entity, error) {
	row := tx.QueryRow(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = $1`, entityID)
	e, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entity{}, ErrEntityNotFound
		}
		return Entity{}, fmt.Errorf("account: select entity: %w", err)
	}
	return e, nil
}

const contactColumns = `c.id::text, c.account_id::text, c.display_name, c.phone, c.email, c.is_primary,
       c.consent_granted, c.opted_out_at, c.consent_changed_at, c.change_reason`

// GetContact loads one contact without locking.
func (r *Repository) GetContact(ctx context.Context, tx pgx.Tx, contactID string) (Contact, error) {
	row := tx.QueryRow(ctx, `SELECT `+contactColumns+` FROM contacts c WHERE c.id = $1`, contactID)
	return r.contactOrNotFound(row)
}

// ContactForShare loads one contact and holds a share lock on it until tx ends,
// so a concurrent consent transition waits for the caller.
func (r *Repository) ContactForShare(ctx context.Context, tx pgx.Tx, contactID string) (Contact, error) {
	row := tx.QueryRow(ctx, `SELECT `+contactColumns+` FROM contacts c WHERE c.id = $1 FOR SHARE`, contactID)
	return r.contactOrNotFound(row)
}

// PrimaryContactForShare resolves the primary contact of the entity's account and share-locks it.
// It returns ErrContactNotFound when the account has no primary contact.
func (r *Repository) PrimaryContactForShare(ctx context.Context, tx pgx.Tx, entityID string) (Contact, error) {
	const query = `SELECT ` + contactColumns + `
FROM contacts c
JOIN entities e ON e.account_id = c.account_id
WHERE e.id = $1 AND c.is_primary
FOR SHARE OF c`
	return r.contactOrNotFound(tx.QueryRow(ctx, query, entityID))
}

func (r *Repository) contactOrNotFound(row pgx.Row) (Contact, error) {
	c, err := scanContact(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contact{}, ErrContactNotFound
		}
		return Contact{}, fmt.Errorf("account: select contact: %w", err)
	}
	return c, nil
}

func scanEntity(row pgx.Row) (Entity, error) {
	var (
		e       Entity
		cadence string
	)
	if err := row.Scan(&e.ID, &e.AccountID, &e.GSTIN, &e.LegalName, &cadence, &e.Timezone, &e.Active, &e.CreatedAt); err != nil {
		return Entity{}, err
	}
	// Stored cadences are validated by the generator, not here.
	e.Cadence = Cadence(cadence)
	return e, nil
}

func scanContact(row pgx.Row) (Contact, error) {
	var c Contact
	err := row.Scan(
		&c.ID, &c.AccountID, &c.DisplayName, &c.Phone, &c.Email, &c.Primary,
		&c.Consent.Granted, &c.Consent.OptedOutAt, &c.Consent.ChangedAt, &c.Consent.ChangeReason,
	)
	if err != nil {
		return Contact{}, err
	}
	return c, nil
}
