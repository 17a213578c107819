package consent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
)

// Default reasons recorded when the caller gives none.
const (
	DefaultOptOutReason = "opt-out requested"
	DefaultOptInReason  = "opt-in requested"

	// CancelReasonOptedOut is written on reminders and messages pruned by an opt-out.
	CancelReasonOptedOut = "contact opted out"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store persists consent states.
type Store interface {
	GetState(ctx context.Context, tx pgx.Tx, contactID string) (State, error)
	LockState(ctx context.Context, tx pgx.Tx, contactID string) (State, error)
	SaveState(ctx context.Context, tx pgx.Tx, contactID string, s State) error
}

// ReminderCanceller cancels pending reminders addressed to a contact.
type ReminderCanceller interface {
	CancelPendingForContact(ctx context.Context, tx pgx.Tx, contactID, reason string, at time.Time) (int64, error)
}

// MessageCanceller cancels queued outbound messages addressed to a contact.
type MessageCanceller interface {
	CancelQueuedForContact(ctx context.Context, tx pgx.Tx, contactID, reason string, at time.Time) (int64, error)
}

// OptOutResult reports what the opt-out pruned. Warnings are non-fatal cleanup failures.
type OptOutResult struct {
	CancelledReminders int64    `json:"cancelledReminders"`
	CancelledMessages  int64    `json:"cancelledMessages"`
	Warnings           []string `json:"warnings,omitempty"`
}

// Gate owns consent transitions and the eligibility predicate.
type Gate struct {
	pool      TxBeginner
	store     Store
	reminders ReminderCanceller
	messages  MessageCanceller
	log       logrus.FieldLogger
	now       func() time.Time
}

// NewGate wires the consent gate. Opt-outs cancel queued reminders and messages through the given cancellers.
func NewGate(pool TxBeginner, store Store, reminders ReminderCanceller, messages MessageCanceller, log logrus.FieldLogger) *Gate {
	if store == nil {
		store = NewRepository()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Gate{
		pool:      pool,
		store:     store,
		reminders: reminders,
		messages:  messages,
		log:       log,
		now:       time.Now,
	}
}

// WithClock overrides the time source.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// OptOut withdraws consent and then prunes pending reminders and queued messages for the contact.
// The consent change is committed before pruning starts, and pruning failures never undo it.
// Opting out an already opted-out contact keeps the original timestamp and only re-runs pruning.
func (g *Gate) OptOut(ctx context.Context, contactID, reason string) (OptOutResult, error) {
	if strings.TrimSpace(contactID) == "" {
		return OptOutResult{}, fmt.Errorf("%w: missing contact id", ErrInvalidInput)
	}
	if strings.TrimSpace(reason) == "" {
		reason = DefaultOptOutReason
	}

	at, err := g.transition(ctx, contactID, func(current State, now time.Time) (State, bool) {
		if !current.Granted {
			return current, false
		}
		return OptedOut(now, reason), true
	})
	if err != nil {
		return OptOutResult{}, err
	}

	log := g.log.WithField("contact_id", contactID)
	var res OptOutResult

	if g.reminders != nil {
		n, err := g.cleanup(ctx, func(tx pgx.Tx) (int64, error) {
			return g.reminders.CancelPendingForContact(ctx, tx, contactID, CancelReasonOptedOut, at)
		})
		if err != nil {
			log.WithError(err).Warn("opt-out: cancel pending reminders failed")
			res.Warnings = append(res.Warnings, fmt.Sprintf("cancel pending reminders: %v", err))
		}
		res.CancelledReminders = n
	}

	if g.messages != nil {
		n, err := g.cleanup(ctx, func(tx pgx.Tx) (int64, error) {
			return g.messages.CancelQueuedForContact(ctx, tx, contactID, CancelReasonOptedOut, at)
		})
		if err != nil {
			log.WithError(err).Warn("opt-out: cancel queued messages failed")
			res.Warnings = append(res.Warnings, fmt.Sprintf("cancel queued messages: %v", err))
		}
		res.CancelledMessages = n
	}

	log.WithFields(logrus.Fields{
		"cancelled_reminders": res.CancelledReminders,
		"cancelled_messages":  res.CancelledMessages,
	}).Info("contact opted out")
	return res, nil
}

// OptIn grants consent. Previously cancelled work stays cancelled.
func (g *Gate) OptIn(ctx context.Context, contactID, reason string) error {
	if strings.TrimSpace(contactID) == "" {
		return fmt.Errorf("%w: missing contact id", ErrInvalidInput)
	}
	if strings.TrimSpace(reason) == "" {
		reason = DefaultOptInReason
	}

	_, err := g.transition(ctx, contactID, func(current State, now time.Time) (State, bool) {
		if Eligible(current) {
			return current, false
		}
		return OptedIn(now, reason), true
	})
	if err != nil {
		return err
	}
	g.log.WithField("contact_id", contactID).Info("contact opted in")
	return nil
}

// IsEligible reads the current consent state. It never caches.
func (g *Gate) IsEligible(ctx context.Context, contactID string) (bool, error) {
	if strings.TrimSpace(contactID) == "" {
		return false, fmt.Errorf("%w: missing contact id", ErrInvalidInput)
	}

	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("consent: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	s, err := g.store.GetState(ctx, tx, contactID)
	if err != nil {
		return false, err
	}
	return Eligible(s), nil
}

// transition locks the contact row, reads the clock only once the lock is held, and saves the next state
// when next reports a change. It returns the effective transition time.
func (g *Gate) transition(ctx context.Context, contactID string, next func(State, time.Time) (State, bool)) (time.Time, error) {
	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("consent: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := g.store.LockState(ctx, tx, contactID)
	if err != nil {
		return time.Time{}, err
	}

	now := g.now().UTC()
	state, changed := next(current, now)
	if !changed {
		if state.OptedOutAt != nil {
			return *state.OptedOutAt, nil
		}
		return now, nil
	}

	if err := g.store.SaveState(ctx, tx, contactID, state); err != nil {
		return time.Time{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return time.Time{}, fmt.Errorf("consent: commit tx: %w", err)
	}
	return now, nil
}

func (g *Gate) cleanup(ctx context.Context, fn func(pgx.Tx) (int64, error)) (int64, error) {
	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	n, err := fn(tx)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return n, nil
}
