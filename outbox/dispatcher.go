package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"remindflow/account"
	"remindflow/batch"
	"remindflow/transport"
)

// Cancellation reasons recorded by the dispatcher.
const (
	CancelReasonIneligible = "contact not eligible"
	CancelReasonNoAddress  = "contact has no address"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store defines the message persistence the dispatcher needs.
type Store interface {
	ClaimQueued(ctx context.Context, tx pgx.Tx, now time.Time, limit int, workerID string) ([]Message, error)
	LockMessage(ctx context.Context, tx pgx.Tx, id string) (Message, error)
	MarkSent(ctx context.Context, tx pgx.Tx, id, providerID string, at time.Time) error
	Cancel(ctx context.Context, tx pgx.Tx, id, reason string, at time.Time) error
	MarkFailed(ctx context.Context, tx pgx.Tx, id, workerID, detail string, at time.Time) (bool, error)
	ReclaimStale(ctx context.Context, tx pgx.Tx, cutoff time.Time) (int64, error)
}

// ContactStore share-locks the recipient during the send.
type ContactStore interface {
	ContactForShare(ctx context.Context, tx pgx.Tx, contactID string) (account.Contact, error)
}

// ItemError is one per-message failure in a dispatch summary.
type ItemError struct {
	MessageID string `json:"messageId"`
	Error     string `json:"error"`
}

// Summary reports one dispatch pass.
type Summary struct {
	Processed int         `json:"processed"`
	Sent      int         `json:"sent"`
	Skipped   int         `json:"skipped"`
	Failed    int         `json:"failed"`
	Errors    []ItemError `json:"errors"`
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeSkipped
)

// Dispatcher hands queued messages to the transport, at most once per message.
type Dispatcher struct {
	pool        TxBeginner
	store       Store
	contacts    ContactStore
	sender      transport.Sender
	log         logrus.FieldLogger
	now         func() time.Time
	concurrency int
}

// NewDispatcher wires a dispatcher that delivers claimed messages through sender.
func NewDispatcher(pool TxBeginner, store Store, contacts ContactStore, sender transport.Sender, log logrus.FieldLogger) *Dispatcher {
	if store == nil {
		store = NewRepository()
	}
	if contacts == nil {
		contacts = account.NewRepository()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{
		pool:        pool,
		store:       store,
		contacts:    contacts,
		sender:      sender,
		log:         log,
		now:         time.Now,
		concurrency: 1,
	}
}

// WithClock overrides the time source.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// WithConcurrency processes up to n claimed messages in parallel.
func (d *Dispatcher) WithConcurrency(n int) *Dispatcher {
	if n > 0 {
		d.concurrency = n
	}
	return d
}

// Dispatch claims up to batchSize due messages for workerID and delivers each one.
func (d *Dispatcher) Dispatch(ctx context.Context, batchSize int, workerID string) (Summary, error) {
	if batchSize <= 0 {
		return Summary{}, fmt.Errorf("%w: batch size must be positive", ErrInvalidInput)
	}
	if strings.TrimSpace(workerID) == "" {
		return Summary{}, fmt.Errorf("%w: missing worker id", ErrInvalidInput)
	}
	if d.sender == nil {
		return Summary{}, fmt.Errorf("outbox: no transport configured")
	}

	claimed, err := d.claim(ctx, batchSize, workerID)
	if err != nil {
		return Summary{}, err
	}

	log := d.log.WithField("worker_id", workerID)
	sum := Summary{Errors: []ItemError{}}
	var mu sync.Mutex

	batch.Each(ctx, len(claimed), d.concurrency, func(ctx context.Context, i int) {
		msg := claimed[i]
		res, err := d.deliver(ctx, msg.ID, workerID)

		mu.Lock()
		defer mu.Unlock()
		sum.Processed++
		if err != nil {
			sum.Failed++
			sum.Errors = append(sum.Errors, ItemError{MessageID: msg.ID, Error: err.Error()})
			log.WithError(err).WithField("message_id", msg.ID).Warn("dispatch: message failed")
			return
		}
		if res == outcomeSent {
			sum.Sent++
		} else {
			sum.Skipped++
		}
	})

	log.WithFields(logrus.Fields{
		"claimed": len(claimed),
		"sent":    sum.Sent,
		"skipped": sum.Skipped,
		"failed":  sum.Failed,
	}).Info("dispatch pass finished")
	return sum, nil
}

// ReclaimStale releases claims on queued messages older than olderThan so another pass can pick them up.
func (d *Dispatcher) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("outbox: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	n, err := d.store.ReclaimStale(ctx, tx, d.now().UTC().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("outbox: commit tx: %w", err)
	}
	if n > 0 {
		d.log.WithField("reclaimed", n).Warn("released stale message claims")
	}
	return n, nil
}

func (d *Dispatcher) claim(ctx context.Context, batchSize int, workerID string) ([]Message, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("outbox: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	claimed, err := d.store.ClaimQueued(ctx, tx, d.now().UTC(), batchSize, workerID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("outbox: commit claim: %w", err)
	}
	return claimed, nil
}

// deliver re-checks consent with the contact share-locked, sends, and records the outcome.
// Any error rolls the attempt back and marks the message failed; it is never re-sent.
func (d *Dispatcher) deliver(ctx context.Context, messageID, workerID string) (outcome, error) {
	res, err := d.deliverTx(ctx, messageID, workerID)
	if err == nil {
		return res, nil
	}
	if markErr := d.markFailed(ctx, messageID, workerID, err); markErr != nil {
		return 0, errors.Join(err, markErr)
	}
	return 0, err
}

func (d *Dispatcher) deliverTx(ctx context.Context, messageID, workerID string) (outcome, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("outbox: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	msg, err := d.store.LockMessage(ctx, tx, messageID)
	if err != nil {
		return 0, err
	}
	if msg.Status != StatusQueued || !msg.ClaimedByWorker(workerID) {
		// Cancelled by an opt-out or reclaimed by someone else since the claim.
		return outcomeSkipped, nil
	}

	contact, err := d.contacts.ContactForShare(ctx, tx, msg.ContactID)
	if err != nil {
		return 0, err
	}

	now := d.now().UTC()
	if !contact.Eligible() {
		return d.cancel(ctx, tx, msg.ID, CancelReasonIneligible, now)
	}
	addresses := contact.Addresses()
	if len(addresses) == 0 {
		return d.cancel(ctx, tx, msg.ID, CancelReasonNoAddress, now)
	}
	address := d.route(addresses)

	providerID, err := d.sender.Send(ctx, transport.Message{
		ID:       msg.ID,
		Address:  address,
		Template: string(msg.Template),
		Params:   msg.Params,
	})
	if err != nil {
		return 0, fmt.Errorf("transport %s: %w", d.sender.Name(), err)
	}

	if err := d.store.MarkSent(ctx, tx, msg.ID, providerID, d.now().UTC()); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("outbox: commit sent: %w", err)
	}
	return outcomeSent, nil
}

// route picks the first address the sender can deliver to. When none is routable the
// preferred address is returned so the send fails with the transport's own error.
func (d *Dispatcher) route(addresses []string) string {
	for _, addr := range addresses {
		if transport.CanRoute(d.sender, addr) {
			return addr
		}
	}
	return addresses[0]
}

func (d *Dispatcher) cancel(ctx context.Context, tx pgx.Tx, id, reason string, at time.Time) (outcome, error) {
	if err := d.store.Cancel(ctx, tx, id, reason, at); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("outbox: commit cancel: %w", err)
	}
	return outcomeSkipped, nil
}

func (d *Dispatcher) markFailed(ctx context.Context, id, workerID string, cause error) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("outbox: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := d.store.MarkFailed(ctx, tx, id, workerID, cause.Error(), d.now().UTC()); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
