package reminder

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
	"remindflow/deadline"
	"remindflow/outbox"
)

// Store defines the reminder persistence the worker needs.
type Store interface {
	ClaimDue(ctx context.Context, tx pgx.Tx, now time.Time, limit int, workerID string) ([]Reminder, error)
	LockReminder(ctx context.Context, tx pgx.Tx, id string) (Reminder, error)
	MarkSent(ctx context.Context, tx pgx.Tx, id string, at time.Time) error
	Cancel(ctx context.Context, tx pgx.Tx, id, reason string, at time.Time) error
	MarkFailed(ctx context.Context, tx pgx.Tx, id, workerID, detail string, at time.Time) (bool, error)
	ReclaimStale(ctx context.Context, tx pgx.Tx, cutoff time.Time) (int64, error)
	Requeue(ctx context.Context, tx pgx.Tx, id string, at time.Time) (Reminder, error)
}

// DeadlineLocker share-locks the deadline of a reminder being delivered.
type DeadlineLocker interface {
	GetForShare(ctx context.Context, tx pgx.Tx, id string) (deadline.Deadline, error)
}

// Directory resolves the entity and its primary contact.
type Directory interface {
	GetEntity(ctx context.Context, tx pgx.Tx, entityID string) (account.Entity, error)
	PrimaryContactForShare(ctx context.Context, tx pgx.Tx, entityID string) (account.Contact, error)
}

// Queue enqueues outbound messages.
type Queue interface {
	Enqueue(ctx context.Context, tx pgx.Tx, m outbox.NewMessage, at time.Time) (outbox.Message, error)
}

// ItemError is one per-reminder failure in a drain summary.
type ItemError struct {
	ReminderID string `json:"reminderId"`
	Error      string `json:"error"`
}

// Summary reports one drain pass.
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

// Worker claims due reminders and turns each into a queued outbound message.
type Worker struct {
	pool        TxBeginner
	store       Store
	deadlines   DeadlineLocker
	directory   Directory
	queue       Queue
	log         logrus.FieldLogger
	now         func() time.Time
	concurrency int
}

// NewWorker wires a drain worker. Queue receives the outbound message for each reminder it sends.
func NewWorker(pool TxBeginner, store Store, deadlines DeadlineLocker, directory Directory, queue Queue, log logrus.FieldLogger) *Worker {
	if store == nil {
		store = NewRepository()
	}
	if deadlines == nil {
		deadlines = deadline.NewRepository()
	}
	if directory == nil {
		directory = account.NewRepository()
	}
	if queue == nil {
		queue = outbox.NewRepository()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Worker{
		pool:        pool,
		store:       store,
		deadlines:   deadlines,
		directory:   directory,
		queue:       queue,
		log:         log,
		now:         time.Now,
		concurrency: 1,
	}
}

// WithClock overrides the time source.
func (w *Worker) WithClock(now func() time.Time) *Worker {
	w.now = now
	return w
}

// WithConcurrency processes up to n claimed reminders in parallel.
func (w *Worker) WithConcurrency(n int) *Worker {
	if n > 0 {
		w.concurrency = n
	}
	return w
}

// Drain claims up to batchSize due reminders for workerID and delivers each in its own transaction.
func (w *Worker) Drain(ctx context.Context, batchSize int, workerID string) (Summary, error) {
	if batchSize <= 0 {
		return Summary{}, fmt.Errorf("%w: batch size must be positive", ErrInvalidInput)
	}
	if strings.TrimSpace(workerID) == "" {
		return Summary{}, fmt.Errorf("%w: missing worker id", ErrInvalidInput)
	}

	claimed, err := w.claim(ctx, batchSize, workerID)
	if err != nil {
		return Summary{}, err
	}

	log := w.log.WithField("worker_id", workerID)
	sum := Summary{Errors: []ItemError{}}
	var mu sync.Mutex

	batch.Each(ctx, len(claimed), w.concurrency, func(ctx context.Context, i int) {
		rem := claimed[i]
		res, err := w.deliver(ctx, rem, workerID)

		mu.Lock()
		defer mu.Unlock()
		sum.Processed++
		if err != nil {
			sum.Failed++
			sum.Errors = append(sum.Errors, ItemError{ReminderID: rem.ID, Error: err.Error()})
			log.WithError(err).WithField("reminder_id", rem.ID).Warn("drain: reminder failed")
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
	}).Info("drain pass finished")
	return sum, nil
}

// ReclaimStale releases claims on pending reminders older than olderThan.
func (w *Worker) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("reminder: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	n, err := w.store.ReclaimStale(ctx, tx, w.now().UTC().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("reminder: commit tx: %w", err)
	}
	if n > 0 {
		w.log.WithField("reclaimed", n).Warn("released stale reminder claims")
	}
	return n, nil
}

// Requeue resets a failed reminder to pending so the next drain retries it.
func (w *Worker) Requeue(ctx context.Context, reminderID string) (Reminder, error) {
	if strings.TrimSpace(reminderID) == "" {
		return Reminder{}, fmt.Errorf("%w: missing reminder id", ErrInvalidInput)
	}

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return Reminder{}, fmt.Errorf("reminder: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rem, err := w.store.Requeue(ctx, tx, reminderID, w.now().UTC())
	if err != nil {
		return Reminder{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Reminder{}, fmt.Errorf("reminder: commit tx: %w", err)
	}
	w.log.WithField("reminder_id", reminderID).Info("reminder requeued")
	return rem, nil
}

func (w *Worker) claim(ctx context.Context, batchSize int, workerID string) ([]Reminder, error) {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("reminder: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	claimed, err := w.store.ClaimDue(ctx, tx, w.now().UTC(), batchSize, workerID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("reminder: commit claim: %w", err)
	}
	return claimed, nil
}

// deliver runs one reminder. Any error rolls the attempt back and marks the reminder failed.
func (w *Worker) deliver(ctx context.Context, claimed Reminder, workerID string) (outcome, error) {
	res, err := w.deliverTx(ctx, claimed, workerID)
	if err == nil {
		return res, nil
	}
	if markErr := w.markFailed(ctx, claimed.ID, workerID, err); markErr != nil {
		return 0, errors.Join(err, markErr)
	}
	return 0, err
}

// deliverTx locks deadline, then reminder, then contact. Filing takes the deadline first too.
func (w *Worker) deliverTx(ctx context.Context, claimed Reminder, workerID string) (outcome, error) {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("reminder: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	dl, err := w.deadlines.GetForShare(ctx, tx, claimed.DeadlineID)
	if err != nil {
		return 0, err
	}

	rem, err := w.store.LockReminder(ctx, tx, claimed.ID)
	if err != nil {
		return 0, err
	}
	if rem.Status != StatusPending || !rem.ClaimedByWorker(workerID) {
		// Cancelled by filing or opt-out, or reclaimed, since the claim.
		return outcomeSkipped, nil
	}

	if dl.Filed() {
		return w.cancel(ctx, tx, rem.ID, CancelReasonFiled)
	}

	entity, err := w.directory.GetEntity(ctx, tx, dl.EntityID)
	if err != nil {
		return 0, err
	}
	contact, err := w.directory.PrimaryContactForShare(ctx, tx, dl.EntityID)
	switch {
	case errors.Is(err, account.ErrContactNotFound):
		return w.cancel(ctx, tx, rem.ID, CancelReasonNoContact)
	case err != nil:
		return 0, err
	case !contact.Eligible():
		return w.cancel(ctx, tx, rem.ID, CancelReasonNoContact)
	}

	now := w.now().UTC()
	_, err = w.queue.Enqueue(ctx, tx, outbox.NewMessage{
		ContactID:    contact.ID,
		ReminderID:   rem.ID,
		Template:     rem.Template,
		Params:       Params(entity, dl),
		ScheduledFor: now,
	}, now)
	if err != nil {
		return 0, err
	}
	if err := w.store.MarkSent(ctx, tx, rem.ID, now); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("reminder: commit sent: %w", err)
	}
	return outcomeSent, nil
}

func (w *Worker) cancel(ctx context.Context, tx pgx.Tx, id, reason string) (outcome, error) {
	if err := w.store.Cancel(ctx, tx, id, reason, w.now().UTC()); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("reminder: commit cancel: %w", err)
	}
	return outcomeSkipped, nil
}

func (w *Worker) markFailed(ctx context.Context, id, workerID string, cause error) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("reminder: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := w.store.MarkFailed(ctx, tx, id, workerID, cause.Error(), w.now().UTC()); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Params builds the message parameters for a deadline of entity.
func Params(entity account.Entity, dl deadline.Deadline) outbox.Params {
	return outbox.Params{
		outbox.ParamGSTIN:      entity.GSTIN,
		outbox.ParamReturnType: string(dl.ReturnType),
		outbox.ParamDueDate:    dl.DueDateString(),
		outbox.ParamPeriod:     dl.Period.String(),
	}
}
