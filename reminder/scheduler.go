package reminder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"remindflow/account"
	"remindflow/deadline"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PendingStore persists new reminder slots.
type PendingStore interface {
	InsertPending(ctx context.Context, tx pgx.Tx, deadlineID string, candidates []Candidate) ([]Reminder, error)
}

// DeadlineStore reads deadlines. GetForShare blocks concurrent filing until tx ends.
type DeadlineStore interface {
	GetForShare(ctx context.Context, tx pgx.Tx, id string) (deadline.Deadline, error)
	ListUnfiledByEntity(ctx context.Context, tx pgx.Tx, entityID string) ([]deadline.Deadline, error)
}

// EntityStore resolves the entity that owns a deadline.
type EntityStore interface {
	GetEntity(ctx context.Context, tx pgx.Tx, entityID string) (account.Entity, error)
}

// ScheduleResult lists the reminders created for one deadline.
type ScheduleResult struct {
	Created []Reminder `json:"created"`
}

// ItemResult is the outcome for one deadline of a bulk schedule call.
type ItemResult struct {
	DeadlineID string     `json:"deadlineId"`
	Created    []Reminder `json:"created"`
	Error      string     `json:"error,omitempty"`
}

// Scheduler turns unfiled deadlines into pending reminders.
type Scheduler struct {
	pool      TxBeginner
	store     PendingStore
	deadlines DeadlineStore
	entities  EntityStore
	sendHour  int
	loc       *time.Location
	log       logrus.FieldLogger
	now       func() time.Time
}

// NewScheduler wires the reminder scheduler to its stores.
func NewScheduler(pool TxBeginner, store PendingStore, deadlines DeadlineStore, entities EntityStore, log logrus.FieldLogger) *Scheduler {
	if store == nil {
		store = NewRepository()
	}
	if deadlines == nil {
		deadlines = deadline.NewRepository()
	}
	if entities == nil {
		entities = account.NewRepository()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scheduler{
		pool:      pool,
		store:     store,
		deadlines: deadlines,
		entities:  entities,
		sendHour:  DefaultSendHour,
		loc:       time.UTC,
		log:       log,
		now:       time.Now,
	}
}

// WithClock overrides the time source.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// WithSendHour sets the local hour reminders are scheduled at.
func (s *Scheduler) WithSendHour(hour int) *Scheduler {
	if hour >= 0 && hour <= 23 {
		s.sendHour = hour
	}
	return s
}

// WithLocation sets the timezone used for entities without a valid one.
func (s *Scheduler) WithLocation(loc *time.Location) *Scheduler {
	if loc != nil {
		s.loc = loc
	}
	return s
}

// ScheduleFor creates the future reminder slots of one deadline. A filed deadline gets none,
// and slots that already exist are not duplicated.
func (s *Scheduler) ScheduleFor(ctx context.Context, deadlineID string) (ScheduleResult, error) {
	if strings.TrimSpace(deadlineID) == "" {
		return ScheduleResult{}, fmt.Errorf("%w: missing deadline id", ErrInvalidInput)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ScheduleResult{}, fmt.Errorf("reminder: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	dl, err := s.deadlines.GetForShare(ctx, tx, deadlineID)
	if err != nil {
		return ScheduleResult{}, err
	}
	created, err := s.scheduleTx(ctx, tx, dl)
	if err != nil {
		return ScheduleResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return ScheduleResult{}, fmt.Errorf("reminder: commit tx: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"deadline_id": deadlineID,
		"created":     len(created),
	}).Debug("reminders scheduled")
	return ScheduleResult{Created: created}, nil
}

// ScheduleMany schedules each deadline in its own transaction. One failure does not stop the rest.
func (s *Scheduler) ScheduleMany(ctx context.Context, deadlineIDs []string) []ItemResult {
	out := make([]ItemResult, 0, len(deadlineIDs))
	for _, id := range deadlineIDs {
		res, err := s.ScheduleFor(ctx, id)
		item := ItemResult{DeadlineID: id, Created: res.Created}
		if err != nil {
			item.Created = []Reminder{}
			item.Error = err.Error()
			s.log.WithError(err).WithField("deadline_id", id).Warn("schedule reminders failed")
		}
		out = append(out, item)
	}
	return out
}

// ScheduleEntity schedules every unfiled deadline of an entity.
func (s *Scheduler) ScheduleEntity(ctx context.Context, entityID string) ([]ItemResult, error) {
	if strings.TrimSpace(entityID) == "" {
		return nil, fmt.Errorf("%w: missing entity id", ErrInvalidInput)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("reminder: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.entities.GetEntity(ctx, tx, entityID); err != nil {
		return nil, err
	}
	unfiled, err := s.deadlines.ListUnfiledByEntity(ctx, tx, entityID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("reminder: commit tx: %w", err)
	}

	ids := make([]string, 0, len(unfiled))
	for _, dl := range unfiled {
		ids = append(ids, dl.ID)
	}
	return s.ScheduleMany(ctx, ids), nil
}

func (s *Scheduler) scheduleTx(ctx context.Context, tx pgx.Tx, dl deadline.Deadline) ([]Reminder, error) {
	if dl.Filed() {
		return []Reminder{}, nil
	}

	entity, err := s.entities.GetEntity(ctx, tx, dl.EntityID)
	if err != nil {
		return nil, err
	}

	candidates := FutureCandidates(dl.DueDate, entity.Location(s.loc), s.sendHour, s.now())
	if len(candidates) == 0 {
		return []Reminder{}, nil
	}
	return s.store.InsertPending(ctx, tx, dl.ID, candidates)
}
