package deadline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"remindflow/account"
)

// ErrEntityInactive is returned when generating deadlines for a deactivated entity.
var ErrEntityInactive = errors.New("deadline: entity inactive")

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store defines the deadline persistence the service needs.
type Store interface {
	InsertDrafts(ctx context.Context, tx pgx.Tx, entityID string, drafts []Draft) ([]Deadline, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Deadline, error)
	MarkFiled(ctx context.Context, tx pgx.Tx, id string, at time.Time, proofRef *string) (Deadline, error)
}

// EntityStore resolves the owning entity.
type EntityStore interface {
	GetEntity(ctx context.Context, tx pgx.Tx, entityID string) (account.Entity, error)
}

// FiledHook reacts to a deadline transitioning to filed. It runs inside the filing transaction,
// so a hook error aborts the filing.
type FiledHook interface {
	DeadlineFiled(ctx context.Context, tx pgx.Tx, d Deadline) error
}

// GenerateResult lists the deadlines created by one generation call.
type GenerateResult struct {
	Created []Deadline `json:"created"`
}

// MarkFiledResult carries the filed deadline. AlreadyFiled is set when the call changed nothing.
type MarkFiledResult struct {
	Deadline     Deadline `json:"deadline"`
	AlreadyFiled bool     `json:"alreadyFiled"`
}

// Service generates deadlines for entities and records filings.
type Service struct {
	pool     TxBeginner
	store    Store
	entities EntityStore
	hooks    []FiledHook
	loc      *time.Location
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewService wires the deadline service.
func NewService(pool TxBeginner, store Store, entities EntityStore, log logrus.FieldLogger) *Service {
	if store == nil {
		store = NewRepository()
	}
	if entities == nil {
		entities = account.NewRepository()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		pool:     pool,
		store:    store,
		entities: entities,
		loc:      time.UTC,
		log:      log,
		now:      time.Now,
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithLocation sets the timezone used for entities without a valid one.
func (s *Service) WithLocation(loc *time.Location) *Service {
	if loc != nil {
		s.loc = loc
	}
	return s
}

// OnFiled registers a hook run on every null to non-null filing transition.
func (s *Service) OnFiled(h FiledHook) *Service {
	s.hooks = append(s.hooks, h)
	return s
}

// GenerateForEntity computes the entity's drafts as of today (entity-local) and persists the new ones.
// Re-running it creates nothing and does not fail.
func (s *Service) GenerateForEntity(ctx context.Context, entityID string) (GenerateResult, error) {
	if strings.TrimSpace(entityID) == "" {
		return GenerateResult{}, fmt.Errorf("%w: missing entity id", ErrInvalidInput)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("deadline: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	entity, err := s.entities.GetEntity(ctx, tx, entityID)
	if err != nil {
		return GenerateResult{}, err
	}
	if !entity.Active {
		return GenerateResult{}, ErrEntityInactive
	}

	asOf := s.now().In(entity.Location(s.loc))
	drafts, err := Generate(entity.Cadence, asOf)
	if err != nil {
		return GenerateResult{}, err
	}

	created, err := s.store.InsertDrafts(ctx, tx, entityID, drafts)
	if err != nil {
		return GenerateResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return GenerateResult{}, fmt.Errorf("deadline: commit tx: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"entity_id": entityID,
		"drafts":    len(drafts),
		"created":   len(created),
	}).Info("deadlines generated")
	return GenerateResult{Created: created}, nil
}

// MarkFiled records the filing and runs the filed hooks in the same transaction.
// Filing an already filed deadline returns it unchanged and runs no hooks.
func (s *Service) MarkFiled(ctx context.Context, deadlineID string, proofRef *string) (MarkFiledResult, error) {
	if strings.TrimSpace(deadlineID) == "" {
		return MarkFiledResult{}, fmt.Errorf("%w: missing deadline id", ErrInvalidInput)
	}
	if proofRef != nil && strings.TrimSpace(*proofRef) == "" {
		proofRef = nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return MarkFiledResult{}, fmt.Errorf("deadline: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.store.GetForUpdate(ctx, tx, deadlineID)
	if err != nil {
		return MarkFiledResult{}, err
	}
	if current.Filed() {
		return MarkFiledResult{Deadline: current, AlreadyFiled: true}, nil
	}

	filed, err := s.store.MarkFiled(ctx, tx, deadlineID, s.now().UTC(), proofRef)
	if err != nil {
		return MarkFiledResult{}, err
	}

	for _, h := range s.hooks {
		if err := h.DeadlineFiled(ctx, tx, filed); err != nil {
			return MarkFiledResult{}, fmt.Errorf("deadline: filed hook: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return MarkFiledResult{}, fmt.Errorf("deadline: commit tx: %w", err)
	}

	s.log.WithField("deadline_id", deadlineID).Info("deadline filed")
	return MarkFiledResult{Deadline: filed}, nil
}
