package reminder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"remindflow/account"
	"remindflow/deadline"
	"remindflow/outbox"
)

// fakeStore keeps reminders in memory with the same guards as the SQL.
type fakeStore struct {
	mu         sync.Mutex
	rows       map[string]*Reminder
	seq        int
	afterClaim func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[string]*Reminder{}}
}

func (f *fakeStore) add(deadlineID string, tmpl outbox.Template, sendAt time.Time, status Status) *Reminder {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	r := &Reminder{ID: fmt.Sprintf("r%d", f.seq), DeadlineID: deadlineID, Template: tmpl, SendAt: sendAt, Status: status}
	f.rows[r.ID] = r
	return r
}

func (f *fakeStore) byDeadline(deadlineID string) []Reminder {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Reminder
	for _, r := range f.rows {
		if r.DeadlineID == deadlineID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SendAt.Before(out[j].SendAt) })
	return out
}

func (f *fakeStore) InsertPending(ctx context.Context, tx pgx.Tx, deadlineID string, candidates []Candidate) ([]Reminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var created []Reminder
	for _, c := range candidates {
		dup := false
		for _, r := range f.rows {
			if r.DeadlineID == deadlineID && r.Template == c.Template {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		f.seq++
		r := &Reminder{ID: fmt.Sprintf("r%d", f.seq), DeadlineID: deadlineID, Template: c.Template, SendAt: c.SendAt.UTC(), Status: StatusPending}
		f.rows[r.ID] = r
		created = append(created, *r)
	}
	return created, nil
}

func (f *fakeStore) ClaimDue(ctx context.Context, tx pgx.Tx, now time.Time, limit int, workerID string) ([]Reminder, error) {
	f.mu.Lock()
	var due []*Reminder
	for _, r := range f.rows {
		if r.Status == StatusPending && r.ClaimedAt == nil && !r.SendAt.After(now) {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].SendAt.Before(due[j].SendAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]Reminder, 0, len(due))
	for _, r := range due {
		at, w := now, workerID
		r.ClaimedAt, r.ClaimedBy = &at, &w
		out = append(out, *r)
	}
	hook := f.afterClaim
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return out, nil
}

func (f *fakeStore) LockReminder(ctx context.Context, tx pgx.Tx, id string) (Reminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return Reminder{}, ErrReminderNotFound
	}
	return *r, nil
}

func (f *fakeStore) MarkSent(ctx context.Context, tx pgx.Tx, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.rows[id]
	if r == nil || r.Status != StatusPending {
		return ErrReminderNotFound
	}
	r.Status, r.SentAt = StatusSent, &at
	return nil
}

func (f *fakeStore) Cancel(ctx context.Context, tx pgx.Tx, id, reason string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.rows[id]
	if r == nil || r.Status != StatusPending {
		return ErrReminderNotFound
	}
	r.Status, r.ErrorDetail = StatusCancelled, &reason
	return nil
}

func (f *fakeStore) MarkFailed(ctx context.Context, tx pgx.Tx, id, workerID, detail string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.rows[id]
	if r == nil || r.Status != StatusPending || !r.ClaimedByWorker(workerID) {
		return false, nil
	}
	r.Status, r.ErrorDetail = StatusFailed, &detail
	return true, nil
}

func (f *fakeStore) CancelPendingForDeadline(ctx context.Context, tx pgx.Tx, deadlineID, reason string, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, r := range f.rows {
		if r.DeadlineID == deadlineID && r.Status == StatusPending {
			reason := reason
			r.Status, r.ErrorDetail = StatusCancelled, &reason
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) ReclaimStale(ctx context.Context, tx pgx.Tx, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, r := range f.rows {
		if r.Status == StatusPending && r.ClaimedAt != nil && r.ClaimedAt.Before(cutoff) {
			r.ClaimedAt, r.ClaimedBy = nil, nil
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) Requeue(ctx context.Context, tx pgx.Tx, id string, at time.Time) (Reminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return Reminder{}, ErrReminderNotFound
	}
	if r.Status != StatusFailed {
		return Reminder{}, ErrNotFailed
	}
	r.Status, r.ClaimedAt, r.ClaimedBy, r.ErrorDetail = StatusPending, nil, nil, nil
	return *r, nil
}

type fakeDeadlines struct {
	mu   sync.Mutex
	byID map[string]deadline.Deadline
}

func newFakeDeadlines(ds ...deadline.Deadline) *fakeDeadlines {
	f := &fakeDeadlines{byID: map[string]deadline.Deadline{}}
	for _, d := range ds {
		f.byID[d.ID] = d
	}
	return f
}

func (f *fakeDeadlines) file(id string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.byID[id]
	d.FiledAt = &at
	f.byID[id] = d
}

func (f *fakeDeadlines) GetForShare(ctx context.Context, tx pgx.Tx, id string) (deadline.Deadline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.byID[id]
	if !ok {
		return deadline.Deadline{}, deadline.ErrDeadlineNotFound
	}
	return d, nil
}

func (f *fakeDeadlines) ListUnfiledByEntity(ctx context.Context, tx pgx.Tx, entityID string) ([]deadline.Deadline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []deadline.Deadline
	for _, d := range f.byID {
		if d.EntityID == entityID && !d.Filed() {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out, nil
}

type fakeDirectory struct {
	entities map[string]account.Entity
	primary  map[string]account.Contact
}

func (f *fakeDirectory) GetEntity(ctx context.Context, tx pgx.Tx, entityID string) (account.Entity, error) {
	e, ok := f.entities[entityID]
	if !ok {
		return account.Entity{}, account.ErrEntityNotFound
	}
	return e, nil
}

func (f *fakeDirectory) PrimaryContactForShare(ctx context.Context, tx pgx.Tx, entityID string) (account.Contact, error) {
	c, ok := f.primary[entityID]
	if !ok {
		return account.Contact{}, account.ErrContactNotFound
	}
	return c, nil
}

type fakeQueue struct {
	mu       sync.Mutex
	messages []outbox.NewMessage
	err      error
}

func (f *fakeQueue) Enqueue(ctx context.Context, tx pgx.Tx, m outbox.NewMessage, at time.Time) (outbox.Message, error) {
	if err := m.Template.Validate(m.Params); err != nil {
		return outbox.Message{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return outbox.Message{}, f.err
	}
	f.messages = append(f.messages, m)
	return outbox.Message{ID: fmt.Sprintf("m%d", len(f.messages)), ContactID: m.ContactID, Status: outbox.StatusQueued}, nil
}

func (f *fakeQueue) forReminder(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.messages {
		if m.ReminderID == id {
			n++
		}
	}
	return n
}

type fakePool struct {
	mu  sync.Mutex
	txs []*fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx := &fakeTx{}
	f.txs = append(f.txs, tx)
	return tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
