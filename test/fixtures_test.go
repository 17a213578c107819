package test

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"remindflow/consent"
	"remindflow/deadline"
	"remindflow/logger"
	"remindflow/outbox"
	"remindflow/reminder"
	"remindflow/transport"
)

type pipeline struct {
	deadlines  *deadline.Service
	scheduler  *reminder.Scheduler
	worker     *reminder.Worker
	dispatcher *outbox.Dispatcher
	gate       *consent.Gate
}

// newPipeline wires the production services against pool. The scheduler runs five days in
// the past so every reminder it creates for a deadline due yesterday is already due.
func newPipeline(pool *pgxpool.Pool) *pipeline {
	log := logger.Discard()
	reminders := reminder.NewRepository()
	messages := outbox.NewRepository()

	return &pipeline{
		deadlines: deadline.NewService(pool, nil, nil, log).
			OnFiled(reminder.NewFilingHook(reminders, log)),
		scheduler: reminder.NewScheduler(pool, reminders, nil, nil, log).
			WithClock(func() time.Time { return time.Now().AddDate(0, 0, -5) }),
		worker:     reminder.NewWorker(pool, reminders, nil, nil, messages, log).WithConcurrency(4),
		dispatcher: outbox.NewDispatcher(pool, messages, nil, transport.NewLogSender(log), log).WithConcurrency(4),
		gate:       consent.NewGate(pool, consent.NewRepository(), reminders, messages, log),
	}
}

type seedIDs struct {
	accountID   string
	entityID    string
	contactID   string
	deadlineIDs []string
}

// mustSeed creates one account with a primary email contact and an entity owning n unfiled
// GSTR3B deadlines, all due yesterday.
func mustSeed(t *testing.T, ctx context.Context, pool *pgxpool.Pool, n int) seedIDs {
	t.Helper()
	var s seedIDs
	suffix := rand.Int63()

	if err := pool.QueryRow(ctx, `INSERT INTO accounts (name) VALUES ($1) RETURNING id`, fmt.Sprintf("Account %d", suffix)).Scan(&s.accountID); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	if err := pool.QueryRow(ctx, `INSERT INTO contacts (account_id, display_name, email, is_primary)
                                  VALUES ($1, 'Asha', $2, true) RETURNING id`,
		s.accountID, fmt.Sprintf("asha%d@example.com", suffix)).Scan(&s.contactID); err != nil {
		t.Fatalf("seed contact: %v", err)
	}
	if err := pool.QueryRow(ctx, `INSERT INTO entities (account_id, gstin, legal_name, cadence)
                                  VALUES ($1, '27ABCDE1234F1Z5', 'Asha Traders', 'periodic-monthly') RETURNING id`,
		s.accountID).Scan(&s.entityID); err != nil {
		t.Fatalf("seed entity: %v", err)
	}

	due := time.Now().UTC().AddDate(0, 0, -1)
	due = time.Date(due.Year(), due.Month(), due.Day(), 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		var id string
		err := pool.QueryRow(ctx, `INSERT INTO deadlines (entity_id, return_type, period_year, period_month, due_date)
                                   VALUES ($1, 'GSTR3B', $2, $3, $4) RETURNING id`,
			s.entityID, 2000+i/12, i%12+1, due).Scan(&id)
		if err != nil {
			t.Fatalf("seed deadline %d: %v", i, err)
		}
		s.deadlineIDs = append(s.deadlineIDs, id)
	}
	return s
}

func mustSchedule(t *testing.T, ctx context.Context, p *pipeline, ids []string) {
	t.Helper()
	for _, item := range p.scheduler.ScheduleMany(ctx, ids) {
		if item.Error != "" {
			t.Fatalf("schedule %s: %s", item.DeadlineID, item.Error)
		}
	}
}

func count(t *testing.T, ctx context.Context, pool *pgxpool.Pool, query string, args ...any) int {
	t.Helper()
	var n int
	if err := pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"reminders", `SELECT id, deadline_id, template, status, send_at, sent_at, claimed_by FROM reminders ORDER BY updated_at DESC LIMIT 50`},
		{"outbound_messages", `SELECT id, contact_id, reminder_id, status, created_at, sent_at FROM outbound_messages ORDER BY created_at DESC LIMIT 50`},
		{"consent_events", `SELECT id, contact_id, granted, changed_at FROM consent_events ORDER BY id DESC LIMIT 50`},
		{"deadlines", `SELECT id, filed_at FROM deadlines WHERE filed_at IS NOT NULL ORDER BY filed_at DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", cols[i].Name, vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
