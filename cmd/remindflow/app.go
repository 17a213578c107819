package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"remindflow/config"
	"remindflow/consent"
	"remindflow/db"
	"remindflow/deadline"
	"remindflow/logger"
	"remindflow/outbox"
	"remindflow/proof"
	"remindflow/reminder"
	"remindflow/transport"
)

// app holds the process-wide dependencies every command shares.
type app struct {
	envFiles []string

	cfg    *config.Config
	log    *logrus.Logger
	closer io.Closer
	pool   *pgxpool.Pool
}

func (a *app) init() error {
	cfg, err := config.Load(a.envFiles...)
	if err != nil {
		return err
	}
	log, closer, err := logger.New(logger.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	if err != nil {
		return err
	}
	a.cfg, a.log, a.closer = cfg, log, closer
	return nil
}

func (a *app) close() error {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}

func (a *app) openPool(ctx context.Context) (*pgxpool.Pool, error) {
	if a.pool != nil {
		return a.pool, nil
	}
	pool, err := db.NewPool(ctx, a.cfg.DatabaseURL,
		db.WithMaxConns(a.cfg.DBMaxConns),
		db.WithConnectTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("bootstrap database pool: %w", err)
	}
	a.pool = pool
	return pool, nil
}

func (a *app) workerID(override string) string {
	if override != "" {
		return override
	}
	if a.cfg.WorkerID != "" {
		return a.cfg.WorkerID
	}
	host, err := os.Hostname()
	if err != nil {
		host = "remindflow"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

func (a *app) location() *time.Location {
	loc, err := time.LoadLocation(a.cfg.DefaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// sender builds the configured transport. Email goes through Resend with retries;
// phone numbers have no provider under resend and fail with ErrNoRoute.
func (a *app) sender() transport.Sender {
	switch a.cfg.Transport {
	case config.TransportResend:
		email := transport.NewRetrying(transport.NewResendSender(a.cfg.ResendAPIKey, a.cfg.FromEmail), a.cfg.TransportRetryMax, a.log)
		return &transport.Router{Email: email}
	default:
		return transport.NewLogSender(a.log)
	}
}

func (a *app) proofStore(ctx context.Context) (*proof.Store, error) {
	if !a.cfg.ProofStorageEnabled() {
		return nil, nil
	}
	return proof.New(ctx, proof.Options{
		Endpoint:  a.cfg.MinIOEndpoint,
		AccessKey: a.cfg.MinIOAccessKey,
		SecretKey: a.cfg.MinIOSecretKey,
		Bucket:    a.cfg.MinIOBucket,
		UseSSL:    a.cfg.MinIOUseSSL,
	}, a.log)
}

// services is the wired pipeline.
type services struct {
	deadlines  *deadline.Service
	scheduler  *reminder.Scheduler
	worker     *reminder.Worker
	dispatcher *outbox.Dispatcher
	receipts   *outbox.Receipts
	gate       *consent.Gate
}

func (a *app) services(ctx context.Context) (*services, error) {
	pool, err := a.openPool(ctx)
	if err != nil {
		return nil, err
	}
	loc := a.location()
	reminders := reminder.NewRepository()
	messages := outbox.NewRepository()

	return &services{
		deadlines: deadline.NewService(pool, nil, nil, a.log).
			WithLocation(loc).
			OnFiled(reminder.NewFilingHook(reminders, a.log)),
		scheduler: reminder.NewScheduler(pool, reminders, nil, nil, a.log).
			WithLocation(loc).
			WithSendHour(a.cfg.SendHour),
		worker: reminder.NewWorker(pool, reminders, nil, nil, messages, a.log).
			WithConcurrency(a.cfg.DrainConcurrency),
		dispatcher: outbox.NewDispatcher(pool, messages, nil, a.sender(), a.log).
			WithConcurrency(a.cfg.DrainConcurrency),
		receipts: outbox.NewReceipts(pool, messages, a.log),
		gate:     consent.NewGate(pool, consent.NewRepository(), reminders, messages, a.log),
	}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
