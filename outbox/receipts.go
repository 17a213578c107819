package outbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
)

// ReceiptStore applies provider delivery receipts.
type ReceiptStore interface {
	RecordReceipt(ctx context.Context, tx pgx.Tx, providerID string, status Status, detail *string, at time.Time) (Message, bool, error)
}

// Receipt is a delivery callback reported by the transport provider.
type Receipt struct {
	ProviderMessageID string `json:"providerMessageId"`
	Status            Status `json:"status"`
	Detail            string `json:"detail,omitempty"`
}

// ReceiptResult reports whether the receipt moved the message forward.
type ReceiptResult struct {
	Message Message `json:"message"`
	Changed bool    `json:"changed"`
}

// Receipts records provider callbacks on outbound messages.
type Receipts struct {
	pool  TxBeginner
	store ReceiptStore
	log   logrus.FieldLogger
	now   func() time.Time
}

// NewReceipts returns the recorder for provider delivery receipts.
func NewReceipts(pool TxBeginner, store ReceiptStore, log logrus.FieldLogger) *Receipts {
	if store == nil {
		store = NewRepository()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Receipts{pool: pool, store: store, log: log, now: time.Now}
}

// WithClock overrides the time source.
func (r *Receipts) WithClock(now func() time.Time) *Receipts {
	r.now = now
	return r
}

// Record applies one receipt. Duplicate or out-of-order receipts succeed with Changed=false.
func (r *Receipts) Record(ctx context.Context, rc Receipt) (ReceiptResult, error) {
	if strings.TrimSpace(rc.ProviderMessageID) == "" {
		return ReceiptResult{}, fmt.Errorf("%w: missing provider message id", ErrInvalidInput)
	}

	var detail *string
	if d := strings.TrimSpace(rc.Detail); d != "" {
		detail = &d
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return ReceiptResult{}, fmt.Errorf("outbox: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	msg, changed, err := r.store.RecordReceipt(ctx, tx, rc.ProviderMessageID, rc.Status, detail, r.now().UTC())
	if err != nil {
		return ReceiptResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return ReceiptResult{}, fmt.Errorf("outbox: commit tx: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"message_id":  msg.ID,
		"provider_id": rc.ProviderMessageID,
		"status":      msg.Status,
		"changed":     changed,
	}).Debug("delivery receipt recorded")
	return ReceiptResult{Message: msg, Changed: changed}, nil
}
