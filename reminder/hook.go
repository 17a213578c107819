package reminder

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"remindflow/deadline"
)

// PendingCanceller cancels the pending reminders of a deadline.
type PendingCanceller interface {
	CancelPendingForDeadline(ctx context.Context, tx pgx.Tx, deadlineID, reason string, at time.Time) (int64, error)
}

// FilingHook cancels pending reminders when their deadline is filed.
// It runs in the filing transaction, so no drain can send one afterwards.
type FilingHook struct {
	store PendingCanceller
	log   logrus.FieldLogger
}

var _ deadline.FiledHook = (*FilingHook)(nil)

// NewFilingHook returns a hook that cancels pending reminders once a deadline is filed.
func NewFilingHook(store PendingCanceller, log logrus.FieldLogger) *FilingHook {
	if store == nil {
		store = NewRepository()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &FilingHook{store: store, log: log}
}

func (h *FilingHook) DeadlineFiled(ctx context.Context, tx pgx.Tx, d deadline.Deadline) error {
	at := time.Now().UTC()
	if d.FiledAt != nil {
		at = *d.FiledAt
	}
	n, err := h.store.CancelPendingForDeadline(ctx, tx, d.ID, CancelReasonFiledEarly, at)
	if err != nil {
		return err
	}
	if n > 0 {
		h.log.WithFields(logrus.Fields{
			"deadline_id": d.ID,
			"cancelled":   n,
		}).Info("pending reminders cancelled on filing")
	}
	return nil
}
