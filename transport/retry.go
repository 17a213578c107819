package transport

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// DefaultMaxElapsed bounds the total time Retrying spends on one message. Callers hold row
// locks while sending, so the bound is kept short.
const DefaultMaxElapsed = 5 * time.Second

// Retrying retries transient send failures with exponential backoff. Permanent errors return at once.
type Retrying struct {
	next       Sender
	maxRetries uint64
	initial    time.Duration
	maxElapsed time.Duration
	log        logrus.FieldLogger
}

// NewRetrying wraps next so transient failures are retried with exponential backoff, at most maxRetries times.
func NewRetrying(next Sender, maxRetries int, log logrus.FieldLogger) *Retrying {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Retrying{
		next:       next,
		maxRetries: uint64(maxRetries),
		initial:    500 * time.Millisecond,
		maxElapsed: DefaultMaxElapsed,
		log:        log,
	}
}

// WithInitialInterval shortens or lengthens the first backoff step.
func (r *Retrying) WithInitialInterval(d time.Duration) *Retrying {
	if d > 0 {
		r.initial = d
	}
	return r
}

// WithMaxElapsed caps the total retry time for one message.
func (r *Retrying) WithMaxElapsed(d time.Duration) *Retrying {
	if d > 0 {
		r.maxElapsed = d
	}
	return r
}

func (r *Retrying) Name() string { return r.next.Name() }

// Routes delegates to the wrapped sender.
func (r *Retrying) Routes(address string) bool { return CanRoute(r.next, address) }

func (r *Retrying) Send(ctx context.Context, msg Message) (string, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.initial
	exp.MaxElapsedTime = r.maxElapsed
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, r.maxRetries), ctx)

	op := func() (string, error) {
		id, err := r.next.Send(ctx, msg)
		if err != nil && Permanent(err) {
			return "", backoff.Permanent(err)
		}
		return id, err
	}
	notify := func(err error, wait time.Duration) {
		r.log.WithError(err).WithFields(logrus.Fields{
			"message_id": msg.ID,
			"transport":  r.next.Name(),
			"wait":       wait.String(),
		}).Warn("send failed, retrying")
	}

	return backoff.RetryNotifyWithData(op, policy, notify)
}
