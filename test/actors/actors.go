package actors

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"remindflow/consent"
	"remindflow/deadline"
	"remindflow/outbox"
	"remindflow/reminder"
)

type Drainer interface {
	Drain(ctx context.Context, batchSize int, workerID string) (reminder.Summary, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, batchSize int, workerID string) (outbox.Summary, error)
}

type Scheduler interface {
	ScheduleMany(ctx context.Context, deadlineIDs []string) []reminder.ItemResult
}

type ConsentGate interface {
	OptOut(ctx context.Context, contactID, reason string) (consent.OptOutResult, error)
	OptIn(ctx context.Context, contactID, reason string) error
}

type Filer interface {
	MarkFiled(ctx context.Context, deadlineID string, proofRef *string) (deadline.MarkFiledResult, error)
}

// Errors from the pipeline are expected while chaos kills connections; actors only stop
// on stop or context cancellation.
func stopped(ctx context.Context, stop <-chan struct{}) (bool, error) {
	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case <-stop:
		return true, nil
	default:
		return false, nil
	}
}

func pause(minMs, spreadMs int) {
	time.Sleep(time.Duration(minMs+rand.Intn(spreadMs)) * time.Millisecond)
}

// Drain claims due reminders in small batches as worker id, competing with other drainers.
func Drain(ctx context.Context, d Drainer, id string, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		_, _ = d.Drain(ctx, 1+rand.Intn(5), id)
		pause(5, 20)
	}
}

// Dispatch sends queued messages as worker id.
func Dispatch(ctx context.Context, d Dispatcher, id string, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		_, _ = d.Dispatch(ctx, 1+rand.Intn(5), id)
		pause(5, 20)
	}
}

// Reschedule repeatedly schedules the same deadlines; every call after the first must be a no-op.
func Reschedule(ctx context.Context, s Scheduler, deadlineIDs []string, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		_ = s.ScheduleMany(ctx, deadlineIDs)
		pause(20, 40)
	}
}

// ToggleConsent flips a contact between opted out and opted in.
func ToggleConsent(ctx context.Context, g ConsentGate, contactID string, stop <-chan struct{}) error {
	for i := 0; ; i++ {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		if i%2 == 0 {
			_, _ = g.OptOut(ctx, contactID, fmt.Sprintf("stress opt-out %d", i))
		} else {
			_ = g.OptIn(ctx, contactID, fmt.Sprintf("stress opt-in %d", i))
		}
		pause(10, 30)
	}
}

// FileEventually marks deadlines filed one by one at random intervals.
func FileEventually(ctx context.Context, f Filer, deadlineIDs []string, stop <-chan struct{}) error {
	order := rand.Perm(len(deadlineIDs))
	for _, i := range order {
		pause(50, 200)
		if done, err := stopped(ctx, stop); done {
			return err
		}
		ref := "stress-ack-" + deadlineIDs[i]
		_, _ = f.MarkFiled(ctx, deadlineIDs[i], &ref)
	}
	return nil
}
