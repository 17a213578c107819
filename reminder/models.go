package reminder

import (
	"time"

	"remindflow/outbox"
)

// Status is the lifecycle state of a reminder. Everything except pending is terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Cancellation reasons written to error_detail.
const (
	CancelReasonFiled      = "deadline filed"
	CancelReasonNoContact  = "no eligible contact"
	CancelReasonFiledEarly = "filed early"
)

// DefaultSendHour is the local hour reminders go out at.
const DefaultSendHour = 9

// Reminder is one scheduled notification for a deadline.
type Reminder struct {
	ID          string          `json:"id"`
	DeadlineID  string          `json:"deadlineId"`
	Template    outbox.Template `json:"template"`
	SendAt      time.Time       `json:"sendAt"`
	Status      Status          `json:"status"`
	SentAt      *time.Time      `json:"sentAt,omitempty"`
	ClaimedAt   *time.Time      `json:"claimedAt,omitempty"`
	ClaimedBy   *string         `json:"claimedBy,omitempty"`
	ErrorDetail *string         `json:"errorDetail,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// ClaimedByWorker reports whether workerID holds the claim.
func (r Reminder) ClaimedByWorker(workerID string) bool {
	return r.ClaimedBy != nil && *r.ClaimedBy == workerID
}

// Candidate is a reminder slot computed for a deadline but not yet persisted.
type Candidate struct {
	Template outbox.Template
	SendAt   time.Time
}

type offset struct {
	template   outbox.Template
	daysBefore int
}

var offsets = []offset{
	{outbox.TemplateTMinus3, 3},
	{outbox.TemplateTMinus1, 1},
	{outbox.TemplateDueToday, 0},
}

// Candidates returns the three reminder slots for a due date, at hour:00 in loc.
// The calendar date of dueDate is used as-is, whatever its location.
func Candidates(dueDate time.Time, loc *time.Location, hour int) []Candidate {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := dueDate.Date()
	out := make([]Candidate, 0, len(offsets))
	for _, o := range offsets {
		out = append(out, Candidate{
			Template: o.template,
			SendAt:   time.Date(y, m, d-o.daysBefore, hour, 0, 0, 0, loc),
		})
	}
	return out
}

// FutureCandidates keeps the slots strictly after now.
func FutureCandidates(dueDate time.Time, loc *time.Location, hour int, now time.Time) []Candidate {
	all := Candidates(dueDate, loc, hour)
	out := all[:0]
	for _, c := range all {
		if c.SendAt.After(now) {
			out = append(out, c)
		}
	}
	return out
}
