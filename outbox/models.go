package outbox

import "time"

// Status is the delivery state of an outbound message.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Message is one outbound delivery attempt. Rows are never deleted.
type Message struct {
	ID                string     `json:"id"`
	ContactID         string     `json:"contactId"`
	ReminderID        *string    `json:"reminderId,omitempty"`
	Template          Template   `json:"template"`
	Params            Params     `json:"params"`
	ScheduledFor      time.Time  `json:"scheduledFor"`
	Status            Status     `json:"status"`
	ProviderMessageID *string    `json:"providerMessageId,omitempty"`
	ClaimedAt         *time.Time `json:"claimedAt,omitempty"`
	ClaimedBy         *string    `json:"claimedBy,omitempty"`
	ErrorDetail       *string    `json:"errorDetail,omitempty"`
	SentAt            *time.Time `json:"sentAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
}

// ClaimedByWorker reports whether workerID holds the claim.
func (m Message) ClaimedByWorker(workerID string) bool {
	return m.ClaimedBy != nil && *m.ClaimedBy == workerID
}

// NewMessage is the input for Enqueue.
type NewMessage struct {
	ContactID    string
	ReminderID   string
	Template     Template
	Params       Params
	ScheduledFor time.Time
}
