package deadline

import (
	"fmt"
	"time"
)

// ReturnType is the filing category a deadline belongs to.
type ReturnType string

const (
	ReturnGSTR1           ReturnType = "GSTR1"
	ReturnGSTR3B          ReturnType = "GSTR3B"
	ReturnGSTR1Quarterly  ReturnType = "GSTR1Q"
	ReturnGSTR3BQuarterly ReturnType = "GSTR3BQ"
)

// Period identifies the month a return covers. Quarterly returns use the quarter's last month.
type Period struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// Draft is a deadline computed by Generate but not yet persisted.
type Draft struct {
	ReturnType ReturnType `json:"returnType"`
	Period     Period     `json:"period"`
	DueDate    time.Time  `json:"dueDate"`
}

// Deadline is one persisted filing obligation.
type Deadline struct {
	ID         string     `json:"id"`
	EntityID   string     `json:"entityId"`
	ReturnType ReturnType `json:"returnType"`
	Period     Period     `json:"period"`
	DueDate    time.Time  `json:"dueDate"`
	FiledAt    *time.Time `json:"filedAt,omitempty"`
	ProofRef   *string    `json:"proofRef,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Filed reports whether the deadline has been marked filed.
func (d Deadline) Filed() bool {
	return d.FiledAt != nil
}

// DueDateString renders the due date as a calendar date.
func (d Deadline) DueDateString() string {
	return d.DueDate.Format(time.DateOnly)
}
