package account

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"remindflow/consent"
)

// ErrInvalidCadence is returned for cadences outside the supported set.
var ErrInvalidCadence = errors.New("account: invalid cadence")

// Cadence is an entity's filing frequency.
type Cadence string

const (
	CadenceMonthly   Cadence = "periodic-monthly"
	CadenceQuarterly Cadence = "periodic-quarterly"
)

// ParseCadence validates a stored or user-supplied cadence.
func ParseCadence(raw string) (Cadence, error) {
	switch c := Cadence(strings.TrimSpace(raw)); c {
	case CadenceMonthly, CadenceQuarterly:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCadence, raw)
	}
}

// Entity is a registered filer owned by an account.
type Entity struct {
	ID        string    `json:"id"`
	AccountID string    `json:"accountId"`
	GSTIN     string    `json:"gstin"`
	LegalName string    `json:"legalName"`
	Cadence   Cadence   `json:"cadence"`
	Timezone  string    `json:"timezone"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

// Location resolves the entity timezone, falling back to def when unset or unknown.
func (e Entity) Location(def *time.Location) *time.Location {
	if e.Timezone != "" {
		if loc, err := time.LoadLocation(e.Timezone); err == nil {
			return loc
		}
	}
	if def == nil {
		return time.UTC
	}
	return def
}

// Contact is a notification target owned by an account.
type Contact struct {
	ID          string        `json:"id"`
	AccountID   string        `json:"accountId"`
	DisplayName string        `json:"displayName"`
	Phone       *string       `json:"phone,omitempty"`
	Email       *string       `json:"email,omitempty"`
	Primary     bool          `json:"primary"`
	Consent     consent.State `json:"-"`
}

// Eligible applies the consent predicate to the contact's current state.
func (c Contact) Eligible() bool {
	return consent.Eligible(c.Consent)
}

// Address picks the delivery address, phone before email.
func (c Contact) Address() (string, bool) {
	all := c.Addresses()
	if len(all) == 0 {
		return "", false
	}
	return all[0], true
}

// Addresses lists every usable address in preference order, phone before email.
func (c Contact) Addresses() []string {
	var out []string
	for _, raw := range []*string{c.Phone, c.Email} {
		if raw == nil {
			continue
		}
		if addr := strings.TrimSpace(*raw); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}
