package transport

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrInvalidAddress is returned when an adapter cannot deliver to the address shape it was given.
	ErrInvalidAddress = errors.New("transport: invalid address")
	// ErrNoRoute is returned by Router when no adapter handles the address.
	ErrNoRoute = errors.New("transport: no route for address")
)

// Message is one delivery request. ID is the outbound message id and may be used by
// providers as an idempotency key.
type Message struct {
	ID       string
	Address  string
	Template string
	Params   map[string]string
}

// Sender delivers a message and returns the provider's message id.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg Message) (string, error)
}

// Routable is implemented by senders that only handle some address shapes.
type Routable interface {
	Routes(address string) bool
}

// CanRoute reports whether s accepts address. Senders that are not Routable accept everything.
func CanRoute(s Sender, address string) bool {
	if r, ok := s.(Routable); ok {
		return r.Routes(address)
	}
	return s != nil
}

// IsEmail reports whether address looks like an email address rather than a phone number.
func IsEmail(address string) bool {
	return strings.Contains(address, "@")
}

// Permanent reports whether retrying err cannot succeed.
func Permanent(err error) bool {
	return errors.Is(err, ErrInvalidAddress) ||
		errors.Is(err, ErrNoRoute) ||
		errors.Is(err, context.Canceled)
}
