package transport

import (
	"context"
	"fmt"
)

// Router picks the email adapter for email addresses and the phone adapter for everything else.
type Router struct {
	Email Sender
	Phone Sender
}

func (r *Router) Name() string { return "router" }

// Routes reports whether an adapter is configured for the address shape.
func (r *Router) Routes(address string) bool {
	target := r.target(address)
	return target != nil && CanRoute(target, address)
}

func (r *Router) Send(ctx context.Context, msg Message) (string, error) {
	target := r.target(msg.Address)
	if target == nil {
		return "", fmt.Errorf("%w: %s", ErrNoRoute, msg.Address)
	}
	return target.Send(ctx, msg)
}

func (r *Router) target(address string) Sender {
	if IsEmail(address) {
		return r.Email
	}
	return r.Phone
}
