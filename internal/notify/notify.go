// Package notify delivers outbound email.
//
// Everything that sends mail implements Gateway. SMTPGateway talks to a
// real relay, LogGateway writes the message to the log for local
// development, and Dispatcher wraps either one in a bounded worker pool so
// a burst of registrations cannot open an unbounded number of SMTP
// connections.
//
// A failed send is reported to the caller and never retried here.
package notify

import (
	"context"
	"errors"
)

// Message is one outbound email. HTMLBody is sent as text/html.
type Message struct {
	To       string
	Subject  string
	HTMLBody string
}

// Gateway sends a single message. Implementations must be safe for
// concurrent use.
type Gateway interface {
	Send(ctx context.Context, msg Message) error
}

// ErrStopped is returned by Dispatcher.Send once Stop has been called.
var ErrStopped = errors.New("notify: dispatcher stopped")

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, msg Message) error

func (f GatewayFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}
