// Package transport defines outbound messages and the channels that deliver
// them.
package transport

import (
	"context"
	"errors"
)

// Channel names.
const (
	ChannelEmail    = "email"
	ChannelTelegram = "telegram"
)

var ErrNoRecipients = errors.New("transport: no recipients")

// Message is one outbound notification. HTML is the rendered template body;
// channels derive their own representation from it.
type Message struct {
	Channel  string
	To       []string
	Subject  string
	HTML     string
	Priority int // 0 low .. 10 high
	// Ref ties the message back to its origin (email log id, ticket ref).
	Ref string
}

// Channel delivers messages over one medium.
type Channel interface {
	Name() string
	Send(ctx context.Context, m Message) error
}
