package storage

import (
	"context"
	"time"

	"ixfnotify/internal/ixf"
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration
}

// Email is one logged notification email.
type Email struct {
	ID         int64
	Created    time.Time
	Subject    string
	Message    string
	Recipients []string
	NetASN     int64
	IXID       int64
	Sent       time.Time
}

// Ticket is a ticket opened for the admin committee.
type Ticket struct {
	ID        int64
	Created   time.Time
	Subject   string
	Body      string
	RemoteID  int64
	RemoteRef string
	Published time.Time
}

// IXLanError is the last source error noticed for an IX-LAN.
type IXLanError struct {
	IXLanID  int64
	Notified time.Time
	Error    string
}

// Store is the persistence API used by the notifier.
type Store interface {
	InsertEmail(ctx context.Context, e *Email) error
	MarkEmailSent(ctx context.Context, id int64, at time.Time) error
	Emails(ctx context.Context, limit int) ([]Email, error)

	InsertTicket(ctx context.Context, t *Ticket) error
	UpdateTicket(ctx context.Context, t *Ticket) error
	Tickets(ctx context.Context, limit int) ([]Ticket, error)
	// TicketBySubject returns the newest ticket with subject that has a
	// remote id.
	TicketBySubject(ctx context.Context, subject string) (Ticket, bool, error)

	UpsertProposal(ctx context.Context, in *ixf.Instance) error
	// AgedProposals returns proposals created at or before olderThan that
	// have no ticket and are not requirements of another proposal. A zero
	// olderThan returns all of them.
	AgedProposals(ctx context.Context, olderThan time.Time) ([]*ixf.Instance, error)
	SetProposalTicket(ctx context.Context, key string, id int64, ref string) error
	DeleteProposal(ctx context.Context, key string) error

	IXLanError(ctx context.Context, ixlanID int64) (IXLanError, bool, error)
	SetIXLanError(ctx context.Context, e IXLanError) error

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}
