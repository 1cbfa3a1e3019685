package notify

import (
	"context"
	"fmt"
	"strconv"

	"ixfnotify/internal/ixf"
	"ixfnotify/internal/storage"
	"ixfnotify/internal/ticket"
	"ixfnotify/internal/transport"
	"ixfnotify/pkg/htmlx"
	logx "ixfnotify/pkg/logx"
)

// recipient is the entity an email is addressed to.
type recipient struct {
	role ixf.Role
	id   int64 // ASN for networks, exchange id for exchanges
}

func (c Config) subject(s string) string { return c.SubjectPrefix + "[IX-F] " + s }

// email logs the message and hands it to the dispatcher unless delivery to
// that kind of recipient is switched off.
func (s *Service) email(ctx context.Context, subject, body string, to []string, rcpt recipient) error {
	cfg := s.config()
	subject = cfg.subject(subject)

	var ref string
	if s.store != nil {
		rec := &storage.Email{Subject: subject, Message: body, Recipients: to}
		if rcpt.role == ixf.RoleNet {
			rec.NetASN = rcpt.id
		} else {
			rec.IXID = rcpt.id
		}
		if err := s.store.InsertEmail(ctx, rec); err != nil {
			return fmt.Errorf("notify: log email: %w", err)
		}
		ref = strconv.FormatInt(rec.ID, 10)
	}

	switch rcpt.role {
	case ixf.RoleNet:
		if !cfg.NotifyNetEnabled {
			return nil
		}
	case ixf.RoleIX:
		if !cfg.NotifyIXEnabled {
			return nil
		}
	}
	if len(to) == 0 {
		return nil
	}

	msg := transport.Message{
		Channel: transport.ChannelEmail,
		To:      to,
		Subject: subject,
		HTML:    body,
		Ref:     ref,
	}
	if cfg.MailDebug || s.disp == nil {
		s.log.Info("email (debug)",
			logx.Strings("to", to),
			logx.String("subject", subject),
			logx.String("body", htmlx.StripTags(body)),
		)
		s.Delivered(msg)
		return nil
	}
	if err := s.disp.Dispatch(ctx, msg); err != nil {
		return fmt.Errorf("notify: dispatch %q: %w", subject, err)
	}
	return nil
}

// ticket records and publishes a ticket. A previous ticket with the same
// subject lends its remote id so the helpdesk threads them. Publish
// failures are kept in the record and returned.
func (s *Service) ticket(ctx context.Context, cfg Config, in *ixf.Instance, subject, body string) (ticket.Ticket, error) {
	subject = cfg.subject(subject)

	if in.TicketID == 0 && s.store != nil {
		old, ok, err := s.store.TicketBySubject(ctx, subject)
		if err != nil {
			s.log.Warn("ticket lookup failed", logx.String("subject", subject), logx.Err(err))
		} else if ok {
			in.TicketID, in.TicketRef = old.RemoteID, old.RemoteRef
		}
	}

	rec := &storage.Ticket{Subject: subject, Body: body, RemoteID: in.TicketID, RemoteRef: in.TicketRef}
	if s.store != nil {
		if err := s.store.InsertTicket(ctx, rec); err != nil {
			return ticket.Ticket{}, fmt.Errorf("notify: record ticket: %w", err)
		}
	}

	tk := ticket.Ticket{Subject: subject, Body: body, ID: in.TicketID, Ref: in.TicketRef}
	pubErr := s.tk.Create(ctx, &tk)
	if pubErr != nil {
		s.log.Warn("ticket publish failed", logx.String("subject", subject), logx.Err(pubErr))
		rec.Subject = "[FAILED]" + rec.Subject
		rec.Body = rec.Body + "\n\n" + pubErr.Error()
		pubErr = fmt.Errorf("notify: publish ticket %q: %w", subject, pubErr)
	} else {
		rec.RemoteID, rec.RemoteRef, rec.Published = tk.ID, tk.Ref, s.now()
	}

	if s.store != nil {
		if err := s.store.UpdateTicket(ctx, rec); err != nil {
			s.log.Warn("ticket update failed", logx.Int64("ticket", rec.ID), logx.Err(err))
		}
	}
	return tk, pubErr
}
