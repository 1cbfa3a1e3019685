// Package notify turns queued IX-F proposals into emails and tickets.
//
// Networks and exchanges receive one consolidated email per import run.
// Proposals nobody can act on, or that stay unresolved for too long, are
// escalated as tickets to the admin committee.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"ixfnotify/internal/ixf"
	"ixfnotify/internal/proposal"
	"ixfnotify/internal/render"
	"ixfnotify/internal/storage"
	"ixfnotify/internal/ticket"
	"ixfnotify/internal/transport"
	logx "ixfnotify/pkg/logx"
)

// Config is the notification policy.
type Config struct {
	// Save enables side effects. Without it nothing is sent or stored.
	Save             bool
	SubjectPrefix    string
	NotifyIXEnabled  bool
	NotifyNetEnabled bool
	TicketsEnabled   bool
	// MailDebug logs emails instead of handing them to the dispatcher.
	MailDebug bool
	// TicketDays is the age at which proposals are escalated; 0 escalates
	// every proposal without a ticket.
	TicketDays              int
	ErrorNotificationPeriod time.Duration
	// BaseURL fills in missing network and admin links.
	BaseURL string
}

// Dispatcher accepts outbound messages.
type Dispatcher interface {
	Dispatch(ctx context.Context, m transport.Message) error
}

// Deps are the collaborators of a Service. Store may be nil.
type Deps struct {
	Renderer   proposal.TemplateRenderer
	Store      storage.Store
	Tickets    ticket.Client
	Dispatcher Dispatcher
	Log        logx.Logger
	Now        func() time.Time
}

type Service struct {
	mu  sync.RWMutex
	cfg Config

	r     proposal.TemplateRenderer
	store storage.Store
	tk    ticket.Client
	disp  Dispatcher
	log   logx.Logger
	now   func() time.Time

	queue proposal.Queue

	// errNotified throttles source errors when no store is configured.
	emu         sync.Mutex
	errNotified map[int64]time.Time
}

func New(cfg Config, d Deps) *Service {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Renderer == nil {
		d.Renderer = render.MustNew()
	}
	if d.Tickets == nil {
		d.Tickets = ticket.NewMockClient(d.Log)
	}
	return &Service{
		cfg:         cfg,
		r:           d.Renderer,
		store:       d.Store,
		tk:          d.Tickets,
		disp:        d.Dispatcher,
		log:         d.Log.With(logx.Comp("notify")),
		now:         d.Now,
		errNotified: map[int64]time.Time{},
	}
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (c Config) fillLinks(in *ixf.Instance) {
	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if base == "" {
		return
	}
	if in.NetURL == "" && in.NetID != 0 {
		in.NetURL = fmt.Sprintf("%s/net/%d", base, in.NetID)
	}
	if in.ACURL == "" && in.ID != 0 {
		in.ACURL = fmt.Sprintf("%s/cp/peeringdb_server/ixfmemberdata/%d/change/", base, in.ID)
	}
}

// Pending reports how many notifications are queued.
func (s *Service) Pending() int { return s.queue.Len() }

// Queue adds n to the current run and records its proposal for aging.
func (s *Service) Queue(ctx context.Context, n proposal.Notification) error {
	if n.Instance == nil {
		return errors.New("notify: notification without instance")
	}
	s.config().fillLinks(n.Instance)
	s.queue.Add(n)
	if !s.config().Save || s.store == nil || n.Type == ixf.TypeResolved {
		return nil
	}
	if err := s.store.UpsertProposal(ctx, n.Instance); err != nil {
		return fmt.Errorf("notify: save proposal %s: %w", n.Instance.Key(), err)
	}
	return nil
}

// NotifyProposals consolidates the queued notifications and emails one
// digest per network and per exchange.
func (s *Service) NotifyProposals(ctx context.Context) error {
	cfg := s.config()
	if !cfg.Save {
		return nil
	}
	res, err := proposal.Consolidate(s.queue.Drain(), s.r)
	errs := []error{err}

	for _, n := range res.NeedsTicket {
		errs = append(errs, s.TicketProposal(ctx, n))
	}

	for _, role := range []ixf.Role{ixf.RoleIX, ixf.RoleNet} {
		digests := res.IX.All()
		if role == ixf.RoleNet {
			digests = res.Net.All()
		}
		for _, d := range digests {
			if len(d.Contacts) == 0 || d.Count == 0 {
				continue
			}
			errs = append(errs, s.sendDigest(ctx, cfg, role, d))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) sendDigest(ctx context.Context, cfg Config, role ixf.Role, d *proposal.Digest) error {
	props := make([]map[string]any, 0, len(d.Proposals()))
	for _, p := range d.Proposals() {
		props = append(props, map[string]any{
			"name":              p.Name,
			"add":               p.Add,
			"modify":            p.Modify,
			"delete":            p.Delete,
			"protocol_conflict": p.ProtocolConflict,
		})
	}
	body, err := s.r.RenderTemplate(render.TemplateConsolidated, ixf.RenderContext{
		Recipient: role,
		Extra: map[string]any{
			"entity_name": d.Name,
			"count":       d.Count,
			"ticket_days": cfg.TicketDays,
			"proposals":   props,
		},
	})
	if err != nil {
		return fmt.Errorf("notify: digest for %s: %w", d.Name, err)
	}

	if role == ixf.RoleNet {
		subject := fmt.Sprintf("PeeringDB: Action May Be Needed: IX-F Importer data mismatch between AS%d and one or more IXPs", d.Key)
		return s.email(ctx, subject, body, d.Contacts, recipient{role: ixf.RoleNet, id: d.Key})
	}
	subject := fmt.Sprintf("PeeringDB: Action May Be Needed: IX-F Importer data mismatch between %s and one or more networks", d.Name)
	return s.email(ctx, subject, body, d.Contacts, recipient{role: ixf.RoleIX, id: d.Key})
}

// TicketProposal escalates one proposal: a ticket for the admin committee,
// then emails to the exchange and, where it can act, the network, carrying
// the ticket reference in the subject.
func (s *Service) TicketProposal(ctx context.Context, n proposal.Notification) error {
	in := n.Instance
	if in == nil {
		return nil
	}
	cfg := s.config()
	typ := n.Type
	if typ == ixf.TypeAdd && in.HasRequirements() {
		typ = ixf.TypeForAction(n.Action)
	}
	subject := in.String() + " IX-F Conflict Resolution"
	tpl := render.TemplateFor(typ, false)
	s.log.Debug("ticketing proposal", logx.ASN(in.ASN), logx.IXLan(in.IXLanID), logx.String("type", string(typ)))

	var errs []error
	if n.AC && cfg.TicketsEnabled {
		body, err := s.renderFull(tpl, n, ixf.RoleAC)
		if err != nil {
			return err
		}
		tk, err := s.ticket(ctx, cfg, in, subject, body)
		errs = append(errs, err)
		in.TicketID, in.TicketRef = tk.ID, tk.Ref
		if cfg.Save && s.store != nil && tk.ID != 0 {
			errs = append(errs, s.store.SetProposalTicket(ctx, in.Key(), tk.ID, tk.Ref))
		}
	}
	if in.TicketRef != "" {
		subject = fmt.Sprintf("%s [#%s]", subject, in.TicketRef)
	}

	if n.IX {
		body, err := s.renderFull(tpl, n, ixf.RoleIX)
		if err == nil {
			err = s.email(ctx, subject, body, in.IXContacts, recipient{role: ixf.RoleIX, id: in.IXID})
		}
		errs = append(errs, err)
	}
	if n.Net && in.ActionableForNetwork {
		body, err := s.renderFull(tpl, n, ixf.RoleNet)
		if err == nil {
			err = s.email(ctx, subject, body, in.NetContacts, recipient{role: ixf.RoleNet, id: in.ASN})
		}
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// TicketAgedProposals escalates stored proposals older than TicketDays that
// have no ticket yet.
func (s *Service) TicketAgedProposals(ctx context.Context) error {
	cfg := s.config()
	if !cfg.Save || s.store == nil {
		return nil
	}
	var olderThan time.Time
	if cfg.TicketDays > 0 {
		olderThan = s.now().AddDate(0, 0, -cfg.TicketDays)
	}
	aged, err := s.store.AgedProposals(ctx, olderThan)
	if err != nil {
		return fmt.Errorf("notify: aged proposals: %w", err)
	}
	s.log.Info("ticketing aged proposals", logx.Int("count", len(aged)), logx.Int("ticket_days", cfg.TicketDays))

	var errs []error
	for _, in := range aged {
		if err := ctx.Err(); err != nil {
			return err
		}
		errs = append(errs, s.TicketProposal(ctx, proposal.Notification{
			Instance: in,
			Type:     ixf.TypeForAction(in.Action),
			Action:   in.Action,
			AC:       true,
			IX:       true,
			Net:      true,
		}))
	}
	return errors.Join(errs...)
}

// NotifyError tells the admin committee and the exchange that its IX-F feed
// could not be processed. Repeats for the same IX-LAN are suppressed for
// ErrorNotificationPeriod.
func (s *Service) NotifyError(ctx context.Context, lan ixf.IXLan, cause string) error {
	cfg := s.config()
	if !cfg.Save {
		return nil
	}
	now := s.now()
	if last, ok := s.lastErrorNotice(ctx, lan.ID); ok && cfg.ErrorNotificationPeriod > 0 && now.Sub(last) < cfg.ErrorNotificationPeriod {
		s.log.Debug("source error notice throttled", logx.IXLan(lan.ID))
		return nil
	}
	if err := s.recordErrorNotice(ctx, storage.IXLanError{IXLanID: lan.ID, Notified: now, Error: cause}); err != nil {
		return err
	}

	in := lan.Instance()
	subject := "Could not process IX-F Data"
	body, err := s.r.RenderTemplate(render.TemplateSourceError, ixf.RenderContext{
		Instance: in,
		IXFURL:   lan.IXFURL,
		Extra: map[string]any{
			"error":  cause,
			"dt":     now.UTC().Format("2006-01-02 15:04 MST"),
			"period": humanPeriod(cfg.ErrorNotificationPeriod),
		},
	})
	if err != nil {
		return fmt.Errorf("notify: source error for ixlan %d: %w", lan.ID, err)
	}

	_, tkErr := s.ticket(ctx, cfg, in, subject, body)
	var mailErr error
	if len(in.IXContacts) > 0 {
		mailErr = s.email(ctx, subject, body, in.IXContacts, recipient{role: ixf.RoleIX, id: lan.IXID})
	}
	return errors.Join(tkErr, mailErr)
}

func (s *Service) lastErrorNotice(ctx context.Context, ixlan int64) (time.Time, bool) {
	if s.store != nil {
		rec, ok, err := s.store.IXLanError(ctx, ixlan)
		if err != nil {
			s.log.Warn("reading source error state failed", logx.IXLan(ixlan), logx.Err(err))
			return time.Time{}, false
		}
		return rec.Notified, ok
	}
	s.emu.Lock()
	defer s.emu.Unlock()
	t, ok := s.errNotified[ixlan]
	return t, ok
}

func (s *Service) recordErrorNotice(ctx context.Context, rec storage.IXLanError) error {
	if s.store != nil {
		if err := s.store.SetIXLanError(ctx, rec); err != nil {
			return fmt.Errorf("notify: record source error: %w", err)
		}
		return nil
	}
	s.emu.Lock()
	s.errNotified[rec.IXLanID] = rec.Notified
	s.emu.Unlock()
	return nil
}

// Delivered marks the email log row of m as sent. It is registered as a
// dispatcher hook.
func (s *Service) Delivered(m transport.Message) {
	if s.store == nil || m.Channel != transport.ChannelEmail || m.Ref == "" {
		return
	}
	id, err := strconv.ParseInt(m.Ref, 10, 64)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.MarkEmailSent(ctx, id, s.now()); err != nil {
		s.log.Warn("marking email sent failed", logx.Int64("email_id", id), logx.Err(err))
	}
}

func (s *Service) renderFull(tpl string, n proposal.Notification, role ixf.Role) (string, error) {
	out, err := s.r.RenderTemplate(tpl, ixf.RenderContext{
		Instance:  n.Instance,
		Recipient: role,
		IXFURL:    n.Instance.IXFURL,
		Extra:     n.Context,
	})
	if err != nil {
		return "", fmt.Errorf("notify: render %s for %s: %w", tpl, role, err)
	}
	return out, nil
}

func humanPeriod(d time.Duration) string {
	switch {
	case d <= 0:
		return "run"
	case d%(24*time.Hour) == 0:
		return plural(int(d/(24*time.Hour)), "day")
	case d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	default:
		return d.String()
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
