// Package email delivers messages over SMTP.
package email

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"

	"ixfnotify/internal/transport"
	"ixfnotify/pkg/htmlx"
	logx "ixfnotify/pkg/logx"
)

type Config struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
	FromName    string
}

// Sender hands a built message to an SMTP server. *gomail.Dialer
// satisfies it.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Channel sends multipart emails: a tag-stripped text part and the HTML part.
type Channel struct {
	cfg    Config
	sender Sender
	log    logx.Logger
}

func New(cfg Config, log logx.Logger) *Channel {
	return NewWithSender(cfg, gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password), log)
}

func NewWithSender(cfg Config, sender Sender, log logx.Logger) *Channel {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Channel{cfg: cfg, sender: sender, log: log}
}

func (c *Channel) Name() string { return transport.ChannelEmail }

func (c *Channel) Send(ctx context.Context, m transport.Message) error {
	if len(m.To) == 0 {
		return transport.ErrNoRecipients
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.sender.DialAndSend(c.build(m)); err != nil {
		return fmt.Errorf("email: send %q: %w", m.Subject, err)
	}
	c.log.Debug("email sent", logx.Strings("to", m.To), logx.String("subject", m.Subject))
	return nil
}

func (c *Channel) build(m transport.Message) *gomail.Message {
	msg := gomail.NewMessage()
	if c.cfg.FromName != "" {
		msg.SetAddressHeader("From", c.cfg.FromAddress, c.cfg.FromName)
	} else {
		msg.SetHeader("From", c.cfg.FromAddress)
	}
	msg.SetHeader("To", m.To...)
	msg.SetHeader("Subject", m.Subject)
	if m.Ref != "" {
		msg.SetHeader("X-IXF-Ref", m.Ref)
	}
	msg.SetBody("text/plain", htmlx.StripTags(m.HTML))
	msg.AddAlternative("text/html", htmlBody(m.HTML))
	return msg
}

// htmlBody keeps the template's line structure in HTML mail clients.
func htmlBody(body string) string {
	body = strings.TrimRight(body, "\n")
	return "<html><body>" + strings.ReplaceAll(body, "\n", "<br>\n") + "</body></html>"
}

// Debug logs messages instead of sending them.
type Debug struct {
	log logx.Logger
}

func NewDebug(log logx.Logger) *Debug {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Debug{log: log}
}

func (d *Debug) Name() string { return transport.ChannelEmail }

func (d *Debug) Send(ctx context.Context, m transport.Message) error {
	if len(m.To) == 0 {
		return transport.ErrNoRecipients
	}
	d.log.Info("email (debug)",
		logx.Strings("to", m.To),
		logx.String("subject", m.Subject),
		logx.String("body", htmlx.StripTags(m.HTML)),
	)
	return nil
}
