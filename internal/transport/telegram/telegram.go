// Package telegram mirrors messages to an operations chat.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"ixfnotify/internal/transport"
	"ixfnotify/pkg/htmlx"
	logx "ixfnotify/pkg/logx"
)

type Config struct {
	Token    string
	ChatID   int64
	ThreadID int
	Timeout  time.Duration
}

// Sender is the subset of *tele.Bot used to post messages.
type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

type Channel struct {
	cfg Config
	api Sender
	log logx.Logger
}

// New connects a bot with cfg.Token. The bot never polls; it only sends.
func New(cfg Config, log logx.Logger) (*Channel, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram: token is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Client: &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return NewWithSender(cfg, b, log), nil
}

func NewWithSender(cfg Config, api Sender, log logx.Logger) *Channel {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Channel{cfg: cfg, api: api, log: log}
}

func (c *Channel) Name() string { return transport.ChannelTelegram }

// Send posts the subject in bold followed by the sanitized body. A numeric
// first recipient overrides the configured chat.
func (c *Channel) Send(ctx context.Context, m transport.Message) error {
	chatID := c.cfg.ChatID
	if len(m.To) > 0 {
		if id, err := strconv.ParseInt(strings.TrimSpace(m.To[0]), 10, 64); err == nil {
			chatID = id
		}
	}
	if chatID == 0 {
		return transport.ErrNoRecipients
	}

	text := htmlx.JoinH("\n", htmlx.B(m.Subject), htmlx.SanitizeChat(m.HTML)).String()
	chat := &tele.Chat{ID: chatID}
	for _, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := c.api.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             tele.ModeHTML,
			DisableWebPagePreview: true,
			ThreadID:              c.cfg.ThreadID,
		})
		if err != nil {
			return fmt.Errorf("telegram: send: %w", err)
		}
	}
	c.log.Debug("telegram message sent", logx.Int64("chat_id", chatID), logx.String("subject", m.Subject))
	return nil
}

const textLimit = 4000

// splitText cuts s into chunks of at most limit runes, preferring newline
// boundaries and never cutting inside an HTML tag.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	var out []string
	for start := 0; start < len(rs); {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start+limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
			open, closed := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					open = i
				case '>':
					closed = i
				}
			}
			if open > closed && open > start {
				end = open
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
