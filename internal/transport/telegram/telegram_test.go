package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	"ixfnotify/internal/transport"
	logx "ixfnotify/pkg/logx"
)

type sent struct {
	chat int64
	text string
	opts *tele.SendOptions
}

type fakeBot struct {
	sent []sent
	err  error
}

func (f *fakeBot) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	s := sent{text: what.(string)}
	if c, ok := to.(*tele.Chat); ok {
		s.chat = c.ID
	}
	if len(opts) > 0 {
		s.opts, _ = opts[0].(*tele.SendOptions)
	}
	f.sent = append(f.sent, s)
	return &tele.Message{ID: len(f.sent)}, nil
}

func TestSendFormatsHTML(t *testing.T) {
	fb := &fakeBot{}
	ch := NewWithSender(Config{ChatID: -100, ThreadID: 7}, fb, logx.Nop())

	err := ch.Send(context.Background(), transport.Message{
		Subject: "[IX-F] AS20 <test>",
		HTML:    "- speed: 1000 to 10000\n<script>x</script><a href=\"https://ix.example\" target=\"_blank\">src</a>",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(fb.sent) != 1 {
		t.Fatalf("sent %d, want 1", len(fb.sent))
	}
	got := fb.sent[0]
	if got.chat != -100 || got.opts == nil || got.opts.ThreadID != 7 || got.opts.ParseMode != tele.ModeHTML {
		t.Fatalf("send = %+v opts=%+v", got, got.opts)
	}
	if !strings.HasPrefix(got.text, "<b>[IX-F] AS20 &lt;test&gt;</b>\n") {
		t.Fatalf("text = %q", got.text)
	}
	if strings.Contains(got.text, "<script>") || strings.Contains(got.text, "target=") {
		t.Fatalf("body not sanitized: %q", got.text)
	}
	if !strings.Contains(got.text, `href="https://ix.example"`) {
		t.Fatalf("link dropped: %q", got.text)
	}
}

func TestSendRecipientOverride(t *testing.T) {
	fb := &fakeBot{}
	ch := NewWithSender(Config{ChatID: 1}, fb, logx.Nop())
	if err := ch.Send(context.Background(), transport.Message{To: []string{"555"}, Subject: "s"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if fb.sent[0].chat != 555 {
		t.Fatalf("chat = %d, want 555", fb.sent[0].chat)
	}
}

func TestSendWithoutChat(t *testing.T) {
	ch := NewWithSender(Config{}, &fakeBot{}, logx.Nop())
	if err := ch.Send(context.Background(), transport.Message{Subject: "s"}); !errors.Is(err, transport.ErrNoRecipients) {
		t.Fatalf("err = %v, want ErrNoRecipients", err)
	}
}

func TestSendError(t *testing.T) {
	boom := errors.New("flood")
	ch := NewWithSender(Config{ChatID: 1}, &fakeBot{err: boom}, logx.Nop())
	if err := ch.Send(context.Background(), transport.Message{Subject: "s"}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped flood", err)
	}
}

func TestNewRequiresToken(t *testing.T) {
	if _, err := New(Config{}, logx.Nop()); err == nil {
		t.Fatalf("expected error for empty token")
	}
}

func TestSplitText(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		limit int
		want  int
	}{
		{"short", "hello", 10, 1},
		{"newline", strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8), 10, 2},
		{"hard", strings.Repeat("x", 25), 10, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitText(tt.in, tt.limit)
			if len(got) != tt.want {
				t.Fatalf("chunks = %q, want %d", got, tt.want)
			}
			for _, c := range got {
				if len([]rune(c)) > tt.limit {
					t.Fatalf("chunk too long: %q", c)
				}
			}
		})
	}
}

func TestSplitTextAvoidsTags(t *testing.T) {
	in := strings.Repeat("a", 8) + "<b>x</b>"
	got := splitText(in, 10)
	if got[0] != strings.Repeat("a", 8) {
		t.Fatalf("first chunk = %q, want tag moved to next chunk", got[0])
	}
}
