package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"ixfnotify/internal/eventbus"
	"ixfnotify/internal/storage"
	"ixfnotify/internal/transport"
	logx "ixfnotify/pkg/logx"
)

type fakeChannel struct {
	name string

	mu    sync.Mutex
	sent  []transport.Message
	fails int // number of leading sends that fail
	calls int
	block chan struct{}
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(ctx context.Context, m transport.Message) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.fails {
		return errors.New("smtp 421")
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeChannel) messages() []transport.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.Message(nil), f.sent...)
}

func testConfig() Config {
	return Config{
		Enabled:       true,
		Workers:       2,
		QueueSize:     16,
		RatePerSec:    1000,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 2 * time.Millisecond,
		DedupWindow:   time.Minute,
	}
}

func startService(t *testing.T, cfg Config, bus eventbus.Bus, store storage.Store, chs ...transport.Channel) *Service {
	t.Helper()
	s := New(cfg, logx.Nop(), bus, store, chs...)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func stop(t *testing.T, s *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
}

func msg(subject string) transport.Message {
	return transport.Message{Channel: transport.ChannelEmail, To: []string{"noc@as20.example"}, Subject: subject, HTML: "body", Ref: "1"}
}

func TestDispatchDeliversAndCallsHooks(t *testing.T) {
	email := &fakeChannel{name: transport.ChannelEmail}
	s := startService(t, testConfig(), nil, nil, email)

	var mu sync.Mutex
	var refs []string
	s.OnSent(func(m transport.Message) {
		mu.Lock()
		refs = append(refs, m.Ref)
		mu.Unlock()
	})

	for _, subj := range []string{"a", "b", "c"} {
		if err := s.Dispatch(context.Background(), msg(subj)); err != nil {
			t.Fatalf("Dispatch(%s): %v", subj, err)
		}
	}
	stop(t, s)

	if got := len(email.messages()); got != 3 {
		t.Fatalf("delivered %d, want 3", got)
	}
	if len(refs) != 3 {
		t.Fatalf("hooks called %d times, want 3", len(refs))
	}
	if got := len(s.Snapshot()); got != 3 {
		t.Fatalf("history len = %d, want 3", got)
	}
}

func TestDispatchDedup(t *testing.T) {
	email := &fakeChannel{name: transport.ChannelEmail}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16, "dispatch.")
	defer unsub()
	s := startService(t, testConfig(), bus, nil, email)

	_ = s.Dispatch(context.Background(), msg("same"))
	_ = s.Dispatch(context.Background(), msg("same"))
	stop(t, s)

	if got := len(email.messages()); got != 1 {
		t.Fatalf("delivered %d, want 1", got)
	}
	seen := map[string]int{}
	for len(events) > 0 {
		seen[(<-events).Type]++
	}
	if seen[EventDeduped] != 1 || seen[EventSent] != 1 {
		t.Fatalf("events = %v", seen)
	}
}

func TestDispatchPersistentDedup(t *testing.T) {
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "d.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer st.Close()

	cfg := testConfig()
	cfg.PersistDedup = true

	first := &fakeChannel{name: transport.ChannelEmail}
	s1 := startService(t, cfg, nil, st, first)
	_ = s1.Dispatch(context.Background(), msg("persisted"))
	stop(t, s1)

	second := &fakeChannel{name: transport.ChannelEmail}
	s2 := startService(t, cfg, nil, st, second)
	_ = s2.Dispatch(context.Background(), msg("persisted"))
	stop(t, s2)

	if len(first.messages()) != 1 || len(second.messages()) != 0 {
		t.Fatalf("first=%d second=%d, want 1 and 0", len(first.messages()), len(second.messages()))
	}
}

func TestDispatchRetries(t *testing.T) {
	email := &fakeChannel{name: transport.ChannelEmail, fails: 2}
	s := startService(t, testConfig(), nil, nil, email)
	_ = s.Dispatch(context.Background(), msg("flaky"))
	stop(t, s)

	if email.calls != 3 || len(email.messages()) != 1 {
		t.Fatalf("calls=%d delivered=%d", email.calls, len(email.messages()))
	}
}

func TestDispatchGivesUp(t *testing.T) {
	email := &fakeChannel{name: transport.ChannelEmail, fails: 10}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16, EventFailed)
	defer unsub()
	s := startService(t, testConfig(), bus, nil, email)
	_ = s.Dispatch(context.Background(), msg("down"))
	stop(t, s)

	if email.calls != 3 {
		t.Fatalf("calls = %d, want 3", email.calls)
	}
	select {
	case e := <-events:
		if ev := e.Data.(DeliveryEvent); !strings.Contains(ev.Error, "smtp 421") {
			t.Fatalf("event = %+v", ev)
		}
	default:
		t.Fatalf("no failure event")
	}
}

func TestDispatchErrors(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	off := New(cfg, logx.Nop(), nil, nil, &fakeChannel{name: transport.ChannelEmail})
	if err := off.Dispatch(context.Background(), msg("x")); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled: err = %v", err)
	}

	notStarted := New(testConfig(), logx.Nop(), nil, nil, &fakeChannel{name: transport.ChannelEmail})
	if err := notStarted.Dispatch(context.Background(), msg("x")); !errors.Is(err, ErrStopped) {
		t.Fatalf("not started: err = %v", err)
	}

	s := startService(t, testConfig(), nil, nil, &fakeChannel{name: transport.ChannelEmail})
	m := msg("x")
	m.Channel = "pager"
	if err := s.Dispatch(context.Background(), m); !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("unknown channel: err = %v", err)
	}
}

func TestDispatchQueueFull(t *testing.T) {
	block := make(chan struct{})
	email := &fakeChannel{name: transport.ChannelEmail, block: block}
	cfg := testConfig()
	cfg.Workers, cfg.QueueSize, cfg.DedupWindow = 1, 1, 0
	s := startService(t, cfg, nil, nil, email)

	var full bool
	for i := 0; i < 5; i++ {
		if err := s.Dispatch(context.Background(), msg("m")); errors.Is(err, ErrQueueFull) {
			full = true
			break
		}
	}
	close(block)
	if !full {
		t.Fatalf("expected ErrQueueFull with a blocked worker")
	}
}

func TestDispatchMirrorsEmail(t *testing.T) {
	email := &fakeChannel{name: transport.ChannelEmail}
	tg := &fakeChannel{name: transport.ChannelTelegram}
	cfg := testConfig()
	cfg.MirrorEmail = true
	s := startService(t, cfg, nil, nil, email, tg)

	m := msg("[IX-F] AS20")
	m.Priority = 9
	_ = s.Dispatch(context.Background(), m)
	stop(t, s)

	got := tg.messages()
	if len(got) != 1 {
		t.Fatalf("mirrored %d, want 1", len(got))
	}
	if got[0].Channel != transport.ChannelTelegram || len(got[0].To) != 0 {
		t.Fatalf("mirror = %+v", got[0])
	}
	if !strings.Contains(got[0].Subject, "[IX-F] AS20") || !strings.Contains(got[0].Subject, "noc@as20.example") {
		t.Fatalf("mirror subject = %q", got[0].Subject)
	}
}

func TestRetryDelayBounded(t *testing.T) {
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 10; attempt++ {
		d := retryDelay(cfg, attempt)
		if d <= 0 || d > time.Second {
			t.Fatalf("attempt %d: delay %v out of bounds", attempt, d)
		}
	}
}

func TestDedupKeyDistinguishesRecipients(t *testing.T) {
	a, b := msg("s"), msg("s")
	b.To = []string{"other@example.net"}
	if dedupKey(a) == dedupKey(b) {
		t.Fatalf("different recipients share a dedup key")
	}
}
