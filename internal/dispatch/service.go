// Package dispatch delivers transport messages asynchronously: a bounded
// queue drained by a worker pool, with a token-bucket rate limit, retry with
// backoff, and a content dedup window.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"ixfnotify/internal/eventbus"
	rtsup "ixfnotify/internal/runtime/supervisor"
	"ixfnotify/internal/storage"
	"ixfnotify/internal/transport"
	logx "ixfnotify/pkg/logx"
)

var (
	ErrDisabled       = errors.New("dispatch disabled")
	ErrQueueFull      = errors.New("dispatch queue full")
	ErrStopped        = errors.New("dispatch stopped")
	ErrUnknownChannel = errors.New("dispatch: unknown channel")
)

type job struct {
	msg transport.Message
	key string
}

type dedupWrite struct {
	key   string
	until time.Time
}

// Service is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log      logx.Logger
	bus      eventbus.Bus
	store    storage.Store
	channels map[string]transport.Channel
	onSent   []func(transport.Message)

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup
	queue     chan job
	persistCh chan dedupWrite
	sup       *rtsup.Supervisor
	stopDone  chan struct{}

	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem
}

// New creates the service. bus and store may be nil.
func New(cfg Config, log logx.Logger, bus eventbus.Bus, store storage.Store, channels ...transport.Channel) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:      log,
		bus:      bus,
		store:    store,
		channels: map[string]transport.Channel{},
		dedup:    map[string]time.Time{},
	}
	for _, ch := range channels {
		if ch != nil {
			s.channels[ch.Name()] = ch
		}
	}
	s.applyLocked(cfg)
	return s
}

// Register adds or replaces the channel for ch.Name().
func (s *Service) Register(ch transport.Channel) {
	if ch == nil {
		return
	}
	s.mu.Lock()
	s.channels[ch.Name()] = ch
	s.mu.Unlock()
}

// OnSent registers fn to be called after each successful delivery.
func (s *Service) OnSent(fn func(transport.Message)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.onSent = append(s.onSent, fn)
	s.mu.Unlock()
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps limits and retry policy. Worker count and queue size take
// effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 512
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Supervisor returns the worker supervisor, nil when not running.
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Start launches the workers. It is idempotent and a no-op when disabled.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if done := s.stopDone; done != nil {
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	if s.cfg.PersistDedup && s.store != nil {
		s.persistCh = make(chan dedupWrite, 1024)
	}
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log.With(logx.Comp("dispatch"))))
	sup, q, pch, workers := s.sup, s.queue, s.persistCh, s.cfg.Workers
	s.mu.Unlock()

	if pch != nil {
		sup.GoRestart("dedup.persist", func(c context.Context) error {
			return s.unexpectedExit(c, s.persistLoop(c, pch))
		}, rtsup.WithPublishFirstError(true))
	}
	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			return s.unexpectedExit(c, s.workerLoop(c, q))
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Info("dispatch started", logx.Int("workers", workers))
}

// unexpectedExit turns a loop return into the supervisor's restart signal.
// Loops end cleanly when their channel is closed during Stop.
func (s *Service) unexpectedExit(ctx context.Context, closed bool) error {
	if closed || ctx.Err() != nil {
		return nil
	}
	return errors.New("loop exited unexpectedly")
}

// Stop stops intake and drains queued messages until ctx is done, then
// cancels in-flight sends.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q, pch, sup := s.queue, s.persistCh, s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if done := s.stopDone; done != nil {
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.sendWG.Wait()
		close(q)
		if pch != nil {
			close(pch)
		}
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.queue, s.persistCh, s.sup, s.stopDone = nil, nil, nil, nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
		<-done
	}
	s.log.Info("dispatch stopped")
}

// Dispatch enqueues m for delivery. A message identical to one accepted
// within the dedup window is dropped silently.
func (s *Service) Dispatch(ctx context.Context, m transport.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	if _, ok := s.channels[m.Channel]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownChannel, m.Channel)
	}
	q, cfg, pch := s.queue, s.cfg, s.persistCh
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	key := dedupKey(m)
	if cfg.DedupWindow > 0 && !s.dedupAllow(ctx, key, cfg, pch) {
		s.publish(EventDeduped, m, key, nil)
		return nil
	}

	select {
	case q <- job{msg: m, key: key}:
		s.publish(EventQueued, m, key, nil)
		return nil
	default:
		s.publish(EventDropped, m, key, ErrQueueFull)
		return ErrQueueFull
	}
}

// Snapshot returns recent deliveries, oldest first.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(m transport.Message) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Channel: m.Channel, Subject: m.Subject, Ref: m.Ref})
	if len(s.history) > historyLimit {
		s.history = s.history[len(s.history)-historyLimit:]
	}
	s.hmu.Unlock()
}

func (s *Service) publish(typ string, m transport.Message, key string, err error) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	ev := DeliveryEvent{Channel: m.Channel, To: m.To, Subject: m.Subject, Ref: m.Ref, Key: key, At: now}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}

// persistLoop reports true when ch was closed.
func (s *Service) persistLoop(ctx context.Context, ch <-chan dedupWrite) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case w, ok := <-ch:
			if !ok {
				return true
			}
			cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
			if err := s.store.PutDedup(cctx, w.key, w.until); err != nil {
				s.log.Debug("dedup persist failed", logx.Err(err))
			}
			cancel()
		}
	}
}

// workerLoop reports true when q was closed.
func (s *Service) workerLoop(ctx context.Context, q <-chan job) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case j, ok := <-q:
			if !ok {
				return true
			}
			s.deliver(ctx, j)
		}
	}
}

func (s *Service) deliver(ctx context.Context, j job) {
	s.mu.Lock()
	cfg, lim, log := s.cfg, s.limiter, s.log
	ch := s.channels[j.msg.Channel]
	mirror := s.channels[transport.ChannelTelegram]
	hooks := slices.Clone(s.onSent)
	s.mu.Unlock()

	if ch == nil {
		s.publish(EventFailed, j.msg, j.key, ErrUnknownChannel)
		return
	}
	if err := s.sendWithRetry(ctx, cfg, lim, log, ch, j.msg); err != nil {
		log.Warn("delivery failed", logx.String("channel", j.msg.Channel), logx.String("subject", j.msg.Subject), logx.Err(err))
		s.publish(EventFailed, j.msg, j.key, err)
		return
	}

	s.appendHistory(j.msg)
	s.publish(EventSent, j.msg, j.key, nil)
	for _, fn := range hooks {
		fn(j.msg)
	}

	if cfg.MirrorEmail && j.msg.Channel == transport.ChannelEmail && mirror != nil {
		cp := j.msg
		cp.Channel, cp.To = transport.ChannelTelegram, nil
		cp.Subject = prefixForPriority(cp.Priority) + cp.Subject + " → " + strings.Join(j.msg.To, ", ")
		if err := s.sendWithRetry(ctx, cfg, lim, log, mirror, cp); err != nil {
			log.Debug("mirror failed", logx.Err(err))
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, cfg Config, lim *rate.Limiter, log logx.Logger, ch transport.Channel, m transport.Message) error {
	attempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := ch.Send(callCtx, m)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, transport.ErrNoRecipients) {
			return err
		}
		log.Debug("send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", attempts))
		if attempt == attempts {
			break
		}

		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	return lastErr
}

func prefixForPriority(p int) string {
	switch {
	case p >= 9:
		return "🚨 "
	case p >= 7:
		return "⚠️ "
	default:
		return ""
	}
}

func dedupKey(m transport.Message) string {
	h := fnv.New64a()
	for _, part := range []string{m.Channel, strings.Join(m.To, ","), m.Subject, m.HTML} {
		_, _ = h.Write([]byte(part))
		_, _ = h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum64())
}

func (s *Service) dedupAllow(ctx context.Context, key string, cfg Config, pch chan dedupWrite) bool {
	now := time.Now()

	s.dmu.Lock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		s.dmu.Unlock()
		return false
	}
	s.dmu.Unlock()

	if cfg.PersistDedup && s.store != nil {
		cctx, cancel := context.WithTimeout(ctx, 25*time.Millisecond)
		until, ok, err := s.store.GetDedup(cctx, key)
		cancel()
		if err == nil && ok && now.Before(until) {
			s.dmu.Lock()
			s.dedup[key] = until
			s.dmu.Unlock()
			return false
		}
	}

	until := now.Add(cfg.DedupWindow)
	s.dmu.Lock()
	s.dedup[key] = until
	for k, u := range s.dedup {
		if !now.Before(u) {
			delete(s.dedup, k)
		}
	}
	for len(s.dedup) > cfg.DedupMaxEntries {
		var oldest string
		var oldestAt time.Time
		for k, u := range s.dedup {
			if oldest == "" || u.Before(oldestAt) {
				oldest, oldestAt = k, u
			}
		}
		delete(s.dedup, oldest)
	}
	s.dmu.Unlock()

	if pch != nil {
		select {
		case pch <- dedupWrite{key: key, until: until}:
		default:
		}
	}
	return true
}

// retryDelay is the wait before attempt+1: exponential from RetryBase,
// capped at RetryMaxDelay, with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(max(d, 0), cfg.RetryMaxDelay)
}
