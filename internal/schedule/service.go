package schedule

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"ixfnotify/internal/eventbus"
	logx "ixfnotify/pkg/logx"
)

const (
	EventRun     = "schedule.run"
	EventFailed  = "schedule.failed"
	EventSkipped = "schedule.skipped"
)

type Config struct {
	Enabled    bool
	Timezone   string // IANA name, empty for local time
	JobTimeout time.Duration
}

// Job is a named periodic function.
type Job struct {
	Name    string
	Spec    string
	Timeout time.Duration // zero uses Config.JobTimeout
	Run     func(ctx context.Context) error
}

// RunEvent is the Data of schedule.* bus events.
type RunEvent struct {
	Job   string
	Took  time.Duration
	Error string
}

type JobInfo struct {
	Name     string
	Spec     string
	Next     time.Time
	Prev     time.Time
	Runs     uint64
	Failures uint64
	Skipped  uint64
	LastErr  string
	LastTook time.Duration
}

type Snapshot struct {
	Enabled  bool
	Timezone string
	Jobs     []JobInfo
}

type jobDef struct {
	Job
	entryID cron.EntryID

	running  atomic.Bool
	runs     atomic.Uint64
	failures atomic.Uint64
	skipped  atomic.Uint64

	mu       sync.Mutex
	lastErr  string
	lastTook time.Duration
}

type Service struct {
	mu   sync.Mutex
	log  logx.Logger
	bus  eventbus.Bus
	cfg  Config
	loc  *time.Location
	c    *cron.Cron
	base context.Context
	stop context.CancelFunc
	defs []*jobDef
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log, bus: bus}
}

// Add registers a job. Jobs added after Start are scheduled immediately.
func (s *Service) Add(j Job) error {
	name := strings.TrimSpace(j.Name)
	if name == "" || j.Run == nil {
		return fmt.Errorf("schedule: job needs a name and a function")
	}
	spec, err := Normalize(j.Spec)
	if err != nil {
		return fmt.Errorf("schedule: job %s: %w", name, err)
	}
	j.Name, j.Spec = name, spec

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.defs {
		if d.Name == name {
			return fmt.Errorf("schedule: job %s already registered", name)
		}
	}
	d := &jobDef{Job: j}
	s.defs = append(s.defs, d)
	if s.c != nil {
		return s.addCronLocked(d)
	}
	return nil
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config. A timezone change reschedules every job; toggling
// Enabled starts or stops triggering.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	running := s.c != nil
	base := s.base
	s.mu.Unlock()

	switch {
	case running && !cfg.Enabled:
		s.Stop(context.Background())
	case !running && cfg.Enabled && base != nil:
		s.Start(base)
	case running && strings.TrimSpace(old.Timezone) != strings.TrimSpace(cfg.Timezone):
		s.mu.Lock()
		s.restartLocked()
		s.mu.Unlock()
	}
}

// Start begins triggering. Job contexts derive from ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.base == nil || s.base.Err() != nil {
		s.base, s.stop = context.WithCancel(ctx)
	}
	if s.c != nil || !s.cfg.Enabled {
		s.log.Debug("start skipped", logx.Bool("enabled", s.cfg.Enabled), logx.Bool("running", s.c != nil))
		return
	}
	s.startLocked()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.defs)))
}

func (s *Service) startLocked() {
	s.loc = s.loadLocationLocked()
	s.c = cron.New(
		cron.WithParser(parser),
		cron.WithLocation(s.loc),
		cron.WithLogger(cronLogger{log: s.log}),
		cron.WithChain(cron.Recover(cronLogger{log: s.log})),
	)
	for _, d := range s.defs {
		_ = s.addCronLocked(d)
	}
	s.c.Start()
}

func (s *Service) restartLocked() {
	if s.c != nil {
		s.c.Stop()
	}
	s.startLocked()
	s.log.Info("rescheduled", logx.String("tz", s.loc.String()))
}

func (s *Service) addCronLocked(d *jobDef) error {
	id, err := s.c.AddFunc(d.Spec, func() { s.trigger(d) })
	if err != nil {
		s.log.Warn("job not scheduled", logx.String("job", d.Name), logx.String("spec", d.Spec), logx.Err(err))
		return fmt.Errorf("schedule: job %s: %w", d.Name, err)
	}
	d.entryID = id
	return nil
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Stop halts triggering and waits for running jobs until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, d := range s.defs {
		d.entryID = 0
	}
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("stop timed out waiting for jobs")
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// Close stops triggering and cancels the context of running jobs.
func (s *Service) Close(ctx context.Context) {
	s.Stop(ctx)
	s.mu.Lock()
	if s.stop != nil {
		s.stop()
	}
	s.mu.Unlock()
}

// RunNow runs a job synchronously, outside its schedule. It fails when the
// job is already running.
func (s *Service) RunNow(ctx context.Context, name string) error {
	d := s.find(name)
	if d == nil {
		return fmt.Errorf("schedule: unknown job %s", name)
	}
	if !d.running.CompareAndSwap(false, true) {
		return fmt.Errorf("schedule: job %s is already running", name)
	}
	defer d.running.Store(false)
	return s.execute(ctx, d)
}

// Reschedule changes the spec of a registered job.
func (s *Service) Reschedule(name, spec string) error {
	spec, err := Normalize(spec)
	if err != nil {
		return fmt.Errorf("schedule: job %s: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.findLocked(name)
	if d == nil {
		return fmt.Errorf("schedule: unknown job %s", name)
	}
	if d.Spec == spec {
		return nil
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
		d.entryID = 0
	}
	d.Spec = spec
	s.log.Info("job rescheduled", logx.String("job", name), logx.String("spec", spec))
	if s.c != nil {
		return s.addCronLocked(d)
	}
	return nil
}

func (s *Service) find(name string) *jobDef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(name)
}

func (s *Service) findLocked(name string) *jobDef {
	for _, d := range s.defs {
		if d.Name == name {
			return d
		}
	}
	return nil
}

func (s *Service) trigger(d *jobDef) {
	if !d.running.CompareAndSwap(false, true) {
		d.skipped.Add(1)
		s.log.Info("job still running, trigger skipped", logx.String("job", d.Name))
		s.publish(EventSkipped, RunEvent{Job: d.Name})
		return
	}
	defer d.running.Store(false)

	s.mu.Lock()
	base := s.base
	s.mu.Unlock()
	if base == nil {
		base = context.Background()
	}
	_ = s.execute(base, d)
}

func (s *Service) execute(ctx context.Context, d *jobDef) error {
	s.mu.Lock()
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = s.cfg.JobTimeout
	}
	s.mu.Unlock()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	err := d.Run(ctx)
	took := time.Since(start)

	d.runs.Add(1)
	d.mu.Lock()
	d.lastTook = took
	d.lastErr = ""
	if err != nil {
		d.lastErr = err.Error()
	}
	d.mu.Unlock()

	ev := RunEvent{Job: d.Name, Took: took}
	if err != nil {
		d.failures.Add(1)
		ev.Error = err.Error()
		s.log.Warn("job failed", logx.String("job", d.Name), logx.Duration("took", took), logx.Err(err))
		s.publish(EventFailed, ev)
		return err
	}
	s.log.Debug("job done", logx.String("job", d.Name), logx.Duration("took", took))
	s.publish(EventRun, ev)
	return nil
}

func (s *Service) publish(typ string, ev RunEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	tz := strings.TrimSpace(s.cfg.Timezone)
	if s.loc != nil {
		tz = s.loc.String()
	}
	out := Snapshot{Enabled: s.cfg.Enabled, Timezone: tz, Jobs: make([]JobInfo, 0, len(s.defs))}
	for _, d := range s.defs {
		it := JobInfo{
			Name:     d.Name,
			Spec:     d.Spec,
			Runs:     d.runs.Load(),
			Failures: d.failures.Load(),
			Skipped:  d.skipped.Load(),
		}
		d.mu.Lock()
		it.LastErr, it.LastTook = d.lastErr, d.lastTook
		d.mu.Unlock()
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		out.Jobs = append(out.Jobs, it)
	}
	return out
}
