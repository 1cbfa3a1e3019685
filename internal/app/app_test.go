package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ixfnotify/internal/config"
)

const batch = `
notifications:
  - type: modify
    action: modify
    ix: true
    net: true
    instance:
      asn: 20
      net_name: 20C
      ix_id: 1
      ix_name: Example IX
      ixlan_id: 10
      ipaddr4: 195.69.144.1
      net_contacts: [noc@20c.example]
      ix_contacts: [ops@ix.example]
      remote_changes:
        speed: {from: "1000", to: "10000"}
`

func writeConfig(t *testing.T, dir, extra string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	body := `
logging:
  level: error
ixf:
  save: true
  subject_prefix: "[test] "
  notify_ix: true
  notify_net: true
  tickets: true
  ticket_days: 7
storage:
  driver: sqlite
  path: ` + filepath.Join(dir, "ixf.db") + `
dispatch:
  enabled: true
  workers: 1
  queue_size: 16
  rate_per_sec: 100
  retry_max: 0
  retry_base: 10ms
  retry_max_delay: 10ms
  dedup_window: 0s
  dedup_max_entries: 0
` + extra
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunBatch(t *testing.T) {
	dir := t.TempDir()
	a, err := New(writeConfig(t, dir, ""))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	in := filepath.Join(dir, "batch.yaml")
	if err := os.WriteFile(in, []byte(batch), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := a.RunBatch(context.Background(), in); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}

	emails, err := a.Store().Emails(context.Background(), 10)
	if err != nil {
		t.Fatalf("Emails: %v", err)
	}
	if len(emails) != 2 {
		t.Fatalf("logged %d emails, want 2", len(emails))
	}
	for _, e := range emails {
		if !strings.HasPrefix(e.Subject, "[test] [IX-F] ") {
			t.Fatalf("subject = %q", e.Subject)
		}
		if e.Sent.IsZero() {
			t.Fatalf("email %d not marked sent", e.ID)
		}
	}
	if got := len(a.Dispatch().Snapshot()); got != 2 {
		t.Fatalf("dispatch history = %d, want 2", got)
	}
}

func TestNewRejectsInvalidJobSpec(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "schedule:\n  enabled: true\n  ticket_aged: whenever\n")
	if _, err := New(path); err == nil || !strings.Contains(err.Error(), "schedule.ticket_aged") {
		t.Fatalf("New = %v, want schedule.ticket_aged error", err)
	}
}

func TestStartAndStop(t *testing.T) {
	dir := t.TempDir()
	spool := filepath.Join(dir, "spool")
	if err := os.MkdirAll(spool, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(spool, "run.yaml"), []byte(batch), 0o644); err != nil {
		t.Fatal(err)
	}
	extra := "schedule:\n  enabled: true\n  timezone: UTC\n  spool: 50ms\n"
	cfgPath := writeConfig(t, dir, extra)
	cfgBody, _ := os.ReadFile(cfgPath)
	cfgBody = []byte(strings.Replace(string(cfgBody), "ticket_days: 7", "ticket_days: 7\n  spool_dir: "+spool, 1))
	if err := os.WriteFile(cfgPath, cfgBody, 0o644); err != nil {
		t.Fatal(err)
	}

	a, err := New(cfgPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(filepath.Join(spool, "done", "run.yaml")); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("spool file was not processed")
		}
		time.Sleep(50 * time.Millisecond)
	}

	jobs := a.Schedule().Snapshot().Jobs
	if len(jobs) != 2 || jobs[0].Name != JobTicketAged || jobs[0].Spec != "@daily" {
		t.Fatalf("jobs = %+v", jobs)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Stop(ctx, StopDone); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestMappingDefaults(t *testing.T) {
	cfg := &config.Config{}
	d, err := mapDispatch(cfg)
	if err != nil {
		t.Fatalf("mapDispatch: %v", err)
	}
	if !d.Enabled || d.RetryBase != 500*time.Millisecond || d.DedupWindow != time.Minute {
		t.Fatalf("dispatch = %+v", d)
	}
	n, err := mapNotify(cfg)
	if err != nil {
		t.Fatalf("mapNotify: %v", err)
	}
	if n.ErrorNotificationPeriod != 24*time.Hour {
		t.Fatalf("error period = %v", n.ErrorNotificationPeriod)
	}
	aged, spool, err := jobSpecs(cfg)
	if err != nil || aged != "@daily" || spool != "@every 1m0s" {
		t.Fatalf("jobSpecs = %q, %q, %v", aged, spool, err)
	}
	if _, on, err := mapStorage(cfg); on || err != nil {
		t.Fatalf("mapStorage = %v, %v", on, err)
	}
	if e := mapEmail(cfg); e.Port != 25 || e.Host != "" {
		t.Fatalf("email = %+v", e)
	}
}
