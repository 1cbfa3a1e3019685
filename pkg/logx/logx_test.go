package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, b []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(b)), "\n") {
		if line == "" {
			continue
		}
		m := map[string]any{}
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestWriterFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(Comp("notify"))
	log.Info("sent", ASN(63311), IXLan(0), Err(nil), Err(errors.New("boom")), String("subject", "hi"))
	log.Trace("hidden")

	lines := decodeLines(t, buf.Bytes())
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	got := lines[0]
	if got["comp"] != "notify" || got["asn"] != float64(63311) || got["err"] != "boom" || got["message"] != "sent" {
		t.Fatalf("unexpected event: %v", got)
	}
	if _, ok := got["ixlan"]; ok {
		t.Fatalf("zero ixlan logged: %v", got)
	}
	if c, _ := got["caller"].(string); !strings.HasPrefix(c, "logx_test.go:") {
		t.Fatalf("caller = %q, want this file", c)
	}
}

func TestZeroAndNop(t *testing.T) {
	var zero Logger
	if !zero.IsZero() || Nop().IsZero() {
		t.Fatal("IsZero mismatch")
	}
	zero.Info("discarded", Int("n", 1))
	Nop().Error("discarded")
}

func TestWithDoesNotAlias(t *testing.T) {
	var buf bytes.Buffer
	base := NewWriter(&buf, "info").With(String("a", "1"))
	x := base.With(String("b", "x"))
	y := base.With(String("b", "y"))
	x.Info("x")
	y.Info("y")

	lines := decodeLines(t, buf.Bytes())
	if lines[0]["b"] != "x" || lines[1]["b"] != "y" {
		t.Fatalf("fields leaked between loggers: %v", lines)
	}
}

func TestServiceApplyFollowsLoggers(t *testing.T) {
	var console bytes.Buffer
	stdout = &console
	t.Cleanup(func() { stdout = os.Stdout })

	path := filepath.Join(t.TempDir(), "app.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	t.Cleanup(func() { _ = svc.Close() })

	log.Debug("not yet")
	log.Info("to file")
	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	log.Debug("now visible")

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := decodeLines(t, b)
	if len(lines) != 2 || lines[0]["message"] != "to file" || lines[1]["message"] != "now visible" {
		t.Fatalf("file log = %v", lines)
	}
	if console.Len() != 0 {
		t.Fatalf("console written while only the file sink is enabled: %q", console.String())
	}
	if !log.Enabled(LevelDebug) {
		t.Fatal("debug should be enabled after Apply")
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{
		"":        LevelInfo,
		"DEBUG":   LevelDebug,
		" warn ":  LevelWarn,
		"warning": LevelWarn,
		"bogus":   LevelInfo,
	} {
		if got := parseLevel(in, LevelInfo); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
