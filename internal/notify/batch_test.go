package notify

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"ixfnotify/internal/ixf"
	"ixfnotify/internal/ticket"
	logx "ixfnotify/pkg/logx"
)

const batchYAML = `
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
      ixf_url: https://ix.example/ixf.json
      net_contacts: [noc@20c.example]
      ix_contacts: [ops@ix.example]
      remote_changes:
        speed: {from: "1000", to: "10000"}
        is_rs_peer: {from: "False", to: "True"}
errors:
  - ixlan: {id: 11, ix_id: 2, ix_name: Other IX, contacts: [noc@other.example]}
    error: "member_list: expected array"
`

func TestParseBatch(t *testing.T) {
	b, err := ParseBatch([]byte(batchYAML))
	if err != nil {
		t.Fatalf("ParseBatch: %v", err)
	}
	if len(b.Notifications) != 1 || len(b.Errors) != 1 {
		t.Fatalf("batch = %+v", b)
	}
	in := b.Notifications[0].Instance
	if diff := cmp.Diff([]string{"speed", "is_rs_peer"}, in.RemoteChanges.Names()); diff != "" {
		t.Fatalf("change order (-want +got):\n%s", diff)
	}
	if b.Notifications[0].Type != ixf.TypeModify || in.ASN != 20 {
		t.Fatalf("notification = %+v", b.Notifications[0])
	}
	if b.Errors[0].IXLan.IXName != "Other IX" {
		t.Fatalf("error = %+v", b.Errors[0])
	}
}

func TestParseBatchRejects(t *testing.T) {
	for name, in := range map[string]string{
		"unknown field": "notifications:\n  - type: add\n    colour: red\n",
		"missing type":  "notifications:\n  - ix: true\n",
	} {
		if _, err := ParseBatch([]byte(in)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if b, err := ParseBatch(nil); err != nil || len(b.Notifications) != 0 {
		t.Fatalf("empty batch: %+v %v", b, err)
	}
}

func TestProcessBatch(t *testing.T) {
	f := newFixture(t, baseConfig(), ticket.NewMockClient(logx.Nop()))
	path := filepath.Join(t.TempDir(), "run.yaml")
	if err := os.WriteFile(path, []byte(batchYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	b, err := LoadBatch(path)
	if err != nil {
		t.Fatalf("LoadBatch: %v", err)
	}
	if err := f.svc.Process(context.Background(), b); err != nil {
		t.Fatalf("Process: %v", err)
	}

	subjects := f.disp.subjects()
	if len(subjects) != 3 {
		t.Fatalf("subjects = %v, want exchange digest, network digest and source error", subjects)
	}
	if subjects[2] != "[PDB] [IX-F] Could not process IX-F Data" {
		t.Fatalf("last subject = %q", subjects[2])
	}
	if body := f.disp.msgs[1].HTML; !containsAll(body, "- speed: 1000 to 10000", "- is_rs_peer: False to True") {
		t.Fatalf("network digest body:\n%s", body)
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
