package ixf

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	yaml "go.yaml.in/yaml/v3"
)

func TestChangeSetKeepsInsertionOrder(t *testing.T) {
	t.Parallel()
	var cs ChangeSet
	cs.Set("speed", "1000", "10000")
	cs.Set("is_rs_peer", "False", "True")
	cs.Set("operational", "True", "False")
	cs.Set("speed", "1000", "100000")

	if got, want := cs.Names(), []string{"speed", "is_rs_peer", "operational"}; !cmp.Equal(got, want) {
		t.Fatalf("Names() mismatch (-want +got):\n%s", cmp.Diff(want, got))
	}
	c, ok := cs.Get("speed")
	if !ok || c.To != "100000" {
		t.Fatalf("Get(speed) = %+v, %v; want replaced value", c, ok)
	}
	if cs.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", cs.Len())
	}
}

func TestChangeSetZeroValue(t *testing.T) {
	t.Parallel()
	var cs ChangeSet
	if cs.Len() != 0 || len(cs.Entries()) != 0 {
		t.Fatalf("zero ChangeSet should be empty")
	}
	if _, ok := cs.Get("x"); ok {
		t.Fatalf("Get on zero ChangeSet should miss")
	}
}

func TestChangeSetDecodeYAMLOrder(t *testing.T) {
	t.Parallel()
	doc := `
remote_changes:
  zeta: {from: 1, to: 2}
  alpha: {from: "a", to: "b"}
  mid:
    from: 100
    to:
`
	var in Instance
	if err := yaml.Unmarshal([]byte(doc), &in); err != nil {
		t.Fatalf("yaml.Unmarshal: %v", err)
	}
	want := []Entry{
		{Name: "zeta", Change: Change{From: "1", To: "2"}},
		{Name: "alpha", Change: Change{From: "a", To: "b"}},
		{Name: "mid", Change: Change{From: "100", To: ""}},
	}
	if diff := cmp.Diff(want, in.RemoteChanges.Entries()); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestChangeSetJSONRoundTripOrder(t *testing.T) {
	t.Parallel()
	raw := `{"speed":{"from":"1000","to":"10000"},"ipaddr6":{"from":"","to":"2001:db8::1"}}`
	var cs ChangeSet
	if err := json.Unmarshal([]byte(raw), &cs); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	if got := cs.Names(); !cmp.Equal(got, []string{"speed", "ipaddr6"}) {
		t.Fatalf("Names() = %v", got)
	}
	out, err := json.Marshal(cs)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	if string(out) != raw {
		t.Fatalf("json.Marshal = %s, want %s", out, raw)
	}
}

func TestChangeSetRejectsSequence(t *testing.T) {
	t.Parallel()
	var in Instance
	err := yaml.Unmarshal([]byte("remote_changes: [a, b]\n"), &in)
	if err == nil {
		t.Fatalf("expected error for sequence changes")
	}
}

func TestChangeSetCopiesAreIndependent(t *testing.T) {
	t.Parallel()
	a := NewChangeSet(Entry{Name: "speed", Change: Change{From: "1000", To: "10000"}})
	b := a
	b.Set("mtu", "1500", "9000")
	b.Set("speed", "1000", "100000")

	if _, ok := a.Get("mtu"); ok {
		t.Fatalf("Set on a copy added mtu to the original")
	}
	if c, _ := a.Get("speed"); c.To != "10000" {
		t.Fatalf("Set on a copy replaced speed in the original: %+v", c)
	}
	if a.Len() != 1 || b.Len() != 2 {
		t.Fatalf("Len() = %d, %d; want 1, 2", a.Len(), b.Len())
	}

	a.Set("is_rs_peer", "False", "True")
	if got, want := b.Names(), []string{"speed", "mtu"}; !cmp.Equal(got, want) {
		t.Fatalf("original Set leaked into copy (-want +got):\n%s", cmp.Diff(want, got))
	}
}
