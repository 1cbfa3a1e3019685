package proposal

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"ixfnotify/internal/ixf"
	"ixfnotify/internal/render"
)

func member(asn, ix int64, action ixf.Action) *ixf.Instance {
	return &ixf.Instance{
		ASN:         asn,
		NetName:     "Net" + string(rune('A'+asn%26)),
		IXID:        ix,
		IXName:      "IX" + string(rune('A'+ix%26)),
		Action:      action,
		IPAddr4:     "192.0.2.1",
		NetContacts: []string{"noc@net.example"},
		IXContacts:  []string{"ops@ix.example"},
		RemoteChanges: ixf.NewChangeSet(ixf.Entry{
			Name: "speed", Change: ixf.Change{From: "1000", To: "10000"},
		}),
	}
}

func TestConsolidateGroupsPerEntity(t *testing.T) {
	t.Parallel()
	var q Queue
	q.Add(Notification{Instance: member(1, 10, ixf.ActionModify), Type: ixf.TypeModify, Net: true, IX: true})
	q.Add(Notification{Instance: member(1, 11, ixf.ActionAdd), Type: ixf.TypeAdd, Net: true, IX: true})
	q.Add(Notification{Instance: member(2, 10, ixf.ActionDelete), Type: ixf.TypeRemove, Net: true, IX: true})
	q.Add(Notification{Instance: member(1, 10, ixf.ActionAdd), Type: ixf.TypeAdd, Net: true, IX: false})

	res, err := Consolidate(q.Drain(), render.MustNew())
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if q.Len() != 0 {
		t.Fatalf("queue not drained")
	}

	var nets []int64
	for _, d := range res.Net.All() {
		nets = append(nets, d.Key)
	}
	if diff := cmp.Diff([]int64{1, 2}, nets); diff != "" {
		t.Fatalf("net order (-want +got):\n%s", diff)
	}
	as1, _ := res.Net.Get(1)
	if as1.Count != 3 {
		t.Fatalf("AS1 count = %d, want 3", as1.Count)
	}
	props := as1.Proposals()
	if len(props) != 2 || props[0].Name != "IXK" || props[1].Name != "IXL" {
		t.Fatalf("AS1 proposals = %+v", props)
	}
	if len(props[0].Modify) != 1 || len(props[0].Add) != 1 {
		t.Fatalf("IX 10 buckets: add=%d modify=%d", len(props[0].Add), len(props[0].Modify))
	}
	if !strings.Contains(props[0].Modify[0], "Please review the proposed changes for your network") {
		t.Fatalf("net message rendered for wrong role:\n%s", props[0].Modify[0])
	}

	ix10, _ := res.IX.Get(10)
	if ix10.Count != 2 {
		t.Fatalf("IX10 count = %d, want 2 (one message was net-only)", ix10.Count)
	}
	ixProps := ix10.Proposals()
	if len(ixProps) != 2 || len(ixProps[1].Delete) != 1 {
		t.Fatalf("IX10 proposals = %+v", ixProps)
	}
	if len(res.NeedsTicket) != 0 {
		t.Fatalf("unexpected tickets: %d", len(res.NeedsTicket))
	}
}

func TestConsolidateSkipsResolvedAndRequirements(t *testing.T) {
	t.Parallel()
	req := member(3, 10, ixf.ActionDelete)
	req.RequirementOf = 99
	res, err := Consolidate([]Notification{
		{Instance: member(3, 10, ixf.ActionModify), Type: ixf.TypeResolved, Net: true, IX: true},
		{Instance: req, Type: ixf.TypeRemove, Net: true, IX: true},
	}, render.MustNew())
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if res.Net.Len() != 0 || res.IX.Len() != 0 {
		t.Fatalf("expected nothing consolidated, got %d nets %d ixs", res.Net.Len(), res.IX.Len())
	}
}

func TestConsolidateProtocolConflictDoesNotCount(t *testing.T) {
	t.Parallel()
	res, err := Consolidate([]Notification{
		{Instance: member(4, 12, ixf.ActionAdd), Type: ixf.TypeProtocolConflict, Net: true, IX: true},
		{Instance: member(4, 12, ixf.ActionAdd), Type: ixf.TypeProtocolConflict, Net: true, IX: true},
	}, render.MustNew())
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	d, ok := res.Net.Get(4)
	if !ok {
		t.Fatalf("missing digest for AS4")
	}
	if d.Count != 0 {
		t.Fatalf("count = %d, want 0", d.Count)
	}
	p := d.Proposals()[0]
	if p.ProtocolConflict == "" || len(p.Add) != 0 {
		t.Fatalf("protocol conflict slot = %q add=%d", p.ProtocolConflict, len(p.Add))
	}
}

func TestConsolidateMissingContactsNeedsTicket(t *testing.T) {
	t.Parallel()
	in := member(5, 13, ixf.ActionAdd)
	in.IXContacts = nil
	res, err := Consolidate([]Notification{{Instance: in, Type: ixf.TypeAdd, Net: true, IX: true}}, render.MustNew())
	if err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if len(res.NeedsTicket) != 1 || res.NeedsTicket[0].Instance != in {
		t.Fatalf("NeedsTicket = %+v", res.NeedsTicket)
	}
	if d, _ := res.Net.Get(5); d.Count != 1 {
		t.Fatalf("network digest should still be built")
	}
}

type failingRenderer struct{}

func (failingRenderer) RenderTemplate(name string, rc ixf.RenderContext) (string, error) {
	return "", errors.New("boom")
}

func TestConsolidateCollectsRenderErrors(t *testing.T) {
	t.Parallel()
	_, err := Consolidate([]Notification{
		{Instance: member(6, 14, ixf.ActionAdd), Type: ixf.TypeAdd, Net: true, IX: true},
	}, failingRenderer{})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err = %v, want joined render errors", err)
	}
}

func TestQueueAddDefaultsAction(t *testing.T) {
	t.Parallel()
	var q Queue
	q.Add(Notification{Instance: member(7, 15, ixf.ActionDelete), Type: ixf.TypeRemove})
	if got := q.Drain()[0].Action; got != ixf.ActionDelete {
		t.Fatalf("Action = %q, want delete", got)
	}
}
