package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"ixfnotify/internal/ixf"
	logx "ixfnotify/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "ixf.db"), BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "sqlite"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for empty sqlite path")
	}
}

func TestEmails(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	e := &Email{Subject: "[IX-F] AS20", Message: "body", Recipients: []string{"a@example.net", "b@example.net"}, NetASN: 20}
	if err := st.InsertEmail(ctx, e); err != nil {
		t.Fatalf("InsertEmail: %v", err)
	}
	if e.ID == 0 {
		t.Fatalf("expected id to be assigned")
	}
	sent := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := st.MarkEmailSent(ctx, e.ID, sent); err != nil {
		t.Fatalf("MarkEmailSent: %v", err)
	}

	got, err := st.Emails(ctx, 10)
	if err != nil {
		t.Fatalf("Emails: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if diff := cmp.Diff([]string{"a@example.net", "b@example.net"}, got[0].Recipients); diff != "" {
		t.Fatalf("recipients (-want +got):\n%s", diff)
	}
	if !got[0].Sent.Equal(sent) || got[0].NetASN != 20 || got[0].IXID != 0 {
		t.Fatalf("email = %+v", got[0])
	}
}

func TestTicketBySubject(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	if _, ok, err := st.TicketBySubject(ctx, "x"); err != nil || ok {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}

	unpublished := &Ticket{Subject: "[IX-F] AS20", Body: "one"}
	if err := st.InsertTicket(ctx, unpublished); err != nil {
		t.Fatalf("InsertTicket: %v", err)
	}
	if _, ok, _ := st.TicketBySubject(ctx, "[IX-F] AS20"); ok {
		t.Fatalf("ticket without remote id must not match")
	}

	unpublished.RemoteID, unpublished.RemoteRef = 7, "T-7"
	unpublished.Published = time.Now()
	if err := st.UpdateTicket(ctx, unpublished); err != nil {
		t.Fatalf("UpdateTicket: %v", err)
	}
	got, ok, err := st.TicketBySubject(ctx, "[IX-F] AS20")
	if err != nil || !ok {
		t.Fatalf("TicketBySubject: ok=%v err=%v", ok, err)
	}
	if got.RemoteID != 7 || got.RemoteRef != "T-7" || got.Body != "one" {
		t.Fatalf("ticket = %+v", got)
	}
}

func TestProposalsAging(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	old := time.Now().Add(-30 * 24 * time.Hour)
	a := &ixf.Instance{ASN: 1, IXLanID: 1, IPAddr4: "192.0.2.1", Action: ixf.ActionAdd, Created: old,
		RemoteChanges: ixf.NewChangeSet(
			ixf.Entry{Name: "speed", Change: ixf.Change{From: "1000", To: "10000"}},
			ixf.Entry{Name: "is_rs_peer", Change: ixf.Change{From: "False", To: "True"}},
		)}
	b := &ixf.Instance{ASN: 2, IXLanID: 1, IPAddr4: "192.0.2.2", Action: ixf.ActionDelete}
	req := &ixf.Instance{ASN: 3, IXLanID: 1, IPAddr4: "192.0.2.3", Action: ixf.ActionDelete, RequirementOf: 9, Created: old}
	for _, in := range []*ixf.Instance{a, b, req} {
		if err := st.UpsertProposal(ctx, in); err != nil {
			t.Fatalf("UpsertProposal: %v", err)
		}
	}

	// Re-upserting keeps the first creation time.
	again := *a
	again.Created = time.Now()
	if err := st.UpsertProposal(ctx, &again); err != nil {
		t.Fatalf("UpsertProposal: %v", err)
	}

	aged, err := st.AgedProposals(ctx, time.Now().Add(-14*24*time.Hour))
	if err != nil {
		t.Fatalf("AgedProposals: %v", err)
	}
	if len(aged) != 1 || aged[0].Key() != a.Key() {
		t.Fatalf("aged = %v", aged)
	}
	if diff := cmp.Diff([]string{"speed", "is_rs_peer"}, aged[0].RemoteChanges.Names()); diff != "" {
		t.Fatalf("change order lost (-want +got):\n%s", diff)
	}

	all, err := st.AgedProposals(ctx, time.Time{})
	if err != nil || len(all) != 2 {
		t.Fatalf("all proposals = %d, %v; want 2", len(all), err)
	}

	if err := st.SetProposalTicket(ctx, a.Key(), 11, "T-11"); err != nil {
		t.Fatalf("SetProposalTicket: %v", err)
	}
	if err := st.DeleteProposal(ctx, b.Key()); err != nil {
		t.Fatalf("DeleteProposal: %v", err)
	}
	left, err := st.AgedProposals(ctx, time.Time{})
	if err != nil || len(left) != 0 {
		t.Fatalf("left = %d, %v; want 0", len(left), err)
	}
}

func TestIXLanErrors(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	if _, ok, err := st.IXLanError(ctx, 5); err != nil || ok {
		t.Fatalf("missing: ok=%v err=%v", ok, err)
	}
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	if err := st.SetIXLanError(ctx, IXLanError{IXLanID: 5, Notified: at, Error: "bad json"}); err != nil {
		t.Fatalf("SetIXLanError: %v", err)
	}
	if err := st.SetIXLanError(ctx, IXLanError{IXLanID: 5, Notified: at.Add(time.Hour), Error: "timeout"}); err != nil {
		t.Fatalf("SetIXLanError: %v", err)
	}
	got, ok, err := st.IXLanError(ctx, 5)
	if err != nil || !ok {
		t.Fatalf("IXLanError: ok=%v err=%v", ok, err)
	}
	if got.Error != "timeout" || !got.Notified.Equal(at.Add(time.Hour)) {
		t.Fatalf("got %+v", got)
	}
}

func TestDedup(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	until := time.Now().Add(time.Minute).Truncate(time.Millisecond)
	if err := st.PutDedup(ctx, "k", until); err != nil {
		t.Fatalf("PutDedup: %v", err)
	}
	got, ok, err := st.GetDedup(ctx, "k")
	if err != nil || !ok || !got.Equal(until) {
		t.Fatalf("GetDedup = %v, %v, %v", got, ok, err)
	}
	if _, ok, _ := st.GetDedup(ctx, ""); ok {
		t.Fatalf("empty key should never match")
	}
}
