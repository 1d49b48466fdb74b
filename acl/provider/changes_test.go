package provider

import (
	"context"
	"testing"

	"github.com/streamtune/acl"
	"github.com/streamtune/acl/permission"
	"github.com/streamtune/acl/sid"
)

func newTrackedAcl(t *testing.T, id int64) (*Provider, acl.MutableAcl) {
	t.Helper()
	identity := mustOid(t, "com.example.Document", "1")
	alice := mustUser(t)
	ace := acl.NewAce(1, true, alice, permission.Read, permission.Equal, true, false, false, "", false)
	a, err := acl.Hydrated(id, identity, true, nil, acl.NewStrategy(nil), acl.AllowAll(), []acl.Ace{ace}, nil, nil, nil)
	if err != nil {
		t.Fatalf("acl.Hydrated: %v", err)
	}
	p := &Provider{changes: make(map[acl.MutableAcl]*changeLog)}
	p.track(a)
	return p, a
}

func TestTrackIsIdempotent(t *testing.T) {
	p, a := newTrackedAcl(t, 1)
	first := p.changes[a]
	p.track(a)
	if p.changes[a] != first {
		t.Fatal("expected a second track() call on the same Acl to be a no-op")
	}
}

func TestAclLevelMutationIsRecorded(t *testing.T) {
	p, a := newTrackedAcl(t, 1)
	if err := a.SetEntriesInheriting(context.Background(), false); err != nil {
		t.Fatalf("SetEntriesInheriting: %v", err)
	}
	log := p.changes[a]
	if !log.dirty() {
		t.Fatal("expected the change log to be dirty after a mutation")
	}
	c, ok := log.props["entriesInheriting"]
	if !ok {
		t.Fatal("expected an entriesInheriting record")
	}
	if c.old != true || c.new != false {
		t.Fatalf("unexpected recorded values: %+v", c)
	}
}

func TestRevertingAPropertyDropsItsRecord(t *testing.T) {
	p, a := newTrackedAcl(t, 1)
	if err := a.SetEntriesInheriting(context.Background(), false); err != nil {
		t.Fatalf("SetEntriesInheriting: %v", err)
	}
	if err := a.SetEntriesInheriting(context.Background(), true); err != nil {
		t.Fatalf("SetEntriesInheriting: %v", err)
	}
	log := p.changes[a]
	if log.dirty() {
		t.Fatalf("expected reverting to the original value to drop the record, got %+v", log.props)
	}
}

func TestPersistedAceMutationIsRecorded(t *testing.T) {
	p, a := newTrackedAcl(t, 1)
	allStrategy := permission.All
	if err := a.UpdateAce(context.Background(), acl.Class, "", 0, permission.Write, &allStrategy); err != nil {
		t.Fatalf("UpdateAce: %v", err)
	}
	log := p.changes[a]
	if len(log.aces) != 1 {
		t.Fatalf("expected exactly one tracked ace, got %d", len(log.aces))
	}
	for ace, fields := range log.aces {
		if _, ok := fields["mask"]; !ok {
			t.Fatalf("expected a mask change recorded for %v: %+v", ace, fields)
		}
		if _, ok := fields["strategy"]; !ok {
			t.Fatalf("expected a strategy change recorded for %v: %+v", ace, fields)
		}
	}
}

func TestUnpersistedAceMutationIsIgnored(t *testing.T) {
	p, a := newTrackedAcl(t, 1)
	alice := mustUser(t)
	if err := a.InsertAce(context.Background(), acl.Class, "", 1, alice, permission.Write, permission.Equal, true); err != nil {
		t.Fatalf("InsertAce: %v", err)
	}
	allStrategy := permission.All
	if err := a.UpdateAce(context.Background(), acl.Class, "", 1, permission.Write, &allStrategy); err != nil {
		t.Fatalf("UpdateAce: %v", err)
	}
	log := p.changes[a]
	if len(log.aces) != 0 {
		t.Fatalf("expected no per-ace record for an unpersisted ace's own mutation, got %d", len(log.aces))
	}
	if _, ok := log.props["classAces"]; !ok {
		t.Fatal("expected the InsertAce itself to still be recorded as a classAces list change")
	}
}

func TestForgetClearsTheLog(t *testing.T) {
	p, a := newTrackedAcl(t, 1)
	if err := a.SetEntriesInheriting(context.Background(), false); err != nil {
		t.Fatalf("SetEntriesInheriting: %v", err)
	}
	p.forget(a)
	if _, ok := p.changes[a]; ok {
		t.Fatal("expected forget to remove the Acl's change log entry")
	}
}

func mustUser(t *testing.T) sid.Sid {
	t.Helper()
	u, err := sid.NewUser("person", "alice")
	if err != nil {
		t.Fatalf("sid.NewUser: %v", err)
	}
	return u
}
