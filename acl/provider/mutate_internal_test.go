package provider

import (
	"errors"
	"testing"

	"github.com/lib/pq"

	"github.com/streamtune/acl"
	"github.com/streamtune/acl/oid"
	"github.com/streamtune/acl/permission"
)

func TestIsUniqueViolation(t *testing.T) {
	if isUniqueViolation(errors.New("some other failure")) {
		t.Fatal("expected a plain error to not be classified as a unique violation")
	}
	if isUniqueViolation(&pq.Error{Code: "23503"}) {
		t.Fatal("expected a foreign-key violation code to not be classified as a unique violation")
	}
	if !isUniqueViolation(&pq.Error{Code: uniqueViolation}) {
		t.Fatal("expected pq.Error{Code: 23505} to be classified as a unique violation")
	}
}

func TestCutPrefix(t *testing.T) {
	cases := []struct {
		name, prefix, wantField string
		wantOK                  bool
	}{
		{"classFieldAces[status]", "classFieldAces[", "status", true},
		{"objectFieldAces[owner]", "objectFieldAces[", "owner", true},
		{"classAces", "classFieldAces[", "", false},
		{"classFieldAces[status]", "objectFieldAces[", "", false},
		{"classFieldAces[", "classFieldAces[", "", false},
	}
	for _, c := range cases {
		field, ok := cutPrefix(c.name, c.prefix)
		if ok != c.wantOK || field != c.wantField {
			t.Errorf("cutPrefix(%q, %q) = (%q, %v), want (%q, %v)", c.name, c.prefix, field, ok, c.wantField, c.wantOK)
		}
	}
}

func TestParentIDOfUnpersistedAcl(t *testing.T) {
	identity := mustOid(t, "com.example.Document", "1")
	a, err := acl.New(identity, acl.NewStrategy(nil), acl.AllowAll())
	if err != nil {
		t.Fatalf("acl.New: %v", err)
	}
	if _, ok := parentIDOf(a); ok {
		t.Fatal("expected parentIDOf to report false for an unpersisted acl")
	}
}

func TestParentIDOfPersistedAcl(t *testing.T) {
	identity := mustOid(t, "com.example.Document", "1")
	a, err := acl.Hydrated(42, identity, true, nil, acl.NewStrategy(nil), acl.AllowAll(), nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("acl.Hydrated: %v", err)
	}
	id, ok := parentIDOf(a)
	if !ok || id != 42 {
		t.Fatalf("parentIDOf() = (%d, %v), want (42, true)", id, ok)
	}
}

func TestPropagateSharedChangeOverwritesMatchingSibling(t *testing.T) {
	alice := mustUser(t)
	strategy := acl.NewStrategy(nil)
	authorizer := acl.AllowAll()

	ownerIdentity := mustOid(t, "com.example.Document", "1")
	siblingIdentity := mustOid(t, "com.example.Document", "2")

	oldAce := acl.NewAce(1, true, alice, permission.Read, permission.Equal, true, false, false, "", false)
	newAce := acl.NewAce(1, true, alice, permission.Write, permission.Equal, true, false, false, "", false)
	siblingOldAce := acl.NewAce(1, true, alice, permission.Read, permission.Equal, true, false, false, "", false)

	owner, err := acl.Hydrated(10, ownerIdentity, true, nil, strategy, authorizer, []acl.Ace{newAce}, nil, nil, nil)
	if err != nil {
		t.Fatalf("acl.Hydrated: %v", err)
	}
	sibling, err := acl.Hydrated(11, siblingIdentity, true, nil, strategy, authorizer, []acl.Ace{siblingOldAce}, nil, nil, nil)
	if err != nil {
		t.Fatalf("acl.Hydrated: %v", err)
	}

	p := &Provider{loadedAcls: map[oid.Oid]acl.MutableAcl{ownerIdentity: owner, siblingIdentity: sibling}}
	c := trackedChange{old: []acl.Ace{oldAce}, new: []acl.Ace{newAce}}
	if err := p.propagateSharedChange(owner, "", c); err != nil {
		t.Fatalf("propagateSharedChange: %v", err)
	}
	got := sibling.ClassAces()
	if len(got) != 1 || got[0].GetMask() != permission.Write {
		t.Fatalf("expected the sibling's classAces to mirror the new value, got %+v", got)
	}
}

func TestPropagateSharedChangeFailsOnDivergentSibling(t *testing.T) {
	alice := mustUser(t)
	strategy := acl.NewStrategy(nil)
	authorizer := acl.AllowAll()

	ownerIdentity := mustOid(t, "com.example.Document", "1")
	siblingIdentity := mustOid(t, "com.example.Document", "2")

	oldAce := acl.NewAce(1, true, alice, permission.Read, permission.Equal, true, false, false, "", false)
	newAce := acl.NewAce(1, true, alice, permission.Write, permission.Equal, true, false, false, "", false)
	divergedAce := acl.NewAce(1, true, alice, permission.Delete, permission.Equal, true, false, false, "", false)

	owner, err := acl.Hydrated(10, ownerIdentity, true, nil, strategy, authorizer, []acl.Ace{newAce}, nil, nil, nil)
	if err != nil {
		t.Fatalf("acl.Hydrated: %v", err)
	}
	sibling, err := acl.Hydrated(11, siblingIdentity, true, nil, strategy, authorizer, []acl.Ace{divergedAce}, nil, nil, nil)
	if err != nil {
		t.Fatalf("acl.Hydrated: %v", err)
	}

	p := &Provider{loadedAcls: map[oid.Oid]acl.MutableAcl{ownerIdentity: owner, siblingIdentity: sibling}}
	c := trackedChange{old: []acl.Ace{oldAce}, new: []acl.Ace{newAce}}
	err = p.propagateSharedChange(owner, "", c)
	if !errors.Is(err, acl.ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification for a diverged sibling, got %v", err)
	}
}

func TestPropagateSharedChangeIgnoresDifferentType(t *testing.T) {
	alice := mustUser(t)
	strategy := acl.NewStrategy(nil)
	authorizer := acl.AllowAll()

	ownerIdentity := mustOid(t, "com.example.Document", "1")
	otherTypeIdentity := mustOid(t, "com.example.Other", "1")

	oldAce := acl.NewAce(1, true, alice, permission.Read, permission.Equal, true, false, false, "", false)
	newAce := acl.NewAce(1, true, alice, permission.Write, permission.Equal, true, false, false, "", false)
	unrelatedAce := acl.NewAce(1, true, alice, permission.Delete, permission.Equal, true, false, false, "", false)

	owner, err := acl.Hydrated(10, ownerIdentity, true, nil, strategy, authorizer, []acl.Ace{newAce}, nil, nil, nil)
	if err != nil {
		t.Fatalf("acl.Hydrated: %v", err)
	}
	other, err := acl.Hydrated(12, otherTypeIdentity, true, nil, strategy, authorizer, []acl.Ace{unrelatedAce}, nil, nil, nil)
	if err != nil {
		t.Fatalf("acl.Hydrated: %v", err)
	}

	p := &Provider{loadedAcls: map[oid.Oid]acl.MutableAcl{ownerIdentity: owner, otherTypeIdentity: other}}
	c := trackedChange{old: []acl.Ace{oldAce}, new: []acl.Ace{newAce}}
	if err := p.propagateSharedChange(owner, "", c); err != nil {
		t.Fatalf("propagateSharedChange: %v", err)
	}
	got := other.ClassAces()
	if len(got) != 1 || got[0].GetMask() != permission.Delete {
		t.Fatalf("expected a sibling of a different type to be left untouched, got %+v", got)
	}
}
