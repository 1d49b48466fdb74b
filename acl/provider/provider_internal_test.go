package provider

import (
	"database/sql"
	"strings"
	"testing"

	"github.com/streamtune/acl"
	"github.com/streamtune/acl/acl/provider/schema"
	"github.com/streamtune/acl/oid"
	"github.com/streamtune/acl/permission"
)

func mustOid(t *testing.T, typ, identifier string) oid.Oid {
	t.Helper()
	o, err := oid.New(typ, identifier)
	if err != nil {
		t.Fatalf("oid.New: %v", err)
	}
	return o
}

func TestNormalizeClassTypeCollapsesDoubledBackslash(t *testing.T) {
	cases := map[string]string{
		`com.example.Document`:   `com.example.Document`,
		`com\\example\\Document`: `com\example\Document`,
		`already\single`:         `already\single`,
	}
	for in, want := range cases {
		if got := normalizeClassType(in); got != want {
			t.Errorf("normalizeClassType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseStrategy(t *testing.T) {
	cases := map[string]permission.Strategy{
		"all":   permission.All,
		"any":   permission.Any,
		"equal": permission.Equal,
		"":      permission.Equal,
		"bogus": permission.Equal,
	}
	for in, want := range cases {
		if got := parseStrategy(in); got != want {
			t.Errorf("parseStrategy(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestAncestorQuerySameTypeUsesInClause(t *testing.T) {
	p := &Provider{options: schema.DefaultOptions()}
	batch := []oid.Oid{
		mustOid(t, "com.example.Document", "1"),
		mustOid(t, "com.example.Document", "2"),
	}
	query, args := p.ancestorQuery(batch)
	if !strings.Contains(query, "IN (") {
		t.Fatalf("expected an IN clause for a same-type batch, got: %s", query)
	}
	if len(args) != 3 {
		t.Fatalf("expected 3 args (type + 2 identifiers), got %d: %v", len(args), args)
	}
	if args[0] != "com.example.Document" {
		t.Fatalf("expected the shared type as the first arg, got %v", args[0])
	}
}

func TestAncestorQueryMixedTypeUsesOrClauses(t *testing.T) {
	p := &Provider{options: schema.DefaultOptions()}
	batch := []oid.Oid{
		mustOid(t, "com.example.Document", "1"),
		mustOid(t, "com.example.Folder", "2"),
	}
	query, args := p.ancestorQuery(batch)
	if !strings.Contains(query, " OR ") {
		t.Fatalf("expected OR-joined clauses for a mixed-type batch, got: %s", query)
	}
	if len(args) != 4 {
		t.Fatalf("expected 4 args (type+identifier per entry), got %d: %v", len(args), args)
	}
}

func TestResolveParentNoParent(t *testing.T) {
	p := &Provider{}
	parent, ok := p.resolveParent(sql.NullInt64{Valid: false}, nil)
	if !ok || parent != nil {
		t.Fatalf("expected (nil, true) for no parent, got (%v, %v)", parent, ok)
	}
}

func TestResolveParentFoundAmongBuilt(t *testing.T) {
	p := &Provider{}
	identity := mustOid(t, "com.example.Document", "1")
	a, err := acl.Hydrated(7, identity, true, nil, acl.NewStrategy(nil), acl.AllowAll(), nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("Hydrated: %v", err)
	}
	built := map[int64]acl.MutableAcl{7: a}
	parent, ok := p.resolveParent(sql.NullInt64{Valid: true, Int64: 7}, built)
	if !ok || parent != acl.Acl(a) {
		t.Fatalf("expected to resolve the built parent, got (%v, %v)", parent, ok)
	}
}

func TestResolveParentFoundInStandingIdentityMap(t *testing.T) {
	identity := mustOid(t, "com.example.Document", "1")
	a, err := acl.Hydrated(9, identity, true, nil, acl.NewStrategy(nil), acl.AllowAll(), nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("Hydrated: %v", err)
	}
	p := &Provider{loadedAcls: map[oid.Oid]acl.MutableAcl{identity: a}}
	parent, ok := p.resolveParent(sql.NullInt64{Valid: true, Int64: 9}, map[int64]acl.MutableAcl{})
	if !ok || parent != acl.Acl(a) {
		t.Fatalf("expected to resolve the parent via the standing identity map, got (%v, %v)", parent, ok)
	}
}

func TestResolveParentUnresolved(t *testing.T) {
	p := &Provider{loadedAcls: map[oid.Oid]acl.MutableAcl{}}
	_, ok := p.resolveParent(sql.NullInt64{Valid: true, Int64: 42}, map[int64]acl.MutableAcl{})
	if ok {
		t.Fatal("expected resolveParent to report unresolved for an unknown parent pk")
	}
}
