package acl

import (
	"errors"
	"testing"

	"github.com/streamtune/acl/oid"
)

func TestNotAllAclsFoundErrorUnwrapsToAclNotFound(t *testing.T) {
	found, err := oid.New("com.example.Document", "1")
	if err != nil {
		t.Fatalf("oid.New: %v", err)
	}
	missing, err := oid.New("com.example.Document", "2")
	if err != nil {
		t.Fatalf("oid.New: %v", err)
	}

	e := &NotAllAclsFoundError{
		Found:   map[oid.Oid]Acl{found: nil},
		Missing: []oid.Oid{missing},
	}
	if !errors.Is(e, ErrAclNotFound) {
		t.Fatal("expected errors.Is(e, ErrAclNotFound) to hold for a widened batch failure")
	}
	if e.Error() == "" {
		t.Fatal("expected a non-empty Error() message")
	}
}
