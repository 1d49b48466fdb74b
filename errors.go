package acl

import (
	"errors"
	"fmt"

	"github.com/streamtune/acl/oid"
)

// Sentinel errors for the error kinds that carry no extra payload (spec §7).
var (
	// ErrAclNotFound is returned when no ACL row exists for a single
	// requested object identity.
	ErrAclNotFound = errors.New("acl: no acl found for object identity")

	// ErrAclAlreadyExists is returned by CreateAcl when the object
	// identity already has a row.
	ErrAclAlreadyExists = errors.New("acl: an acl already exists for this object identity")

	// ErrNoApplicableAce is returned when a permission check exhausts the
	// ACE chain (own entries, class entries, parent chain) without a
	// decision.
	ErrNoApplicableAce = errors.New("acl: no applicable ace found")

	// ErrConcurrentModification is returned when a shared class-scope
	// property diverged in memory from the snapshot recorded when the
	// change was made, indicating another writer committed first.
	ErrConcurrentModification = errors.New("acl: concurrent modification detected")

	// ErrInvalidArgument covers the family of argument-shape errors: an
	// unknown Sid variant, an untracked ACL passed to UpdateAcl, a no-op
	// update, or an out-of-range ACE index.
	ErrInvalidArgument = errors.New("acl: invalid argument")

	// ErrIntegrityViolation is returned when hydration cannot resolve a
	// parent reference once a batch has been fully processed. It
	// indicates corrupted or inconsistent storage.
	ErrIntegrityViolation = errors.New("acl: integrity violation")

	// ErrNotImplemented is returned when an identity-map hit does not
	// cover all requested Sids; the default provider never attempts a
	// partial-Sid reload (spec §9 open question).
	ErrNotImplemented = errors.New("acl: partial sid reload is not implemented")
)

// NotAllAclsFoundError is returned by a multi-OID lookup that could not
// resolve every requested identity. Found holds the partial result for
// whichever identities did resolve, keyed by the caller-supplied Oid.
type NotAllAclsFoundError struct {
	Found   map[oid.Oid]Acl
	Missing []oid.Oid
}

func (e *NotAllAclsFoundError) Error() string {
	return fmt.Sprintf("acl: %d of %d requested object identities could not be resolved", len(e.Missing), len(e.Found)+len(e.Missing))
}

// Unwrap lets errors.Is(err, ErrAclNotFound) succeed against a
// NotAllAclsFoundError, since it is fundamentally the same failure mode
// widened to a batch.
func (e *NotAllAclsFoundError) Unwrap() error {
	return ErrAclNotFound
}
