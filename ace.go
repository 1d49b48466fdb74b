package acl

import (
	"fmt"

	"github.com/streamtune/acl/permission"
	"github.com/streamtune/acl/sid"
)

// Ace represents an individual permission assignment within an Acl: a mask,
// a grant/deny flag, the match Strategy used to test a requested mask
// against this ACE's mask, auditing flags, and — for field ACEs — the
// field name it is scoped to.
//
// Instances are immutable from the outside; mutation happens only through
// the owning MutableAcl's UpdateAce, UpdateAceAuditing and DeleteAce
// methods.
type Ace interface {
	// GetID returns the storage-assigned identifier and true, or false if
	// this ACE has never been persisted.
	GetID() (int64, bool)

	// GetAcl returns the owning Acl. This is a non-owning back-reference;
	// the Acl itself is what an AclProvider's identity map owns.
	GetAcl() Acl

	// GetSid returns the security identity this entry applies to.
	GetSid() sid.Sid

	// GetMask returns the permission mask carried by this entry.
	GetMask() permission.Mask

	// GetStrategy returns the match strategy used to compare a requested
	// mask against GetMask.
	GetStrategy() permission.Strategy

	// IsGranting reports whether this entry grants (true) or denies
	// (false) the permission to its Sid.
	IsGranting() bool

	// IsAuditSuccess reports whether a grant decided by this entry should
	// be audited.
	IsAuditSuccess() bool

	// IsAuditFailure reports whether a deny decided by this entry should
	// be audited.
	IsAuditFailure() bool

	// GetField returns the field name and true for a field-scoped entry,
	// or ("", false) for a class/object entry.
	GetField() (string, bool)

	String() string
}

// accessControlEntry is the unexported implementation of Ace, shared by
// both the mutable and read-only views.
type accessControlEntry struct {
	id       int64
	hasID    bool
	owner    Acl
	principal sid.Sid
	mask     permission.Mask
	strategy permission.Strategy
	granting bool
	success  bool
	failure  bool
	field    string
	hasField bool

	// onChange is invoked by the setters below with (propertyName, old, new).
	// It is nil for ACEs that aren't tracked by a MutableAclProvider (e.g.
	// entries built directly by a caller that never registered a listener).
	onChange func(name string, old, new any)
}

// NewAce constructs a standalone Ace with no owning Acl; passing it to
// Hydrated (or InsertAce's internal equivalent) assigns the owner.
// Intended for use by acl/provider when hydrating rows from storage.
func NewAce(id int64, hasID bool, principal sid.Sid, mask permission.Mask, strategy permission.Strategy, granting, auditSuccess, auditFailure bool, field string, hasField bool) Ace {
	return newAce(id, hasID, nil, principal, mask, strategy, granting, auditSuccess, auditFailure, field, hasField)
}

func newAce(id int64, hasID bool, owner Acl, principal sid.Sid, mask permission.Mask, strategy permission.Strategy, granting, success, failure bool, field string, hasField bool) *accessControlEntry {
	return &accessControlEntry{
		id:        id,
		hasID:     hasID,
		owner:     owner,
		principal: principal,
		mask:      mask,
		strategy:  strategy,
		granting:  granting,
		success:   success,
		failure:   failure,
		field:     field,
		hasField:  hasField,
	}
}

func (a *accessControlEntry) GetID() (int64, bool) { return a.id, a.hasID }
func (a *accessControlEntry) GetAcl() Acl           { return a.owner }
func (a *accessControlEntry) GetSid() sid.Sid       { return a.principal }
func (a *accessControlEntry) GetMask() permission.Mask           { return a.mask }
func (a *accessControlEntry) GetStrategy() permission.Strategy   { return a.strategy }
func (a *accessControlEntry) IsGranting() bool                   { return a.granting }
func (a *accessControlEntry) IsAuditSuccess() bool               { return a.success }
func (a *accessControlEntry) IsAuditFailure() bool                { return a.failure }
func (a *accessControlEntry) GetField() (string, bool)           { return a.field, a.hasField }

func (a *accessControlEntry) setID(id int64) {
	a.id = id
	a.hasID = true
}

// AssignID records the storage id a MutableAclProvider assigned to ace on
// first insert (spec §4.7 step 5). It is a no-op for an ace that already
// has an id, or for an Ace implementation foreign to this package.
// Intended for use by acl/provider only.
func AssignID(ace Ace, id int64) {
	if e, ok := ace.(*accessControlEntry); ok && !e.hasID {
		e.setID(id)
	}
}

// setMaskStrategy updates the mask and, if strategy is non-nil, the match
// strategy, emitting one property-change event per changed field.
func (a *accessControlEntry) setMaskStrategy(mask permission.Mask, strategy *permission.Strategy) {
	if a.mask != mask {
		old := a.mask
		a.mask = mask
		a.notify("mask", old, mask)
	}
	if strategy != nil && a.strategy != *strategy {
		old := a.strategy
		a.strategy = *strategy
		a.notify("strategy", old, *strategy)
	}
}

func (a *accessControlEntry) setAuditing(success, failure bool) {
	if a.success != success {
		old := a.success
		a.success = success
		a.notify("auditSuccess", old, success)
	}
	if a.failure != failure {
		old := a.failure
		a.failure = failure
		a.notify("auditFailure", old, failure)
	}
}

func (a *accessControlEntry) notify(name string, old, new any) {
	if a.onChange != nil {
		a.onChange(name, old, new)
	}
}

func (a *accessControlEntry) String() string {
	field, ok := a.GetField()
	if !ok {
		field = "-"
	}
	return fmt.Sprintf(
		"Ace[id: %d; sid: %s; mask: %s; strategy: %s; granting: %t; field: %s; auditSuccess: %t; auditFailure: %t]",
		a.id, a.principal, a.mask, a.strategy, a.granting, field, a.success, a.failure,
	)
}
