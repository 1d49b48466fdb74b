// Package acl implements the in-memory ACL/ACE model, the permission-
// granting strategy and the optional cache described in the object-
// identity-based authorization subsystem. Persistence (the AclProvider /
// MutableAclProvider read and write paths) lives in the acl/provider
// subpackage, which depends on this package but never the reverse.
package acl

import (
	"context"
	"errors"
	"fmt"

	"github.com/streamtune/acl/change"
	"github.com/streamtune/acl/oid"
	"github.com/streamtune/acl/permission"
	"github.com/streamtune/acl/sid"
)

// Section distinguishes an Acl's class-scope entries (apply to every object
// of the Acl's object-identity type) from its object-scope entries (apply
// only to this one object). Combined with an optional field name it
// selects one of the four ACE lists described in spec §3.
type Section int

const (
	// Class selects classAces / classFieldAces.
	Class Section = iota
	// Object selects objectAces / objectFieldAces.
	Object
)

func (s Section) String() string {
	if s == Class {
		return "class"
	}
	return "object"
}

// Acl represents the access control list for one domain object, identified
// by its Oid. It exposes the four ACE lists described in spec §3 and
// delegates authorization decisions to a Strategy.
type Acl interface {
	// GetIdentity returns the object identity this Acl was built for.
	GetIdentity() oid.Oid

	// GetParent returns the parent Acl used for inheritance, or nil if
	// this Acl has no parent.
	GetParent() Acl

	// IsEntriesInheriting reports whether class-scope entries and the
	// parent chain contribute to decisions for this Acl.
	IsEntriesInheriting() bool

	// ClassAces returns the ordered class-scope entries.
	ClassAces() []Ace
	// ObjectAces returns the ordered object-scope entries.
	ObjectAces() []Ace
	// ClassFieldAces returns the ordered class-scope entries for field.
	ClassFieldAces(field string) []Ace
	// ObjectFieldAces returns the ordered object-scope entries for field.
	ObjectFieldAces(field string) []Ace

	// IsGranted evaluates masks against sids per the permission-granting
	// strategy (spec §4.4), returning ErrNoApplicableAce if no ACE in the
	// chain decides.
	IsGranted(ctx context.Context, masks []permission.Mask, sids []sid.Sid, administrativeMode bool) (bool, error)

	// IsFieldGranted is IsGranted restricted to a named field's ACE
	// lists.
	IsFieldGranted(ctx context.Context, field string, masks []permission.Mask, sids []sid.Sid, administrativeMode bool) (bool, error)
}

// MutableAcl is the read/write extension of Acl. Every mutation reports the
// property name and its old and new values to whatever listener the owning
// MutableAclProvider installed (spec §4.7); an Acl built outside a
// provider (e.g. in a unit test) simply has no listener and the events are
// dropped.
type MutableAcl interface {
	Acl

	// GetID returns the storage-assigned identifier and true, or false
	// for an Acl that was never persisted.
	GetID() (int64, bool)

	// SetEntriesInheriting changes IsEntriesInheriting.
	SetEntriesInheriting(ctx context.Context, inheriting bool) error

	// SetParent changes GetParent. Passing the receiver itself as parent
	// is rejected.
	SetParent(ctx context.Context, parent Acl) error

	// InsertAce inserts a new entry into the list selected by (section,
	// field) at index (or at the end if index == length). field == ""
	// selects the flat class/object list; a non-empty field selects the
	// corresponding field-scoped list.
	InsertAce(ctx context.Context, section Section, field string, index int, principal sid.Sid, mask permission.Mask, strategy permission.Strategy, granting bool) error

	// UpdateAce updates the mask (and, if non-nil, the strategy) of the
	// entry at index in the selected list.
	UpdateAce(ctx context.Context, section Section, field string, index int, mask permission.Mask, strategy *permission.Strategy) error

	// DeleteAce removes the entry at index from the selected list.
	DeleteAce(ctx context.Context, section Section, field string, index int) error
}

// AuditableAcl extends MutableAcl with the ability to change an entry's
// auditing flags.
type AuditableAcl interface {
	MutableAcl

	// UpdateAceAuditing updates the audit-success/audit-failure flags of
	// the entry at index in the selected list.
	UpdateAceAuditing(ctx context.Context, section Section, field string, index int, auditSuccess, auditFailure bool) error
}

// acl is the unexported implementation backing both read-only and mutable
// views — there is only ever one concrete type, matching the "the identity
// map is the sole owner" design note: callers never get to construct a
// second, divergent implementation.
type acl struct {
	id          int64
	hasID       bool
	identity    oid.Oid
	parent      Acl
	inherits    bool
	strategy    Strategy
	authorizer  Authorizer

	classAces       []*accessControlEntry
	objectAces      []*accessControlEntry
	classFieldAces  map[string][]*accessControlEntry
	objectFieldAces map[string][]*accessControlEntry

	// onChange, when non-nil, is invoked by every mutator below and
	// installed on every Ace this Acl owns, so a MutableAclProvider can
	// track dirty state without a global listener bus (Design Note 9).
	onChange func(sender any, name string, old, new any)
}

// New creates an empty, unpersisted Acl for identity with
// entriesInheriting=true and no parent, matching the post-condition of
// createAcl in spec §4.7 (testable property 4). strategy and authorizer
// must not be nil.
func New(identity oid.Oid, strategy Strategy, authorizer Authorizer) (MutableAcl, error) {
	if strategy == nil {
		return nil, errors.New("acl: strategy is required")
	}
	if authorizer == nil {
		return nil, errors.New("acl: authorizer is required")
	}
	return &acl{
		identity:        identity,
		inherits:        true,
		strategy:        strategy,
		authorizer:      authorizer,
		classFieldAces:  make(map[string][]*accessControlEntry),
		objectFieldAces: make(map[string][]*accessControlEntry),
	}, nil
}

// Hydrated is the capability constructor used by acl/provider to build an
// Acl directly from already-loaded rows, without reflection into private
// fields (Design Note 9). Most callers should use New, CreateAcl or
// InsertAce instead; Hydrated exists for code that already has
// the fully-formed ACE lists in hand (a SQL hydration pass).
func Hydrated(id int64, identity oid.Oid, inherits bool, parent Acl, strategy Strategy, authorizer Authorizer, classAces, objectAces []Ace, classFieldAces, objectFieldAces map[string][]Ace) (MutableAcl, error) {
	if strategy == nil || authorizer == nil {
		return nil, errors.New("acl: strategy and authorizer are required")
	}
	a := &acl{
		id:              id,
		hasID:           true,
		identity:        identity,
		parent:          parent,
		inherits:        inherits,
		strategy:        strategy,
		authorizer:      authorizer,
		classFieldAces:  make(map[string][]*accessControlEntry),
		objectFieldAces: make(map[string][]*accessControlEntry),
	}
	a.classAces = toConcrete(classAces, a)
	a.objectAces = toConcrete(objectAces, a)
	for f, list := range classFieldAces {
		a.classFieldAces[f] = toConcrete(list, a)
	}
	for f, list := range objectFieldAces {
		a.objectFieldAces[f] = toConcrete(list, a)
	}
	return a, nil
}

func toConcrete(aces []Ace, owner *acl) []*accessControlEntry {
	out := make([]*accessControlEntry, len(aces))
	for i, a := range aces {
		if c, ok := a.(*accessControlEntry); ok {
			c.owner = owner
			out[i] = c
			continue
		}
		// Defensive: build an equivalent concrete entry so the invariant
		// "only *accessControlEntry ever flows through an Acl" holds even
		// if a caller hands us a foreign Ace implementation.
		field, hasField := a.GetField()
		id, hasID := a.GetID()
		out[i] = newAce(id, hasID, owner, a.GetSid(), a.GetMask(), a.GetStrategy(), a.IsGranting(), a.IsAuditSuccess(), a.IsAuditFailure(), field, hasField)
	}
	return out
}

// SetListener installs the property-change callback used by a
// MutableAclProvider to track dirty state (spec §4.7). It also retroactively
// wires every already-loaded Ace's onChange so ACE-level mutations route
// through the same callback. Intended for use by acl/provider only.
func (a *acl) SetListener(onChange func(sender any, name string, old, new any)) {
	a.onChange = onChange
	wire := func(ace *accessControlEntry) {
		ace.onChange = func(name string, old, new any) {
			if a.onChange != nil {
				a.onChange(ace, name, old, new)
			}
		}
	}
	for _, ace := range a.classAces {
		wire(ace)
	}
	for _, ace := range a.objectAces {
		wire(ace)
	}
	for _, list := range a.classFieldAces {
		for _, ace := range list {
			wire(ace)
		}
	}
	for _, list := range a.objectFieldAces {
		for _, ace := range list {
			wire(ace)
		}
	}
}

// Listen installs onChange as a's property-change listener (see
// (*acl).SetListener) without exposing the unexported concrete type to
// callers outside this package. A MutableAcl not built by this package is
// left untouched. Intended for use by acl/provider only.
func Listen(a MutableAcl, onChange func(sender any, name string, old, new any)) {
	if concrete, ok := a.(*acl); ok {
		concrete.SetListener(onChange)
	}
}

// SyncClassAces overwrites a's class-scope ACE list (field == "") or one of
// its class-scope field lists (field != "") with aces, without going
// through the authorizer or emitting a property-change event. It always
// builds independent entries owned by a, never aliasing the caller's Ace
// instances, so each Acl's list stays its own slice even though the values
// are kept in lockstep. Used to mirror a class-scope mutation onto every
// other loaded Acl of the same type (spec §3's "classAces/classFieldAces
// are shared across all ACLs with the same OID type"; spec §4.7 step 6).
// Intended for use by acl/provider only.
func SyncClassAces(a MutableAcl, field string, aces []Ace) {
	concrete, ok := a.(*acl)
	if !ok {
		return
	}
	list := make([]*accessControlEntry, len(aces))
	for i, ace := range aces {
		id, hasID := ace.GetID()
		f, hasField := ace.GetField()
		entry := newAce(id, hasID, concrete, ace.GetSid(), ace.GetMask(), ace.GetStrategy(), ace.IsGranting(), ace.IsAuditSuccess(), ace.IsAuditFailure(), f, hasField)
		if concrete.onChange != nil {
			entry.onChange = func(name string, old, new any) { concrete.onChange(entry, name, old, new) }
		}
		list[i] = entry
	}
	if field == "" {
		concrete.classAces = list
	} else {
		concrete.classFieldAces[field] = list
	}
}

func (a *acl) GetID() (int64, bool)      { return a.id, a.hasID }
func (a *acl) GetIdentity() oid.Oid      { return a.identity }
func (a *acl) GetParent() Acl            { return a.parent }
func (a *acl) IsEntriesInheriting() bool { return a.inherits }

func (a *acl) ClassAces() []Ace  { return acesOf(a.classAces) }
func (a *acl) ObjectAces() []Ace { return acesOf(a.objectAces) }

func (a *acl) ClassFieldAces(field string) []Ace  { return acesOf(a.classFieldAces[field]) }
func (a *acl) ObjectFieldAces(field string) []Ace { return acesOf(a.objectFieldAces[field]) }

func acesOf(list []*accessControlEntry) []Ace {
	out := make([]Ace, len(list))
	for i, a := range list {
		out[i] = a
	}
	return out
}

func (a *acl) listFor(section Section, field string) ([]*accessControlEntry, func([]*accessControlEntry)) {
	if field == "" {
		if section == Class {
			return a.classAces, func(v []*accessControlEntry) { a.classAces = v }
		}
		return a.objectAces, func(v []*accessControlEntry) { a.objectAces = v }
	}
	if section == Class {
		return a.classFieldAces[field], func(v []*accessControlEntry) { a.classFieldAces[field] = v }
	}
	return a.objectFieldAces[field], func(v []*accessControlEntry) { a.objectFieldAces[field] = v }
}

func (a *acl) notify(name string, old, new any) {
	if a.onChange != nil {
		a.onChange(a, name, old, new)
	}
}

func (a *acl) SetEntriesInheriting(ctx context.Context, inheriting bool) error {
	if err := a.authorizer.Authorize(ctx, a, change.General); err != nil {
		return err
	}
	if a.inherits == inheriting {
		return nil
	}
	old := a.inherits
	a.inherits = inheriting
	a.notify("entriesInheriting", old, inheriting)
	return nil
}

func (a *acl) SetParent(ctx context.Context, parent Acl) error {
	if err := a.authorizer.Authorize(ctx, a, change.Ownership); err != nil {
		return err
	}
	if parent != nil {
		if p, ok := parent.(*acl); ok && p == a {
			return fmt.Errorf("%w: an acl cannot be its own parent", ErrInvalidArgument)
		}
	}
	old := a.parent
	a.parent = parent
	a.notify("parentAcl", old, parent)
	return nil
}

func verifyIndex(index, length int) error {
	if index < 0 || index >= length {
		return fmt.Errorf("%w: index %d out of range for list of length %d", ErrInvalidArgument, index, length)
	}
	return nil
}

func (a *acl) InsertAce(ctx context.Context, section Section, field string, index int, principal sid.Sid, mask permission.Mask, strategy permission.Strategy, granting bool) error {
	if err := a.authorizer.Authorize(ctx, a, change.General); err != nil {
		return err
	}
	list, set := a.listFor(section, field)
	if index < 0 || index > len(list) {
		return fmt.Errorf("%w: insertion index %d out of range for list of length %d", ErrInvalidArgument, index, len(list))
	}
	hasField := field != ""
	entry := newAce(0, false, a, principal, mask, strategy, granting, false, false, field, hasField)
	if a.onChange != nil {
		entry.onChange = func(name string, old, new any) { a.onChange(entry, name, old, new) }
	}
	next := make([]*accessControlEntry, 0, len(list)+1)
	next = append(next, list[:index]...)
	next = append(next, entry)
	next = append(next, list[index:]...)
	set(next)
	a.notify(listProperty(section, field), acesOf(list), acesOf(next))
	return nil
}

func (a *acl) UpdateAce(ctx context.Context, section Section, field string, index int, mask permission.Mask, strategy *permission.Strategy) error {
	if err := a.authorizer.Authorize(ctx, a, change.General); err != nil {
		return err
	}
	list, _ := a.listFor(section, field)
	if err := verifyIndex(index, len(list)); err != nil {
		return err
	}
	list[index].setMaskStrategy(mask, strategy)
	return nil
}

func (a *acl) DeleteAce(ctx context.Context, section Section, field string, index int) error {
	if err := a.authorizer.Authorize(ctx, a, change.General); err != nil {
		return err
	}
	list, set := a.listFor(section, field)
	if err := verifyIndex(index, len(list)); err != nil {
		return err
	}
	next := make([]*accessControlEntry, 0, len(list)-1)
	next = append(next, list[:index]...)
	next = append(next, list[index+1:]...)
	set(next)
	a.notify(listProperty(section, field), acesOf(list), acesOf(next))
	return nil
}

func (a *acl) UpdateAceAuditing(ctx context.Context, section Section, field string, index int, auditSuccess, auditFailure bool) error {
	if err := a.authorizer.Authorize(ctx, a, change.Auditing); err != nil {
		return err
	}
	list, _ := a.listFor(section, field)
	if err := verifyIndex(index, len(list)); err != nil {
		return err
	}
	list[index].setAuditing(auditSuccess, auditFailure)
	return nil
}

func listProperty(section Section, field string) string {
	switch {
	case section == Class && field == "":
		return "classAces"
	case section == Class:
		return "classFieldAces[" + field + "]"
	case field == "":
		return "objectAces"
	default:
		return "objectFieldAces[" + field + "]"
	}
}

func (a *acl) IsGranted(ctx context.Context, masks []permission.Mask, sids []sid.Sid, administrativeMode bool) (bool, error) {
	return a.strategy.IsGranted(ctx, a, masks, sids, nil, administrativeMode)
}

func (a *acl) IsFieldGranted(ctx context.Context, field string, masks []permission.Mask, sids []sid.Sid, administrativeMode bool) (bool, error) {
	return a.strategy.IsGranted(ctx, a, masks, sids, &field, administrativeMode)
}

func (a *acl) String() string {
	return fmt.Sprintf("Acl[identity: %s; inheriting: %t; parent: %v]", a.identity, a.inherits, a.parent != nil)
}
