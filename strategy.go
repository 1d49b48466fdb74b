package acl

import (
	"context"

	"github.com/streamtune/acl/audit"
	"github.com/streamtune/acl/permission"
	"github.com/streamtune/acl/sid"
)

// Strategy decides whether an Acl grants a set of permission masks to a
// set of security identities (spec §4.4). The default implementation is
// the only one this package ships, but the interface lets a caller plug in
// alternative tie-break or inheritance rules.
type Strategy interface {
	// IsGranted evaluates masks against sids for acl. field selects the
	// field-scoped ACE lists when non-nil; a nil field evaluates the flat
	// class/object lists. Returns ErrNoApplicableAce if no ACE in the
	// chain (this Acl's entries, then its parent chain) decides.
	IsGranted(ctx context.Context, acl Acl, masks []permission.Mask, sids []sid.Sid, field *string, administrativeMode bool) (bool, error)
}

// defaultStrategy is the default Strategy: object-scope entries are tried
// before class-scope entries, which are tried before recursing into the
// parent Acl. Within a scope, the requested masks are tried in order
// (outer loop), and for each mask the presented Sids are tried in order
// (inner loop); the first applicable ACE anywhere in that scan decides.
type defaultStrategy struct {
	auditor audit.Auditor
}

// NewStrategy returns the default permission-granting Strategy, auditing
// decisions through auditor. A nil auditor uses audit.Default().
func NewStrategy(auditor audit.Auditor) Strategy {
	if auditor == nil {
		auditor = audit.Default()
	}
	return &defaultStrategy{auditor: auditor}
}

func (s *defaultStrategy) IsGranted(ctx context.Context, acl Acl, masks []permission.Mask, sids []sid.Sid, field *string, administrativeMode bool) (bool, error) {
	objectScope := objectAces(acl, field)
	if granting, ace, ok := scan(objectScope, masks, sids); ok {
		s.audit(ctx, administrativeMode, granting, ace)
		return granting, nil
	}

	if acl.IsEntriesInheriting() {
		classScope := classAces(acl, field)
		if granting, ace, ok := scan(classScope, masks, sids); ok {
			s.audit(ctx, administrativeMode, granting, ace)
			return granting, nil
		}
	}

	if acl.IsEntriesInheriting() {
		if parent := acl.GetParent(); parent != nil {
			// Recurse with the original field variant, not the parent's own
			// preference — spec §4.4 step 3.
			return s.IsGranted(ctx, parent, masks, sids, field, administrativeMode)
		}
	}

	return false, ErrNoApplicableAce
}

func objectAces(acl Acl, field *string) []Ace {
	if field != nil {
		return acl.ObjectFieldAces(*field)
	}
	return acl.ObjectAces()
}

func classAces(acl Acl, field *string) []Ace {
	if field != nil {
		return acl.ClassFieldAces(*field)
	}
	return acl.ClassAces()
}

// scan implements isAceApplicable over the mask-outer/sid-inner/ace-scan
// cross product described in spec §4.4, returning the first applicable
// ACE's granting decision.
func scan(aces []Ace, masks []permission.Mask, sids []sid.Sid) (granting bool, decided Ace, ok bool) {
	for _, mask := range masks {
		for _, requester := range sids {
			for _, ace := range aces {
				if !ace.GetStrategy().Applicable(mask, ace.GetMask()) {
					continue
				}
				if !ace.GetSid().Equals(requester) {
					continue
				}
				return ace.IsGranting(), ace, true
			}
		}
	}
	return false, nil, false
}

func (s *defaultStrategy) audit(ctx context.Context, administrativeMode, granting bool, ace Ace) {
	if administrativeMode {
		return
	}
	if auditable, ok := ace.(audit.Auditable); ok {
		s.auditor.Audit(ctx, granting, auditable)
	}
}
