package acl

import (
	"context"
	"errors"
	"fmt"

	"github.com/streamtune/acl/change"
	"github.com/streamtune/acl/permission"
	"github.com/streamtune/acl/sid"
)

// Authorizer is consulted by every MutableAcl setter before it applies a
// change, mirroring the teacher's AclAuthorizationStrategy role: spec.md
// treats the containing web-security framework as an external
// collaborator, so this hook exists for repos that want to gate mutation
// without re-deriving the plumbing, but the default AllowAll
// implementation never rejects anything.
type Authorizer interface {
	Authorize(ctx context.Context, acl Acl, chg change.Type) error
}

// allowAll is the default Authorizer: every mutation is permitted. Use it
// when the containing framework performs its own authorization before
// ever calling a MutableAcl setter.
type allowAll struct{}

// AllowAll returns an Authorizer that never rejects a change.
func AllowAll() Authorizer { return allowAll{} }

func (allowAll) Authorize(context.Context, Acl, change.Type) error { return nil }

// authorityAuthorizer grants a change if the presenting principal (from
// sid.FromContext) holds the configured authority for that change.Type, or
// failing that, holds Administration permission on the Acl itself.
type authorityAuthorizer struct {
	authorities map[change.Type]sid.Role
}

// NewAuthorizer builds an Authorizer requiring the named authority (role)
// for each kind of change. Passing the same name for all three collapses
// to a single required authority.
func NewAuthorizer(general, auditing, ownership string) (Authorizer, error) {
	g, err := sid.NewRole(general)
	if err != nil {
		return nil, err
	}
	a, err := sid.NewRole(auditing)
	if err != nil {
		return nil, err
	}
	o, err := sid.NewRole(ownership)
	if err != nil {
		return nil, err
	}
	return &authorityAuthorizer{authorities: map[change.Type]sid.Role{
		change.General:   g,
		change.Auditing:  a,
		change.Ownership: o,
	}}, nil
}

func (a *authorityAuthorizer) Authorize(ctx context.Context, target Acl, chg change.Type) error {
	sids, ok := sid.FromContext(ctx)
	if !ok || len(sids) == 0 {
		return errors.New("acl: an authenticated principal is required to mutate an acl")
	}
	required, ok := a.authorities[chg]
	if !ok {
		return fmt.Errorf("acl: unsupported change type %v", chg)
	}
	for _, s := range sids {
		if s.Equals(required) {
			return nil
		}
	}
	// Fall back to Administration permission granted directly on the Acl.
	granted, err := target.IsGranted(ctx, []permission.Mask{permission.Administration}, sids, false)
	if err == nil && granted {
		return nil
	}
	return fmt.Errorf("acl: principal lacks %s authority to perform a %s change", required.Name(), chg)
}
