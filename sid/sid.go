// Package sid implements the security identities (principals and roles)
// that ACEs are granted to or denied for.
package sid

import (
	"context"
	"errors"
	"strings"
)

// Sid is a security identity recognised by the ACL system.
//
// This interface provides indirection between actual security objects (e.g.
// principals, roles, groups) and what is stored inside an Acl. An Acl never
// stores an entire security object, only this abstraction of it.
type Sid interface {
	// Equals reports whether the receiver and other name the same identity.
	Equals(other Sid) bool

	// IsUser reports whether this Sid is a User variant (as opposed to a
	// Role). It is the username_flag persisted alongside the wire form.
	IsUser() bool

	// String returns the wire form: "{userClass}-{username}" for a User,
	// the bare name for a Role. A User's form round-trips through
	// ParseUser, a Role's through NewRole.
	String() string
}

// User is a Sid naming a principal of a given user class.
type User struct {
	class    string
	username string
}

// NewUser creates a User Sid. Both class and username are required.
func NewUser(class, username string) (User, error) {
	if class == "" || username == "" {
		return User{}, errors.New("sid: user class and username are required")
	}
	return User{class: class, username: username}, nil
}

// Class returns the user class (the caller-defined principal namespace).
func (u User) Class() string { return u.class }

// Username returns the bare username, without the class prefix.
func (u User) Username() string { return u.username }

// Equals reports whether other is a User with the same class and username.
func (u User) Equals(other Sid) bool {
	o, ok := other.(User)
	return ok && u.class == o.class && u.username == o.username
}

// IsUser always returns true for User.
func (u User) IsUser() bool { return true }

func (u User) String() string {
	return u.class + "-" + u.username
}

// Role is a Sid naming a granted role/authority, with no associated
// principal.
type Role struct {
	name string
}

// NewRole creates a Role Sid. name is required.
func NewRole(name string) (Role, error) {
	if name == "" {
		return Role{}, errors.New("sid: role name is required")
	}
	return Role{name: name}, nil
}

// Name returns the role name.
func (r Role) Name() string { return r.name }

// Equals reports whether other is a Role with the same name.
func (r Role) Equals(other Sid) bool {
	o, ok := other.(Role)
	return ok && r.name == o.name
}

// IsUser always returns false for Role.
func (r Role) IsUser() bool { return false }

func (r Role) String() string { return r.name }

// ParseUser recovers a User Sid from its persisted wire form, splitting on
// the first '-' to separate class from username (spec §4.6.2's hydration
// rule). It is the inverse of User.String for the username_flag=true case.
func ParseUser(wire string) (User, error) {
	idx := strings.Index(wire, "-")
	if idx < 0 {
		return User{}, errors.New("sid: malformed user wire form, missing '-'")
	}
	return NewUser(wire[:idx], wire[idx+1:])
}

type contextKey struct{}

var sidsContextKey = contextKey{}

// NewContext returns a copy of ctx carrying sids as the presenting
// principal's security identities, for consumption by an acl.Authorizer.
// This is how the external credential/request-binding framework (out of
// scope per spec §1) hands the ACL subsystem its caller's identities.
func NewContext(ctx context.Context, sids []Sid) context.Context {
	return context.WithValue(ctx, sidsContextKey, sids)
}

// FromContext retrieves the security identities stored by NewContext.
func FromContext(ctx context.Context) ([]Sid, bool) {
	sids, ok := ctx.Value(sidsContextKey).([]Sid)
	return sids, ok
}
