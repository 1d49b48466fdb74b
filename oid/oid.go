// Package oid implements the object identity used throughout the ACL
// subsystem: a stable (type, identifier) pair naming a domain object.
package oid

import (
	"errors"
	"fmt"
)

// Oid names a domain object by its class-name token and the stringified
// primary key of the concrete instance. Both fields are opaque to the ACL
// subsystem: it never inspects their contents beyond equality.
//
// Oid is a plain comparable struct on purpose: two Oid values with the same
// fields compare equal with ==, so it can be used directly as a map key.
// Callers needing the "same instance" identity invariant (spec §3) get it
// for free because the provider's identity map is keyed by Oid value, not
// by pointer.
type Oid struct {
	kind       string
	identifier string
}

// New creates an Oid for the given type token and identifier. Both must be
// non-empty; the identifier is not interpreted, only compared.
func New(oidType, identifier string) (Oid, error) {
	if oidType == "" || identifier == "" {
		return Oid{}, errors.New("oid: type and identifier are required")
	}
	return Oid{kind: oidType, identifier: identifier}, nil
}

// Type returns the class-name token of the object this identity names.
func (o Oid) Type() string {
	return o.kind
}

// Identifier returns the stringified primary key of the object.
func (o Oid) Identifier() string {
	return o.identifier
}

// Equals reports whether two object identities name the same object. Oid
// already satisfies == since it holds only strings, but Equals is kept for
// symmetry with sid.Sid's structural equality and for use across packages
// that only see Oid through an interface.
func (o Oid) Equals(other Oid) bool {
	return o == other
}

func (o Oid) String() string {
	return fmt.Sprintf("%s[%s]", o.kind, o.identifier)
}
