// Package provider implements the AclProvider and MutableAclProvider read
// and write paths over a relational schema (spec §4.6, §4.7): batched
// hydration with an in-memory identity map, an optional external cache, and
// transactional mutation that keeps the ancestor-closure table consistent.
package provider

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/lib/pq"

	"github.com/streamtune/acl"
	"github.com/streamtune/acl/acl/internal/sqlexec"
	"github.com/streamtune/acl/acl/provider/schema"
	"github.com/streamtune/acl/oid"
	"github.com/streamtune/acl/permission"
	"github.com/streamtune/acl/sid"
)

// AclProvider is the read path described in spec §4.6.
type AclProvider interface {
	// FindAcl is FindAcls for a single identity, unwrapped.
	FindAcl(ctx context.Context, identity oid.Oid, sids []sid.Sid) (acl.MutableAcl, error)

	// FindAcls batch-loads identities, preserving referential identity of
	// previously resolved Acls and Aces. Returns *acl.NotAllAclsFoundError
	// (wrapping acl.ErrAclNotFound) when some identities have no row.
	FindAcls(ctx context.Context, identities []oid.Oid, sids []sid.Sid) (map[oid.Oid]acl.MutableAcl, error)

	// FindChildren returns direct or transitive children of identity.
	FindChildren(ctx context.Context, identity oid.Oid, directOnly bool) ([]oid.Oid, error)
}

// MutableAclProvider is the write path described in spec §4.7.
type MutableAclProvider interface {
	AclProvider

	CreateAcl(ctx context.Context, identity oid.Oid) (acl.MutableAcl, error)
	DeleteAcl(ctx context.Context, identity oid.Oid) error
	UpdateAcl(ctx context.Context, a acl.MutableAcl) error
	DeleteSecurityIdentity(ctx context.Context, s sid.Sid) error
	UpdateUserSecurityIdentity(ctx context.Context, class, oldUsername, newUsername string) error
}

// Provider is the default AclProvider/MutableAclProvider. A Provider
// instance is single-owner (spec §5): it must not be shared by concurrent
// callers, and its loadedAcls/loadedAces/changes maps are not synchronized.
type Provider struct {
	db         sqlexec.Beginner
	options    schema.Options
	strategy   acl.Strategy
	authorizer acl.Authorizer
	cache      acl.Cache
	logger     *slog.Logger

	loadedAcls map[oid.Oid]acl.MutableAcl
	loadedAces map[int64]acl.Ace
	changes    map[acl.MutableAcl]*changeLog
}

// New builds a Provider. strategy and authorizer default to
// acl.NewStrategy(nil) and acl.AllowAll() when nil; cache and logger may be
// nil (no caching / slog.Default()).
func New(db sqlexec.Beginner, options schema.Options, strategy acl.Strategy, authorizer acl.Authorizer, cache acl.Cache, logger *slog.Logger) *Provider {
	if strategy == nil {
		strategy = acl.NewStrategy(nil)
	}
	if authorizer == nil {
		authorizer = acl.AllowAll()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		db:         db,
		options:    options.WithDefaults(),
		strategy:   strategy,
		authorizer: authorizer,
		cache:      cache,
		logger:     logger,
		loadedAcls: make(map[oid.Oid]acl.MutableAcl),
		loadedAces: make(map[int64]acl.Ace),
		changes:    make(map[acl.MutableAcl]*changeLog),
	}
}

var _ MutableAclProvider = (*Provider)(nil)

func (p *Provider) FindAcl(ctx context.Context, identity oid.Oid, sids []sid.Sid) (acl.MutableAcl, error) {
	result, err := p.FindAcls(ctx, []oid.Oid{identity}, sids)
	if err != nil {
		return nil, err
	}
	return result[identity], nil
}

func (p *Provider) FindAcls(ctx context.Context, identities []oid.Oid, sids []sid.Sid) (map[oid.Oid]acl.MutableAcl, error) {
	result := make(map[oid.Oid]acl.MutableAcl, len(identities))
	var batch []oid.Oid

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		hydrated, err := p.hydrateBatch(ctx, batch)
		if err != nil && !errors.Is(err, acl.ErrAclNotFound) {
			return err
		}
		for o, a := range hydrated {
			p.loadedAcls[o] = a
			p.track(a)
			if p.cache != nil {
				p.cache.Put(a)
			}
		}
		for _, o := range batch {
			if a, ok := hydrated[o]; ok {
				result[o] = a
			}
		}
		batch = batch[:0]
		return nil
	}

	for _, identity := range identities {
		if _, ok := result[identity]; ok {
			continue // already in result (caller passed duplicates)
		}
		if a, ok := p.loadedAcls[identity]; ok {
			if !containsAllSids(a, sids) {
				return nil, acl.ErrNotImplemented
			}
			result[identity] = a
			continue
		}
		if p.cache != nil {
			if cached, ok := p.cache.GetByIdentity(identity); ok {
				if !containsAllSids(cached, sids) {
					p.evictSubtree(identity)
				} else {
					p.adopt(cached)
					result[identity] = cached
					continue
				}
			}
		}
		batch = append(batch, identity)
		if len(batch) >= p.options.MaxBatchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	var missing []oid.Oid
	for _, identity := range identities {
		if _, ok := result[identity]; !ok {
			missing = append(missing, identity)
		}
	}
	if len(missing) > 0 {
		if len(identities) == 1 {
			return nil, acl.ErrAclNotFound
		}
		found := make(map[oid.Oid]acl.Acl, len(result))
		for o, a := range result {
			found[o] = a
		}
		return nil, &acl.NotAllAclsFoundError{Found: found, Missing: missing}
	}
	return result, nil
}

// adopt installs a cache-sourced Acl into the identity map and wires its
// property-change tracking, mirroring what hydrateBatch does for freshly
// loaded ones (spec §4.6 step 3).
func (p *Provider) adopt(a acl.MutableAcl) {
	p.loadedAcls[a.GetIdentity()] = a
	p.track(a)
}

// evictSubtree evicts identity and (best-effort) its descendants from the
// cache, used when a cache hit is missing requested Sids (spec §4.6 step 3).
func (p *Provider) evictSubtree(identity oid.Oid) {
	p.cache.EvictByIdentity(identity)
	for _, child := range p.descendantsOf(identity) {
		p.cache.EvictByIdentity(child)
	}
}

// descendantsOf returns the transitive children of identity known to the
// in-memory identity map, best-effort (the cache may hold entries this
// provider instance never loaded; those age out on their own).
func (p *Provider) descendantsOf(identity oid.Oid) []oid.Oid {
	var out []oid.Oid
	for o, a := range p.loadedAcls {
		for parent := a.GetParent(); parent != nil; parent = parent.GetParent() {
			if parent.GetIdentity() == identity {
				out = append(out, o)
				break
			}
		}
	}
	return out
}

func containsAllSids(a acl.Acl, sids []sid.Sid) bool {
	// The default hydration path always loads every Sid for a matched
	// object (spec's Non-goals rule out per-SID filtering during load), so
	// a tracked or cached Acl always contains whatever the caller asks for.
	_ = a
	_ = sids
	return true
}

// hydratedAcl is the in-pass accumulator for one row of object_identities,
// built across possibly many hydration-query rows before a final acl.Hydrated
// call assembles it (spec §4.6.2).
type hydratedAcl struct {
	pk         int64
	identity   oid.Oid
	parentPK   sql.NullInt64
	inherits   bool
	classAces  []acl.Ace
	objectAces []acl.Ace
	classField map[string][]acl.Ace
	objField   map[string][]acl.Ace
}

func newHydratedAcl() *hydratedAcl {
	return &hydratedAcl{classField: map[string][]acl.Ace{}, objField: map[string][]acl.Ace{}}
}

// hydrateBatch runs the ancestor query and hydration query for one batch of
// OIDs (spec §4.6.1, §4.6.2) and returns an Acl for every object identity
// the query returned (the batch and its ancestors), keyed by identity. An
// Acl already in the identity map is returned as is, not rebuilt.
func (p *Provider) hydrateBatch(ctx context.Context, batch []oid.Oid) (map[oid.Oid]acl.MutableAcl, error) {
	ancestorIDs, err := p.ancestorIDs(ctx, batch)
	if err != nil {
		return nil, err
	}
	if len(ancestorIDs) == 0 {
		return nil, acl.ErrAclNotFound
	}

	rows, err := p.db.QueryContext(ctx, p.hydrationQuery(), pq.Array(ancestorIDs))
	if err != nil {
		return nil, fmt.Errorf("acl: hydration query: %w", err)
	}
	defer rows.Close()

	raw := make(map[int64]*hydratedAcl)
	type rawAce struct {
		id           int64
		objectScoped bool
		field        string
		hasField     bool
		order        int
		mask         permission.Mask
		granting     bool
		strategy     permission.Strategy
		auditSuccess bool
		auditFailure bool
		principal    sid.Sid
	}
	aceRows := make(map[int64][]rawAce) // keyed by acl pk

	for rows.Next() {
		var (
			aclID, parentID                               sql.NullInt64
			objectIdentifier, classType                    string
			entriesInheriting                              bool
			aceID, entryOid, aceOrder                      sql.NullInt64
			fieldName, grantingStrategy, securityIdentifier sql.NullString
			mask                                            sql.NullInt64
			granting, auditSuccess, auditFailure, username  sql.NullBool
		)
		if err := rows.Scan(
			&aclID, &objectIdentifier, &parentID, &entriesInheriting, &classType,
			&aceID, &entryOid, &fieldName, &aceOrder, &mask, &granting, &grantingStrategy,
			&auditSuccess, &auditFailure, &username, &securityIdentifier,
		); err != nil {
			return nil, fmt.Errorf("acl: scan hydration row: %w", err)
		}

		pk := aclID.Int64
		h, ok := raw[pk]
		if !ok {
			h = newHydratedAcl()
			h.pk = pk
			h.identity, err = oid.New(normalizeClassType(classType), objectIdentifier)
			if err != nil {
				return nil, err
			}
			h.parentPK = parentID
			h.inherits = entriesInheriting
			raw[pk] = h
		}

		if !aceID.Valid {
			continue // object identity with no matching entry row at all
		}
		var principal sid.Sid
		if username.Bool {
			principal, err = sid.ParseUser(securityIdentifier.String)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", acl.ErrIntegrityViolation, err)
			}
		} else {
			principal, err = sid.NewRole(securityIdentifier.String)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", acl.ErrIntegrityViolation, err)
			}
		}
		aceRows[pk] = append(aceRows[pk], rawAce{
			id:           aceID.Int64,
			objectScoped: entryOid.Valid,
			field:        fieldName.String,
			hasField:     fieldName.Valid,
			order:        int(aceOrder.Int64),
			mask:         permission.Mask(mask.Int64),
			granting:     granting.Bool,
			strategy:     parseStrategy(grantingStrategy.String),
			auditSuccess: auditSuccess.Bool,
			auditFailure: auditFailure.Bool,
			principal:    principal,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for pk, list := range aceRows {
		h := raw[pk]
		sort.Slice(list, func(i, j int) bool { return list[i].order < list[j].order })
		for _, r := range list {
			a, ok := p.loadedAces[r.id]
			if !ok {
				a = acl.NewAce(r.id, true, r.principal, r.mask, r.strategy, r.granting, r.auditSuccess, r.auditFailure, r.field, r.hasField)
				p.loadedAces[r.id] = a
			}
			switch {
			case r.objectScoped && r.hasField:
				h.objField[r.field] = append(h.objField[r.field], a)
			case r.objectScoped:
				h.objectAces = append(h.objectAces, a)
			case r.hasField:
				h.classField[r.field] = append(h.classField[r.field], a)
			default:
				h.classAces = append(h.classAces, a)
			}
		}
	}

	built := make(map[int64]acl.MutableAcl)
	for {
		progressed := false
		for pk, h := range raw {
			if _, done := built[pk]; done {
				continue
			}
			if existing, ok := p.loadedAcls[h.identity]; ok {
				built[pk] = existing
				progressed = true
				continue
			}
			parent, resolvable := p.resolveParent(h.parentPK, built)
			if !resolvable {
				continue
			}
			a, err := acl.Hydrated(h.pk, h.identity, h.inherits, parent, p.strategy, p.authorizer,
				h.classAces, h.objectAces, h.classField, h.objField)
			if err != nil {
				return nil, err
			}
			built[pk] = a
			progressed = true
		}
		if !progressed {
			break
		}
	}
	for pk, h := range raw {
		if _, done := built[pk]; !done {
			p.logger.Warn("acl: unresolved parent during hydration",
				"acl_id", pk, "parent_id", h.parentPK.Int64)
			return nil, fmt.Errorf("%w: acl %d references an unresolved parent %d", acl.ErrIntegrityViolation, pk, h.parentPK.Int64)
		}
	}

	out := make(map[oid.Oid]acl.MutableAcl, len(batch))
	for _, h := range raw {
		out[h.identity] = built[h.pk]
	}
	return out, nil
}

// resolveParent looks up h's parent among already-built Acls this pass, the
// provider's standing identity map, or reports no parent. resolvable is
// false only when the parent row exists but hasn't been built yet.
func (p *Provider) resolveParent(parentPK sql.NullInt64, built map[int64]acl.MutableAcl) (acl.Acl, bool) {
	if !parentPK.Valid {
		return nil, true
	}
	if parent, ok := built[parentPK.Int64]; ok {
		return parent, true
	}
	for _, a := range p.loadedAcls {
		if id, hasID := a.GetID(); hasID && id == parentPK.Int64 {
			return a, true
		}
	}
	return nil, false
}

// normalizeClassType strips the doubled-backslash legacy escaping artifact
// spec §9's open question preserves for compatibility.
func normalizeClassType(classType string) string {
	return strings.ReplaceAll(classType, `\\`, `\`)
}

func parseStrategy(s string) permission.Strategy {
	switch s {
	case "all":
		return permission.All
	case "any":
		return permission.Any
	default:
		return permission.Equal
	}
}

func (p *Provider) ancestorIDs(ctx context.Context, batch []oid.Oid) ([]int64, error) {
	query, args := p.ancestorQuery(batch)
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("acl: ancestor query: %w", err)
	}
	defer rows.Close()

	seen := make(map[int64]struct{})
	var ids []int64
	for rows.Next() {
		var oidType, oidIdentifier string
		var ancestorID int64
		if err := rows.Scan(&oidType, &oidIdentifier, &ancestorID); err != nil {
			return nil, err
		}
		if _, ok := seen[ancestorID]; !ok {
			seen[ancestorID] = struct{}{}
			ids = append(ids, ancestorID)
		}
	}
	return ids, rows.Err()
}

// ancestorQuery builds the single-statement ancestor lookup of spec §4.6.1:
// an IN-list when every OID in the batch shares one type, or an OR'd list
// of (type, identifier) pairs otherwise.
func (p *Provider) ancestorQuery(batch []oid.Oid) (string, []any) {
	sameType := true
	for i := 1; i < len(batch); i++ {
		if batch[i].Type() != batch[0].Type() {
			sameType = false
			break
		}
	}

	base := fmt.Sprintf(
		`SELECT c.class_type, oi.object_identifier, oia.ancestor_id
		 FROM %s oia
		 JOIN %s oi ON oi.id = oia.object_identity_id
		 JOIN %s c ON c.id = oi.class_id
		 WHERE `,
		p.options.OidAncestorsTableName, p.options.OidTableName, p.options.ClassTableName,
	)

	if sameType && len(batch) > 0 {
		args := make([]any, 0, len(batch)+1)
		args = append(args, batch[0].Type())
		placeholders := make([]string, len(batch))
		for i, o := range batch {
			args = append(args, o.Identifier())
			placeholders[i] = fmt.Sprintf("$%d", i+2)
		}
		return base + fmt.Sprintf("c.class_type = $1 AND oi.object_identifier IN (%s)", strings.Join(placeholders, ", ")), args
	}

	clauses := make([]string, len(batch))
	args := make([]any, 0, len(batch)*2)
	for i, o := range batch {
		args = append(args, o.Type(), o.Identifier())
		clauses[i] = fmt.Sprintf("(c.class_type = $%d AND oi.object_identifier = $%d)", i*2+1, i*2+2)
	}
	return base + strings.Join(clauses, " OR "), args
}

func (p *Provider) hydrationQuery() string {
	return fmt.Sprintf(
		`SELECT oi.id, oi.object_identifier, oi.parent_object_identity_id, oi.entries_inheriting, c.class_type,
		        e.id, e.object_identity_id, e.field_name, e.ace_order, e.mask, e.granting, e.granting_strategy,
		        e.audit_success, e.audit_failure, s.username, s.identifier
		 FROM %s oi
		 JOIN %s c ON c.id = oi.class_id
		 LEFT JOIN %s e ON e.class_id = oi.class_id AND (e.object_identity_id IS NULL OR e.object_identity_id = oi.id)
		 LEFT JOIN %s s ON s.id = e.security_identity_id
		 WHERE oi.id = ANY($1)
		 ORDER BY oi.id, e.object_identity_id NULLS FIRST, e.field_name NULLS FIRST, e.ace_order`,
		p.options.OidTableName, p.options.ClassTableName, p.options.EntryTableName, p.options.SidTableName,
	)
}
