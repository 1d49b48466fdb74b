package provider

import (
	"context"
	"fmt"

	"github.com/streamtune/acl/acl/internal/sqlexec"
	"github.com/streamtune/acl/oid"
)

// FindChildren implements spec §4.6's two query variants: direct children
// via parent_object_identity_id, or the full transitive set via the
// ancestor-closure table.
func (p *Provider) FindChildren(ctx context.Context, identity oid.Oid, directOnly bool) ([]oid.Oid, error) {
	pk, err := p.lookupPK(ctx, p.db, identity)
	if err != nil {
		return nil, err
	}
	return p.children(ctx, p.db, pk, directOnly)
}

func (p *Provider) children(ctx context.Context, ex sqlexec.Executor, pk int64, directOnly bool) ([]oid.Oid, error) {
	var query string
	if directOnly {
		query = fmt.Sprintf(
			`SELECT c.class_type, oi.object_identifier FROM %s oi JOIN %s c ON c.id = oi.class_id WHERE oi.parent_object_identity_id = $1`,
			p.options.OidTableName, p.options.ClassTableName)
	} else {
		query = fmt.Sprintf(
			`SELECT c.class_type, oi.object_identifier FROM %s oi
			 JOIN %s c ON c.id = oi.class_id
			 JOIN %s anc ON anc.object_identity_id = oi.id
			 WHERE anc.ancestor_id = $1 AND oi.id != $1`,
			p.options.OidTableName, p.options.ClassTableName, p.options.OidAncestorsTableName)
	}
	rows, err := ex.QueryContext(ctx, query, pk)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []oid.Oid
	for rows.Next() {
		var classType, identifier string
		if err := rows.Scan(&classType, &identifier); err != nil {
			return nil, err
		}
		o, err := oid.New(normalizeClassType(classType), identifier)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
