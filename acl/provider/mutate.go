package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/streamtune/acl"
	"github.com/streamtune/acl/acl/internal/sqlexec"
	"github.com/streamtune/acl/oid"
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pq.Error
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// CreateAcl implements spec §4.7's createAcl: fails with
// acl.ErrAclAlreadyExists if identity already has a row; otherwise inserts
// the class (upsert), the object identity, and the self-ancestor row, then
// re-reads through FindAcl for a freshly hydrated, listener-attached Acl.
func (p *Provider) CreateAcl(ctx context.Context, identity oid.Oid) (acl.MutableAcl, error) {
	err := sqlexec.WithTransaction(ctx, p.db, func(ctx context.Context, tx sqlexec.Tx) error {
		classID, err := p.upsertClass(ctx, tx, identity.Type())
		if err != nil {
			return err
		}
		var pk int64
		row := tx.QueryRowContext(ctx,
			fmt.Sprintf(`INSERT INTO %s(class_id, object_identifier, parent_object_identity_id, entries_inheriting)
			             VALUES ($1, $2, NULL, true) RETURNING id`, p.options.OidTableName),
			classID, identity.Identifier(),
		)
		if err := row.Scan(&pk); err != nil {
			if isUniqueViolation(err) {
				return acl.ErrAclAlreadyExists
			}
			return fmt.Errorf("acl: insert object identity: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s(object_identity_id, ancestor_id) VALUES ($1, $1)`, p.options.OidAncestorsTableName),
			pk,
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p.FindAcl(ctx, identity, nil)
}

func (p *Provider) upsertClass(ctx context.Context, tx sqlexec.Tx, classType string) (int64, error) {
	var id int64
	row := tx.QueryRowContext(ctx,
		fmt.Sprintf(`INSERT INTO %s(class_type) VALUES ($1)
		             ON CONFLICT (class_type) DO UPDATE SET class_type = EXCLUDED.class_type
		             RETURNING id`, p.options.ClassTableName),
		classType,
	)
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("acl: upsert class: %w", err)
	}
	return id, nil
}

// DeleteAcl implements spec §4.7's deleteAcl: recursively deletes direct
// children first, then this OID's object-scope entries, ancestor-closure
// rows and object-identity row, all in one transaction. In-memory cleanup
// (identity map, change log, cache) happens after commit.
func (p *Provider) DeleteAcl(ctx context.Context, identity oid.Oid) error {
	var deleted []oid.Oid
	err := sqlexec.WithTransaction(ctx, p.db, func(ctx context.Context, tx sqlexec.Tx) error {
		return p.deleteAclTx(ctx, tx, identity, &deleted)
	})
	if err != nil {
		return err
	}
	for _, o := range deleted {
		if a, ok := p.loadedAcls[o]; ok {
			p.forget(a)
		}
		delete(p.loadedAcls, o)
		if p.cache != nil {
			p.cache.EvictByIdentity(o)
		}
	}
	return nil
}

func (p *Provider) deleteAclTx(ctx context.Context, tx sqlexec.Tx, identity oid.Oid, deleted *[]oid.Oid) error {
	pk, err := p.lookupPK(ctx, tx, identity)
	if err != nil {
		return err
	}
	children, err := p.children(ctx, tx, pk, true)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := p.deleteAclTx(ctx, tx, child, deleted); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE object_identity_id = $1`, p.options.EntryTableName), pk); err != nil {
		return fmt.Errorf("acl: delete entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE object_identity_id = $1`, p.options.OidAncestorsTableName), pk); err != nil {
		return fmt.Errorf("acl: delete ancestor rows: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, p.options.OidTableName), pk); err != nil {
		return fmt.Errorf("acl: delete object identity: %w", err)
	}
	*deleted = append(*deleted, identity)
	return nil
}

// UpdateAcl implements spec §4.7's updateAcl. Fails with
// acl.ErrInvalidArgument if a is not tracked; no-ops if a has no recorded
// changes.
func (p *Provider) UpdateAcl(ctx context.Context, a acl.MutableAcl) error {
	log, ok := p.changes[a]
	if !ok {
		return fmt.Errorf("%w: acl is not tracked by this provider", acl.ErrInvalidArgument)
	}
	if !log.dirty() {
		return nil
	}
	pk, hasID := a.GetID()
	if !hasID {
		return fmt.Errorf("%w: acl has never been persisted", acl.ErrInvalidArgument)
	}

	sharedChanged := false
	var reparented bool

	err := sqlexec.WithTransaction(ctx, p.db, func(ctx context.Context, tx sqlexec.Tx) error {
		var setClauses []string
		var args []any
		argN := 1
		next := func(v any) string {
			args = append(args, v)
			argN++
			return fmt.Sprintf("$%d", argN-1)
		}

		if c, ok := log.props["entriesInheriting"]; ok {
			setClauses = append(setClauses, fmt.Sprintf("entries_inheriting = %s", next(c.new)))
		}
		if c, ok := log.props["parentAcl"]; ok {
			reparented = true
			var parentID any
			if parent, ok := c.new.(acl.Acl); ok && parent != nil {
				if id, has := parentIDOf(parent); has {
					parentID = id
				}
			}
			setClauses = append(setClauses, fmt.Sprintf("parent_object_identity_id = %s", next(parentID)))
		}

		if c, ok := log.props["classAces"]; ok {
			sharedChanged = true
			if err := p.syncList(ctx, tx, a, pk, acl.Class, "", c); err != nil {
				return err
			}
			if err := p.propagateSharedChange(a, "", c); err != nil {
				return err
			}
		}
		if c, ok := log.props["objectAces"]; ok {
			if err := p.syncList(ctx, tx, a, pk, acl.Object, "", c); err != nil {
				return err
			}
		}
		for name, c := range log.props {
			if field, ok := cutPrefix(name, "classFieldAces["); ok {
				sharedChanged = true
				if err := p.syncList(ctx, tx, a, pk, acl.Class, field, c); err != nil {
					return err
				}
				if err := p.propagateSharedChange(a, field, c); err != nil {
					return err
				}
				continue
			}
			if field, ok := cutPrefix(name, "objectFieldAces["); ok {
				if err := p.syncList(ctx, tx, a, pk, acl.Object, field, c); err != nil {
					return err
				}
			}
		}

		for ace := range log.aces {
			id, _ := ace.GetID()
			if _, err := tx.ExecContext(ctx,
				fmt.Sprintf(`UPDATE %s SET mask=$1, granting_strategy=$2, audit_success=$3, audit_failure=$4 WHERE id=$5`, p.options.EntryTableName),
				int32(ace.GetMask()), ace.GetStrategy().String(), ace.IsAuditSuccess(), ace.IsAuditFailure(), id,
			); err != nil {
				return fmt.Errorf("acl: update ace %d: %w", id, err)
			}
		}

		if len(setClauses) > 0 {
			query := fmt.Sprintf("UPDATE %s SET ", p.options.OidTableName)
			for i, clause := range setClauses {
				if i > 0 {
					query += ", "
				}
				query += clause
			}
			query += fmt.Sprintf(" WHERE id = $%d", len(args)+1)
			args = append(args, pk)
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("acl: update object identity: %w", err)
			}
		}

		if reparented {
			if err := p.regenerateAncestry(ctx, tx, a); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if sharedChanged {
		if p.cache != nil {
			p.cache.Clear()
		}
	} else if p.cache != nil {
		p.cache.EvictByIdentity(a.GetIdentity())
	}
	p.forget(a)
	p.track(a)
	return nil
}

// propagateSharedChange implements spec §4.7 step 6: after a class-scope
// ACE list has been synced to storage, every other loadedAcls Acl sharing
// owner's type must see the same mutation, since classAces/classFieldAces
// are shared across all Acls of a type (spec §3). A sibling whose current
// list has already drifted from the snapshot recorded when the change was
// made means another writer committed a conflicting change first.
func (p *Provider) propagateSharedChange(owner acl.MutableAcl, field string, c trackedChange) error {
	oldList, _ := c.old.([]acl.Ace)
	newList, _ := c.new.([]acl.Ace)
	typ := owner.GetIdentity().Type()
	for identity, sibling := range p.loadedAcls {
		if sibling == owner || identity.Type() != typ {
			continue
		}
		var current []acl.Ace
		if field == "" {
			current = sibling.ClassAces()
		} else {
			current = sibling.ClassFieldAces(field)
		}
		if !aceListEqual(current, oldList) {
			return acl.ErrConcurrentModification
		}
		acl.SyncClassAces(sibling, field, newList)
	}
	return nil
}

// aceListEqual compares two Ace lists by value (order matters), ignoring
// the owning Acl back-reference so a sibling's copy of a shared list
// compares equal to the mutating Acl's copy.
func aceListEqual(a, b []acl.Ace) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !aceEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

func aceEqual(x, y acl.Ace) bool {
	xid, xHasID := x.GetID()
	yid, yHasID := y.GetID()
	if xHasID != yHasID || (xHasID && xid != yid) {
		return false
	}
	if !x.GetSid().Equals(y.GetSid()) {
		return false
	}
	if x.GetMask() != y.GetMask() || x.GetStrategy() != y.GetStrategy() {
		return false
	}
	if x.IsGranting() != y.IsGranting() || x.IsAuditSuccess() != y.IsAuditSuccess() || x.IsAuditFailure() != y.IsAuditFailure() {
		return false
	}
	xField, xHasField := x.GetField()
	yField, yHasField := y.GetField()
	return xHasField == yHasField && xField == yField
}

func cutPrefix(s, prefix string) (string, bool) {
	if len(s) <= len(prefix) || s[:len(prefix)] != prefix || s[len(s)-1] != ']' {
		return "", false
	}
	return s[len(prefix) : len(s)-1], true
}

func parentIDOf(a acl.Acl) (int64, bool) {
	if mutable, ok := a.(acl.MutableAcl); ok {
		return mutable.GetID()
	}
	return 0, false
}

// syncList applies spec §4.7 steps 3-5 for one ACE list: delete rows whose
// ACE disappeared, update the remaining rows (those whose order does not
// increase first, in ascending final order, then those whose order
// increases, in descending final order, so a row shifted by InsertAce or
// DeleteAce never lands on an order another row still holds), then insert
// new rows and assign their issued ids.
func (p *Provider) syncList(ctx context.Context, tx sqlexec.Tx, owner acl.MutableAcl, pk int64, section acl.Section, field string, change trackedChange) error {
	oldList, _ := change.old.([]acl.Ace)
	newList, _ := change.new.([]acl.Ace)

	oldByID := make(map[int64]int, len(oldList)) // id -> old index
	for i, a := range oldList {
		if id, ok := a.GetID(); ok {
			oldByID[id] = i
		}
	}
	newByID := make(map[int64]int) // id -> new index
	var toInsert []int             // indexes into newList with no id
	for i, a := range newList {
		if id, ok := a.GetID(); ok {
			newByID[id] = i
		} else {
			toInsert = append(toInsert, i)
		}
	}

	for id := range oldByID {
		if _, ok := newByID[id]; !ok {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, p.options.EntryTableName), id); err != nil {
				return fmt.Errorf("acl: delete ace %d: %w", id, err)
			}
		}
	}

	type update struct {
		index int
		ace   acl.Ace
	}
	var updates []update
	for _, idx := range newByID {
		updates = append(updates, update{index: idx, ace: newList[idx]})
	}
	increasing := func(u update) bool {
		id, _ := u.ace.GetID()
		old, ok := oldByID[id]
		return ok && u.index > old
	}
	before := func(x, y update) bool {
		if xUp, yUp := increasing(x), increasing(y); xUp != yUp {
			return yUp
		} else if xUp {
			return x.index > y.index
		}
		return x.index < y.index
	}
	for i := 0; i < len(updates); i++ {
		for j := i + 1; j < len(updates); j++ {
			if before(updates[j], updates[i]) {
				updates[i], updates[j] = updates[j], updates[i]
			}
		}
	}
	for _, u := range updates {
		id, _ := u.ace.GetID()
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`UPDATE %s SET mask=$1, granting=$2, granting_strategy=$3, ace_order=$4, audit_success=$5, audit_failure=$6 WHERE id=$7`, p.options.EntryTableName),
			int32(u.ace.GetMask()), u.ace.IsGranting(), u.ace.GetStrategy().String(), u.index, u.ace.IsAuditSuccess(), u.ace.IsAuditFailure(), id,
		); err != nil {
			return fmt.Errorf("acl: update ace %d: %w", id, err)
		}
	}

	classID, err := p.classID(ctx, tx, owner.GetIdentity().Type())
	if err != nil {
		return err
	}
	var objectID any
	if section == acl.Object {
		objectID = pk
	}
	var fieldName any
	if field != "" {
		fieldName = field
	}
	for _, idx := range toInsert {
		a := newList[idx]
		sidID, err := p.upsertSid(ctx, tx, a.GetSid())
		if err != nil {
			return err
		}
		var newID int64
		row := tx.QueryRowContext(ctx,
			fmt.Sprintf(`INSERT INTO %s(class_id, object_identity_id, security_identity_id, field_name, ace_order, mask, granting, granting_strategy, audit_success, audit_failure)
			             VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`, p.options.EntryTableName),
			classID, objectID, sidID, fieldName, idx, int32(a.GetMask()), a.IsGranting(), a.GetStrategy().String(), a.IsAuditSuccess(), a.IsAuditFailure(),
		)
		if err := row.Scan(&newID); err != nil {
			return fmt.Errorf("acl: insert ace: %w", err)
		}
		acl.AssignID(a, newID)
		p.loadedAces[newID] = a
	}
	return nil
}

func (p *Provider) classID(ctx context.Context, tx sqlexec.Tx, classType string) (int64, error) {
	var id int64
	row := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT id FROM %s WHERE class_type = $1`, p.options.ClassTableName), classType)
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("acl: lookup class %q: %w", classType, err)
	}
	return id, nil
}

// regenerateAncestry implements spec §4.7.1: replace this Acl's ancestor
// rows with the self row plus one row per ancestor in its current parent
// chain.
func (p *Provider) regenerateAncestry(ctx context.Context, tx sqlexec.Tx, a acl.MutableAcl) error {
	pk, _ := a.GetID()
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE object_identity_id = $1`, p.options.OidAncestorsTableName), pk); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s(object_identity_id, ancestor_id) VALUES ($1,$1)`, p.options.OidAncestorsTableName), pk); err != nil {
		return err
	}
	for parent := a.GetParent(); parent != nil; parent = parent.GetParent() {
		id, ok := parentIDOf(parent)
		if !ok {
			return fmt.Errorf("%w: parent acl was never persisted", acl.ErrIntegrityViolation)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s(object_identity_id, ancestor_id) VALUES ($1,$2)`, p.options.OidAncestorsTableName), pk, id); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) lookupPK(ctx context.Context, ex sqlexec.Executor, identity oid.Oid) (int64, error) {
	var pk int64
	row := ex.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT oi.id FROM %s oi JOIN %s c ON c.id = oi.class_id WHERE c.class_type = $1 AND oi.object_identifier = $2`,
			p.options.OidTableName, p.options.ClassTableName),
		identity.Type(), identity.Identifier(),
	)
	if err := row.Scan(&pk); err != nil {
		return 0, acl.ErrAclNotFound
	}
	return pk, nil
}

