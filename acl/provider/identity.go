package provider

import (
	"context"
	"fmt"

	"github.com/streamtune/acl"
	"github.com/streamtune/acl/acl/internal/sqlexec"
	"github.com/streamtune/acl/sid"
)

// upsertSid resolves s to its security_identities row id, inserting it if
// this is the first time it's referenced by an ACE.
func (p *Provider) upsertSid(ctx context.Context, tx sqlexec.Tx, s sid.Sid) (int64, error) {
	identifier := s.String()
	username := s.IsUser()
	var id int64
	row := tx.QueryRowContext(ctx,
		fmt.Sprintf(`INSERT INTO %s(identifier, username) VALUES ($1, $2)
		             ON CONFLICT (identifier, username) DO UPDATE SET identifier = EXCLUDED.identifier
		             RETURNING id`, p.options.SidTableName),
		identifier, username,
	)
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("acl: upsert security identity: %w", err)
	}
	return id, nil
}

// DeleteSecurityIdentity removes s's security_identities row; ACEs
// referencing it are removed by the foreign key cascade (spec §4.7,
// "Security-identity maintenance").
func (p *Provider) DeleteSecurityIdentity(ctx context.Context, s sid.Sid) error {
	return sqlexec.WithTransaction(ctx, p.db, func(ctx context.Context, tx sqlexec.Tx) error {
		res, err := tx.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE identifier = $1 AND username = $2`, p.options.SidTableName),
			s.String(), s.IsUser(),
		)
		if err != nil {
			return fmt.Errorf("acl: delete security identity: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: no security identity %q", acl.ErrInvalidArgument, s.String())
		}
		return nil
	})
}

// UpdateUserSecurityIdentity rewrites a User sid's stored identifier from
// "{class}-{oldUsername}" to "{class}-{newUsername}". Rejects equal old and
// new usernames (spec §4.7).
func (p *Provider) UpdateUserSecurityIdentity(ctx context.Context, class, oldUsername, newUsername string) error {
	if oldUsername == newUsername {
		return fmt.Errorf("%w: old and new usernames are identical", acl.ErrInvalidArgument)
	}
	oldSid, err := sid.NewUser(class, oldUsername)
	if err != nil {
		return err
	}
	newSid, err := sid.NewUser(class, newUsername)
	if err != nil {
		return err
	}
	return sqlexec.WithTransaction(ctx, p.db, func(ctx context.Context, tx sqlexec.Tx) error {
		res, err := tx.ExecContext(ctx,
			fmt.Sprintf(`UPDATE %s SET identifier = $1 WHERE identifier = $2 AND username = true`, p.options.SidTableName),
			newSid.String(), oldSid.String(),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %q is already in use", acl.ErrInvalidArgument, newSid.String())
			}
			return fmt.Errorf("acl: update security identity: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: no security identity %q", acl.ErrInvalidArgument, oldSid.String())
		}
		return nil
	})
}
