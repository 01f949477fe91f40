package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"konsol.org/internal/identity"
)

var _ identity.UserStore = (*Store)(nil)

const userColumns = `id, organization_id, email, display_name, role, active,
	coalesce(external_id, ''), directory_pending, directory_synced_at,
	row_version, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*identity.UserAccount, error) {
	var (
		u        identity.UserAccount
		role     string
		syncedAt sql.NullTime
	)
	err := row.Scan(
		&u.ID, &u.OrganizationID, &u.Email, &u.DisplayName, &role, &u.Active,
		&u.ExternalID, &u.DirectoryPending, &syncedAt,
		&u.RowVersion, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.Role = identity.Role(role)
	if syncedAt.Valid {
		t := syncedAt.Time
		u.DirectorySyncedAt = &t
	}
	return &u, nil
}

func (s *Store) Find(ctx context.Context, id string) (*identity.UserAccount, error) {
	if s.db == nil {
		return nil, fmt.Errorf("%w: database connection unavailable", identity.ErrUnavailable)
	}
	row := s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from user_accounts
		where id = $1
	`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*identity.UserAccount, error) {
	if s.db == nil {
		return nil, fmt.Errorf("%w: database connection unavailable", identity.ErrUnavailable)
	}
	row := s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from user_accounts
		where email = $1
	`, strings.ToLower(strings.TrimSpace(email)))
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) Create(ctx context.Context, account *identity.UserAccount) error {
	if s.db == nil {
		return fmt.Errorf("%w: database connection unavailable", identity.ErrUnavailable)
	}
	if account == nil {
		return fmt.Errorf("%w: account is required", identity.ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
		insert into user_accounts (
			id, organization_id, email, display_name, role, active,
			external_id, directory_pending, row_version
		)
		values ($1, $2, $3, $4, $5, $6, nullif($7, ''), $8, 1)
	`,
		account.ID, account.OrganizationID, account.Email, account.DisplayName,
		string(account.Role), account.Active, account.ExternalID, account.DirectoryPending,
	)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return identity.ErrConflict
			case pgErrForeignKeyViolation:
				return fmt.Errorf("%w: organization %s", identity.ErrNotFound, account.OrganizationID)
			}
		}
		return err
	}
	return nil
}

// UpdateRole commits the new role only when the row version still matches,
// so two concurrent transitions against the same account serialize here: the
// second writer sees zero affected rows and gets ErrConflict.
func (s *Store) UpdateRole(ctx context.Context, id string, newRole identity.Role, expectedVersion int64) (*identity.UserAccount, error) {
	if s.db == nil {
		return nil, fmt.Errorf("%w: database connection unavailable", identity.ErrUnavailable)
	}
	row := s.db.QueryRowContext(ctx, `
		update user_accounts
		set role = $2, row_version = row_version + 1, updated_at = now()
		where id = $1 and row_version = $3 and active
		returning `+userColumns+`
	`, id, string(newRole), expectedVersion)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		// Distinguish a lost race from a missing account.
		var exists bool
		probeErr := s.db.QueryRowContext(ctx, `
			select exists(select 1 from user_accounts where id = $1 and active)
		`, id).Scan(&exists)
		if probeErr != nil {
			return nil, probeErr
		}
		if exists {
			return nil, identity.ErrConflict
		}
		return nil, identity.ErrNotFound
	}
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrSerializationFail {
			return nil, identity.ErrConflict
		}
		return nil, err
	}
	return u, nil
}

func (s *Store) SetDirectoryState(ctx context.Context, id, externalID string, pending bool) error {
	if s.db == nil {
		return fmt.Errorf("%w: database connection unavailable", identity.ErrUnavailable)
	}
	res, err := s.db.ExecContext(ctx, `
		update user_accounts
		set external_id = coalesce(nullif($2, ''), external_id),
			directory_pending = $3,
			directory_synced_at = case when $3 then directory_synced_at else now() end,
			updated_at = now()
		where id = $1
	`, id, externalID, pending)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func (s *Store) ListDirectoryPending(ctx context.Context, limit int) ([]*identity.UserAccount, error) {
	if s.db == nil {
		return nil, fmt.Errorf("%w: database connection unavailable", identity.ErrUnavailable)
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+userColumns+`
		from user_accounts
		where directory_pending and active
		order by updated_at asc
		limit $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*identity.UserAccount
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
