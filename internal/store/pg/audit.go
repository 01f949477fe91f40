package pg

import (
	"context"
	"fmt"

	"konsol.org/internal/identity"
)

var _ identity.AuditStore = (*Store)(nil)

// Append writes one attempt record. The table is insert-only; there is no
// update or delete path anywhere in this package.
func (s *Store) Append(ctx context.Context, rec *identity.AuditRecord) error {
	if s.db == nil {
		return fmt.Errorf("%w: database connection unavailable", identity.ErrUnavailable)
	}
	if rec == nil {
		return fmt.Errorf("%w: record is required", identity.ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_records (
			id, occurred_at, actor_id, target_id,
			prior_role, requested_role, outcome, diagnostic
		)
		values ($1, $2, $3, $4, nullif($5, ''), $6, $7, nullif($8, ''))
	`,
		rec.ID, rec.OccurredAt, rec.ActorID, rec.TargetID,
		string(rec.PriorRole), string(rec.RequestedRole), string(rec.Outcome), rec.Diagnostic,
	)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return identity.ErrConflict
		}
		return err
	}
	return nil
}

// ListByTarget returns the newest attempts against one account.
func (s *Store) ListByTarget(ctx context.Context, targetID string, limit int) ([]identity.AuditRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("%w: database connection unavailable", identity.ErrUnavailable)
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, occurred_at, actor_id, target_id,
			coalesce(prior_role, ''), requested_role, outcome, coalesce(diagnostic, '')
		from audit_records
		where target_id = $1
		order by occurred_at desc, id desc
		limit $2
	`, targetID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []identity.AuditRecord
	for rows.Next() {
		var (
			rec                       identity.AuditRecord
			prior, requested, outcome string
		)
		err := rows.Scan(
			&rec.ID, &rec.OccurredAt, &rec.ActorID, &rec.TargetID,
			&prior, &requested, &outcome, &rec.Diagnostic,
		)
		if err != nil {
			return nil, err
		}
		rec.PriorRole = identity.Role(prior)
		rec.RequestedRole = identity.Role(requested)
		rec.Outcome = identity.Outcome(outcome)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
