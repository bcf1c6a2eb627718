package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"relay/internal/store"
)

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) UpsertCredential(ctx context.Context, c store.Credential) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO installations (team_id, access_token, refresh_token, expires_at, scope, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (team_id) DO UPDATE SET
			access_token=EXCLUDED.access_token,
			refresh_token=EXCLUDED.refresh_token,
			expires_at=EXCLUDED.expires_at,
			scope=EXCLUDED.scope,
			updated_at=EXCLUDED.updated_at
	`, c.TenantID, c.AccessToken, nullIfEmpty(c.RefreshToken), nullIfZero(c.ExpiresAt), nullIfEmpty(c.Scope), c.UpdatedAt)
	return err
}

func (s *Store) GetCredential(ctx context.Context, tenantID string) (store.Credential, bool, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT team_id, access_token, COALESCE(refresh_token,''), expires_at, COALESCE(scope,''), updated_at
		FROM installations WHERE team_id=$1
	`, tenantID)

	var c store.Credential
	var expiresAt *time.Time
	err := row.Scan(&c.TenantID, &c.AccessToken, &c.RefreshToken, &expiresAt, &c.Scope, &c.UpdatedAt)
	if err != nil {
		if err.Error() == "no rows in result set" {
			return store.Credential{}, false, nil
		}
		return store.Credential{}, false, err
	}
	if expiresAt != nil {
		c.ExpiresAt = *expiresAt
	}
	return c, true, nil
}

func (s *Store) InsertDelivery(ctx context.Context, in store.DeliveryInsert) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO scheduled_messages (id, team_id, channel, body, not_before, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,'pending',$6,$6)
	`, in.ID, in.TenantID, in.Destination, in.Body, in.NotBefore, in.Now)
	return err
}

func (s *Store) GetDelivery(ctx context.Context, id string) (store.ScheduledDelivery, bool, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT id, team_id, channel, body, not_before, status, COALESCE(fail_reason,''), created_at, updated_at
		FROM scheduled_messages WHERE id=$1
	`, id)
	var d store.ScheduledDelivery
	err := row.Scan(&d.ID, &d.TenantID, &d.Destination, &d.Body, &d.NotBefore, &d.Status, &d.FailReason, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if err.Error() == "no rows in result set" {
			return store.ScheduledDelivery{}, false, nil
		}
		return store.ScheduledDelivery{}, false, err
	}
	return d, true, nil
}

// DueDeliveries returns every pending row whose not_before has elapsed.
func (s *Store) DueDeliveries(ctx context.Context, now time.Time) ([]store.ScheduledDelivery, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, team_id, channel, body, not_before, status, COALESCE(fail_reason,''), created_at, updated_at
		FROM scheduled_messages
		WHERE status='pending' AND not_before <= $1
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.ScheduledDelivery
	for rows.Next() {
		var d store.ScheduledDelivery
		if err := rows.Scan(&d.ID, &d.TenantID, &d.Destination, &d.Body, &d.NotBefore, &d.Status, &d.FailReason, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// MarkDeliveryStatus flips a pending row to its terminal status. It
// reports false when the row was already settled (overlapping scan or a
// racing cancel), in which case nothing was written.
func (s *Store) MarkDeliveryStatus(ctx context.Context, in store.DeliveryStatusUpdate) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE scheduled_messages
		SET status=$2, fail_reason=$3, updated_at=$4
		WHERE id=$1 AND status='pending'
	`, in.ID, in.Status, nullIfEmpty(in.FailReason), in.Now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// DeletePendingDelivery cancels a delivery. A row that already reached a
// terminal status is not deletable; the caller sees false.
func (s *Store) DeletePendingDelivery(ctx context.Context, id string) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		DELETE FROM scheduled_messages WHERE id=$1 AND status='pending'
	`, id)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) ListPendingByTenant(ctx context.Context, tenantID string) ([]store.ScheduledDelivery, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, team_id, channel, body, not_before, status, COALESCE(fail_reason,''), created_at, updated_at
		FROM scheduled_messages
		WHERE team_id=$1 AND status='pending'
		ORDER BY not_before
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.ScheduledDelivery
	for rows.Next() {
		var d store.ScheduledDelivery
		if err := rows.Scan(&d.ID, &d.TenantID, &d.Destination, &d.Body, &d.NotBefore, &d.Status, &d.FailReason, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
