package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Upsert inserts the credential or refreshes the stored tokens for an
// account that reconnects. One credential per account.
func (r *PGRepository) Upsert(ctx context.Context, cred *Credential) error {
	query := `
		INSERT INTO credentials (id, account_id, access_token, refresh_token, scheduling_url, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (account_id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			scheduling_url = EXCLUDED.scheduling_url,
			expires_at = EXCLUDED.expires_at,
			updated_at = now()
		RETURNING id, created_at, updated_at`

	err := r.pool.QueryRow(ctx, query,
		cred.ID, cred.AccountID, cred.AccessToken, cred.RefreshToken,
		cred.SchedulingURL, cred.ExpiresAt,
	).Scan(&cred.ID, &cred.CreatedAt, &cred.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

func (r *PGRepository) GetByAccount(ctx context.Context, accountID string) (*Credential, error) {
	query := `
		SELECT id, account_id, access_token, refresh_token, scheduling_url, expires_at, created_at, updated_at
		FROM credentials
		WHERE account_id = $1`

	var cred Credential
	err := r.pool.QueryRow(ctx, query, accountID).Scan(
		&cred.ID, &cred.AccountID, &cred.AccessToken, &cred.RefreshToken,
		&cred.SchedulingURL, &cred.ExpiresAt, &cred.CreatedAt, &cred.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotConnected
		}
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return &cred, nil
}

func (r *PGRepository) Delete(ctx context.Context, accountID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM credentials WHERE account_id = $1`, accountID)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}
