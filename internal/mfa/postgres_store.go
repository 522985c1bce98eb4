package mfa

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const challengeColumns = `transfer_id, sender_account_id, code_hash, code_length, attempts,
	max_attempts, status, expires_at, verified_at, created_at, updated_at`

// PostgresStore persists challenges in PostgreSQL.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a PostgreSQL-backed challenge store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: sqlx.NewDb(db, "postgres")}
}

func (s *PostgresStore) Upsert(ctx context.Context, c *Challenge) error {
	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO mfa_challenges (`+challengeColumns+`)
		VALUES (:transfer_id, :sender_account_id, :code_hash, :code_length, :attempts,
			:max_attempts, :status, :expires_at, :verified_at, :created_at, :updated_at)
		ON CONFLICT (transfer_id) DO UPDATE SET
			code_hash    = EXCLUDED.code_hash,
			code_length  = EXCLUDED.code_length,
			attempts     = EXCLUDED.attempts,
			max_attempts = EXCLUDED.max_attempts,
			status       = EXCLUDED.status,
			expires_at   = EXCLUDED.expires_at,
			verified_at  = NULL,
			updated_at   = EXCLUDED.updated_at
		WHERE mfa_challenges.status <> 'VERIFIED'
	`, c)
	if err != nil {
		return fmt.Errorf("failed to upsert mfa challenge: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyVerified
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, transferID string) (*Challenge, error) {
	var c Challenge
	err := s.db.GetContext(ctx, &c, `SELECT `+challengeColumns+` FROM mfa_challenges WHERE transfer_id = $1`, transferID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrChallengeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mfa challenge: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) Update(ctx context.Context, c *Challenge, expectStatus Status, expectAttempts int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE mfa_challenges
		SET status = $1, attempts = $2, verified_at = $3, updated_at = $4
		WHERE transfer_id = $5 AND status = $6 AND attempts = $7 AND code_hash = $8
	`, string(c.Status), c.Attempts, c.VerifiedAt, c.UpdatedAt,
		c.TransferID, string(expectStatus), expectAttempts, c.CodeHash)
	if err != nil {
		return fmt.Errorf("failed to update mfa challenge: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStaleChallenge
	}
	return nil
}

func (s *PostgresStore) ExpirePending(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `
		UPDATE mfa_challenges SET status = 'EXPIRED', updated_at = $1
		WHERE transfer_id IN (
			SELECT transfer_id FROM mfa_challenges
			WHERE status = 'PENDING' AND expires_at < $1
			ORDER BY expires_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING transfer_id
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to expire mfa challenges: %w", err)
	}
	return ids, nil
}
