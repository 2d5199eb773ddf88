package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresTokenStore persists API tokens to a Postgres table, allowing
// multiple gateway replicas to share the provisioned token set.
type PostgresTokenStore struct {
	pool *pgxpool.Pool
}

// NewPostgresTokenStore opens a Postgres-backed token store using the provided DSN.
func NewPostgresTokenStore(dsn string) (*PostgresTokenStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres token dsn required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres token config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres token pool: %w", err)
	}
	return &PostgresTokenStore{pool: pool}, nil
}

// Close releases the Postgres connection pool resources.
func (s *PostgresTokenStore) Close(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Save stores or updates the token record for its subject.
func (s *PostgresTokenStore) Save(ctx context.Context, record TokenRecord) error {
	if s.pool == nil {
		return fmt.Errorf("postgres token pool not configured")
	}
	var expiresAt *time.Time
	if !record.ExpiresAt.IsZero() {
		utc := record.ExpiresAt.UTC()
		expiresAt = &utc
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO api_tokens (subject, roles, secret_hash, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (subject) DO UPDATE SET roles = EXCLUDED.roles, secret_hash = EXCLUDED.secret_hash, expires_at = EXCLUDED.expires_at
`, record.Subject, record.Roles, record.SecretHash, record.CreatedAt.UTC(), expiresAt)
	return err
}

// List returns every provisioned token record.
func (s *PostgresTokenStore) List(ctx context.Context) ([]TokenRecord, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("postgres token pool not configured")
	}
	rows, err := s.pool.Query(ctx, `
SELECT subject, roles, secret_hash, created_at, expires_at
FROM api_tokens
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []TokenRecord
	for rows.Next() {
		var record TokenRecord
		var expiresAt *time.Time
		if err := rows.Scan(&record.Subject, &record.Roles, &record.SecretHash, &record.CreatedAt, &expiresAt); err != nil {
			return nil, err
		}
		if expiresAt != nil {
			record.ExpiresAt = *expiresAt
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Delete removes the subject's token.
func (s *PostgresTokenStore) Delete(ctx context.Context, subject string) error {
	if s.pool == nil {
		return fmt.Errorf("postgres token pool not configured")
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM api_tokens WHERE subject = $1`, subject)
	return err
}

// PurgeExpired deletes expired tokens from the table.
func (s *PostgresTokenStore) PurgeExpired(ctx context.Context, now time.Time) error {
	if s.pool == nil {
		return fmt.Errorf("postgres token pool not configured")
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM api_tokens WHERE expires_at IS NOT NULL AND expires_at <= $1`, now.UTC())
	return err
}

// Ping verifies the Postgres pool is reachable.
func (s *PostgresTokenStore) Ping(ctx context.Context) error {
	if s.pool == nil {
		return fmt.Errorf("postgres token pool not configured")
	}
	return s.pool.Ping(ctx)
}
