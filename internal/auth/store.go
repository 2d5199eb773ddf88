// Package auth provisions and validates the API access tokens guarding the
// upload endpoints. Tokens are operator-issued, stored as salted PBKDF2
// hashes, and resolved to a caller identity per request.
package auth

import (
	"context"
	"time"
)

// TokenRecord captures a provisioned API token as held by the backing store.
// SecretHash is the PBKDF2 encoding of the secret; the plaintext is never
// stored.
type TokenRecord struct {
	Subject    string
	Roles      []string
	SecretHash string
	CreatedAt  time.Time
	ExpiresAt  time.Time // zero means the token never expires
}

// Expired reports whether the record is past its expiry at the given time.
func (r TokenRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// TokenStore defines the persistence contract for API tokens.
type TokenStore interface {
	Save(ctx context.Context, record TokenRecord) error
	List(ctx context.Context) ([]TokenRecord, error)
	Delete(ctx context.Context, subject string) error
	PurgeExpired(ctx context.Context, now time.Time) error
}
