package auth

import (
	"context"
	"errors"
	"time"

	"vodgate/internal/models"
)

// ErrInvalidSubject is returned when provisioning a token without a subject.
var ErrInvalidSubject = errors.New("subject is required")

// ManagerOption configures a Manager instance.
type ManagerOption func(*Manager)

// WithStore injects a custom TokenStore implementation.
func WithStore(store TokenStore) ManagerOption {
	return func(m *Manager) {
		if store != nil {
			m.store = store
		}
	}
}

// WithClock overrides the manager's time source, used by tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager coordinates token provisioning and validation against a backing
// store. Validation compares the presented secret against every stored hash,
// which is acceptable because the token set is small and operator-curated.
type Manager struct {
	store TokenStore
	now   func() time.Time
}

// NewManager constructs a Manager with the provided options. It defaults to
// an in-memory store for local development when no store is supplied.
func NewManager(opts ...ManagerOption) *Manager {
	manager := &Manager{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(manager)
		}
	}
	if manager.store == nil {
		manager.store = NewMemoryTokenStore()
	}
	return manager
}

// Provision hashes the secret and records the token for the subject. A zero
// ttl issues a token that never expires.
func (m *Manager) Provision(ctx context.Context, subject, secret string, roles []string, ttl time.Duration) error {
	if subject == "" {
		return ErrInvalidSubject
	}
	hash, err := HashToken(secret)
	if err != nil {
		return err
	}
	now := m.now().UTC()
	record := TokenRecord{
		Subject:    subject,
		Roles:      append([]string(nil), roles...),
		SecretHash: hash,
		CreatedAt:  now,
	}
	if ttl > 0 {
		record.ExpiresAt = now.Add(ttl)
	}
	return m.store.Save(ctx, record)
}

// Authenticate resolves the presented secret to a caller identity. Unknown
// and expired tokens report ok=false without error.
func (m *Manager) Authenticate(ctx context.Context, secret string) (models.Identity, bool, error) {
	if secret == "" {
		return models.Identity{}, false, nil
	}
	records, err := m.store.List(ctx)
	if err != nil {
		return models.Identity{}, false, err
	}
	now := m.now()
	for _, record := range records {
		if record.Expired(now) {
			continue
		}
		if err := VerifyToken(record.SecretHash, secret); err != nil {
			if errors.Is(err, ErrInvalidToken) {
				continue
			}
			return models.Identity{}, false, err
		}
		return models.Identity{Subject: record.Subject, Roles: append([]string(nil), record.Roles...)}, true, nil
	}
	return models.Identity{}, false, nil
}

// Revoke deletes the subject's token from the backing store.
func (m *Manager) Revoke(ctx context.Context, subject string) error {
	if subject == "" {
		return nil
	}
	return m.store.Delete(ctx, subject)
}

// PurgeExpired removes any expired tokens from the backing store.
func (m *Manager) PurgeExpired(ctx context.Context) error {
	return m.store.PurgeExpired(ctx, m.now())
}

// Ping verifies the underlying token store is reachable when it exposes a
// ping method.
func (m *Manager) Ping(ctx context.Context) error {
	if m == nil || m.store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if pinger, ok := m.store.(interface{ Ping(context.Context) error }); ok {
		return pinger.Ping(ctx)
	}
	return nil
}
