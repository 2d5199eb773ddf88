package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestHashAndVerifyToken(t *testing.T) {
	hash, err := HashToken("s3cret")
	if err != nil {
		t.Fatalf("HashToken: %v", err)
	}
	if !strings.HasPrefix(hash, "pbkdf2$sha256$120000$") {
		t.Fatalf("unexpected hash format: %q", hash)
	}
	if err := VerifyToken(hash, "s3cret"); err != nil {
		t.Fatalf("VerifyToken with correct secret: %v", err)
	}
	if err := VerifyToken(hash, "wrong"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("VerifyToken with wrong secret = %v, want ErrInvalidToken", err)
	}
}

func TestHashTokenSaltsDiffer(t *testing.T) {
	first, err := HashToken("same")
	if err != nil {
		t.Fatalf("HashToken: %v", err)
	}
	second, err := HashToken("same")
	if err != nil {
		t.Fatalf("HashToken: %v", err)
	}
	if first == second {
		t.Fatal("two hashes of the same secret should use distinct salts")
	}
}

func TestManagerProvisionAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	manager := NewManager()

	if err := manager.Provision(ctx, "ci-uploader", "s3cret", []string{"uploader"}, 0); err != nil {
		t.Fatalf("Provision: %v", err)
	}

	identity, ok, err := manager.Authenticate(ctx, "s3cret")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !ok {
		t.Fatal("valid secret rejected")
	}
	if identity.Subject != "ci-uploader" || !identity.HasRole("uploader") {
		t.Fatalf("unexpected identity: %+v", identity)
	}

	if _, ok, err := manager.Authenticate(ctx, "wrong"); err != nil || ok {
		t.Fatalf("Authenticate with wrong secret: ok=%v err=%v", ok, err)
	}
	if _, ok, err := manager.Authenticate(ctx, ""); err != nil || ok {
		t.Fatalf("Authenticate with empty secret: ok=%v err=%v", ok, err)
	}
}

func TestManagerProvisionRequiresSubject(t *testing.T) {
	manager := NewManager()
	if err := manager.Provision(context.Background(), "", "secret", nil, 0); !errors.Is(err, ErrInvalidSubject) {
		t.Fatalf("Provision error = %v, want ErrInvalidSubject", err)
	}
}

func TestManagerExpiredTokensAreRejectedAndPurged(t *testing.T) {
	ctx := context.Background()
	current := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryTokenStore()
	manager := NewManager(WithStore(store), WithClock(func() time.Time { return current }))

	if err := manager.Provision(ctx, "short-lived", "secret", nil, time.Hour); err != nil {
		t.Fatalf("Provision: %v", err)
	}

	if _, ok, _ := manager.Authenticate(ctx, "secret"); !ok {
		t.Fatal("fresh token rejected")
	}

	current = current.Add(2 * time.Hour)
	if _, ok, _ := manager.Authenticate(ctx, "secret"); ok {
		t.Fatal("expired token accepted")
	}

	if err := manager.PurgeExpired(ctx); err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	records, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("store holds %d records after purge, want 0", len(records))
	}
}

func TestManagerRevoke(t *testing.T) {
	ctx := context.Background()
	manager := NewManager()
	if err := manager.Provision(ctx, "ops", "secret", nil, 0); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if err := manager.Revoke(ctx, "ops"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, ok, _ := manager.Authenticate(ctx, "secret"); ok {
		t.Fatal("revoked token accepted")
	}
}

func TestPostgresStoreRequiresDSN(t *testing.T) {
	if _, err := NewPostgresTokenStore(""); err == nil {
		t.Fatal("NewPostgresTokenStore with empty DSN succeeded")
	}
}
