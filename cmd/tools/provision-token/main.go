// Command provision-token seeds or rotates an API token in the token store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"vodgate/internal/auth"
)

func main() {
	var (
		postgresDSN string
		subject     string
		secret      string
		rolesFlag   string
		ttl         time.Duration
	)

	flag.StringVar(&postgresDSN, "postgres-dsn", "", "Postgres connection string for the token store")
	flag.StringVar(&subject, "subject", "", "Subject the token authenticates as")
	flag.StringVar(&secret, "secret", "", "Bearer secret for the token")
	flag.StringVar(&rolesFlag, "roles", "uploader", "Comma separated roles granted to the token")
	flag.DurationVar(&ttl, "ttl", 0, "Token lifetime (0 means the token never expires)")
	flag.Parse()

	if strings.TrimSpace(postgresDSN) == "" {
		postgresDSN = strings.TrimSpace(os.Getenv("VODGATE_POSTGRES_DSN"))
	}
	if postgresDSN == "" {
		fatalf("--postgres-dsn or VODGATE_POSTGRES_DSN is required")
	}
	if strings.TrimSpace(subject) == "" {
		fatalf("--subject is required")
	}
	if len(secret) < 16 {
		fatalf("--secret must be at least 16 characters")
	}
	roles := normalizeRoles(rolesFlag)
	if len(roles) == 0 {
		fatalf("--roles must name at least one role")
	}

	store, err := auth.NewPostgresTokenStore(postgresDSN)
	if err != nil {
		fatalf("open token store: %v", err)
	}
	defer closeStore(store)

	tokens := auth.NewManager(auth.WithStore(store))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := tokens.Provision(ctx, strings.TrimSpace(subject), secret, roles, ttl); err != nil {
		fatalf("provision token: %v", err)
	}

	expiry := "never"
	if ttl > 0 {
		expiry = time.Now().Add(ttl).UTC().Format(time.RFC3339)
	}
	fmt.Printf("Token for %s provisioned with roles %s (expires %s).\n", subject, strings.Join(roles, ","), expiry)
	fmt.Println("Store the secret safely; only its hash is persisted.")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func closeStore(store *auth.PostgresTokenStore) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = store.Close(ctx)
}

func normalizeRoles(raw string) []string {
	seen := make(map[string]struct{})
	for _, role := range strings.Split(raw, ",") {
		trimmed := strings.ToLower(strings.TrimSpace(role))
		if trimmed == "" {
			continue
		}
		seen[trimmed] = struct{}{}
	}
	roles := make([]string, 0, len(seen))
	for role := range seen {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}
