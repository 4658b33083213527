package infra

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Harness owns the lifecycle of the test database and its pgx pool.
//
// TEST_DATABASE_URL points the harness at an existing database, where it
// works inside a throwaway schema. Otherwise a Postgres container is started.
type Harness struct {
	container *PGContainer
	pool      *pgxpool.Pool
	dsn       string
	teardown  func(context.Context) error
}

func NewHarness(ctx context.Context) (*Harness, error) {
	h := &Harness{container: &PGContainer{}}
	shared := false

	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		h.dsn = dsn
		shared = true
	} else {
		if !DockerAvailable(ctx) {
			return nil, fmt.Errorf("no TEST_DATABASE_URL and docker unavailable")
		}
		c, dsn, err := StartPostgres16(ctx)
		if err != nil {
			return nil, fmt.Errorf("start postgres container: %w", err)
		}
		h.container, h.dsn = c, dsn
	}

	pool, teardown, err := ApplyMigrations(ctx, h.dsn, shared)
	if err != nil {
		h.container.Terminate(ctx)
		return nil, err
	}
	h.pool, h.teardown = pool, teardown
	return h, nil
}

// Start returns a ready harness or skips the test when no database can be
// reached. Cleanup is registered on t.
func Start(t *testing.T) *Harness {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	h, err := NewHarness(ctx)
	if err != nil {
		t.Skipf("database unavailable: %v", err)
	}
	t.Cleanup(func() { h.Close(context.Background()) })
	return h
}

func (h *Harness) Pool() *pgxpool.Pool {
	return h.pool
}

func (h *Harness) DSN() string {
	return h.dsn
}

func (h *Harness) Close(ctx context.Context) {
	if h.pool != nil {
		h.pool.Close()
	}
	if h.teardown != nil {
		_ = h.teardown(ctx)
	}
	h.container.Terminate(ctx)
}

// Reset truncates every mutable table.
func (h *Harness) Reset(ctx context.Context) error {
	tables := []string{
		"notifications",
		"dispute_messages",
		"dispute_signatures",
		"disputes",
		"users",
	}

	tx, err := h.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("reset begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, tbl := range tables {
		if _, err := tx.Exec(ctx, "TRUNCATE TABLE "+tbl+" CASCADE"); err != nil {
			return fmt.Errorf("truncate %s: %w", tbl, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("reset commit: %w", err)
	}
	return nil
}

// SeedUser inserts a user row directly and returns its id.
func (h *Harness) SeedUser(ctx context.Context, email, role string) (string, error) {
	var id string
	err := h.pool.QueryRow(ctx,
		`INSERT INTO users (email, full_name, password_hash, role) VALUES ($1, $2, 'x', $3) RETURNING id`,
		email, email, role,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("seed user %s: %w", email, err)
	}
	return id, nil
}
