package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

const schemaTimeout = 30 * time.Second

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, n*2-1)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, '?')
	}
	return string(b)
}

func execSchema(ctx context.Context, db *sql.DB, stmts []string) error {
	for _, ddl := range stmts {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// schemaGuard creates a repository's tables on first use. A failed attempt is not remembered,
// so the next call tries again.
type schemaGuard struct {
	mu   sync.Mutex
	done bool
}

func (g *schemaGuard) ensure(ctx context.Context, db *sql.DB, stmts []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done {
		return nil
	}
	// DDL outlives the request that happened to trigger it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), schemaTimeout)
	defer cancel()
	if err := execSchema(ctx, db, stmts); err != nil {
		return err
	}
	g.done = true
	return nil
}
