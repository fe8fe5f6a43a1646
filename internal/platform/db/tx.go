package db

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

const (
	DBTxKey          contextKey = "db_tx"
	heldWorkspaceKey contextKey = "held_workspace"
)

// WithTx returns a copy of ctx carrying tx. Repositories pick it up through
// TxFromContext so every statement of a unit of work shares one transaction.
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, DBTxKey, tx)
}

// TxFromContext retrieves the active transaction from context, or nil.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// Transactor runs fn as one unit of work. Units of work for the same
// workspace never interleave.
type Transactor interface {
	InWorkspace(ctx context.Context, workspaceID uuid.UUID, fn func(ctx context.Context) error) error
}

// PGTransactor opens a transaction and takes a transaction-scoped advisory
// lock keyed by the workspace, which serializes writers across instances.
type PGTransactor struct {
	pool *pgxpool.Pool
}

func NewPGTransactor(pool *pgxpool.Pool) *PGTransactor {
	return &PGTransactor{pool: pool}
}

func (t *PGTransactor) InWorkspace(ctx context.Context, workspaceID uuid.UUID, fn func(ctx context.Context) error) error {
	if held, ok := ctx.Value(heldWorkspaceKey).(uuid.UUID); ok && held == workspaceID && TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, workspaceID.String()); err != nil {
		return fmt.Errorf("lock workspace %s: %w", workspaceID, err)
	}

	ctx = context.WithValue(WithTx(ctx, tx), heldWorkspaceKey, workspaceID)
	if err := fn(ctx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// LocalTransactor serializes units of work per workspace inside one process.
// It backs the in-memory repositories used by tests and single-node tooling;
// it provides ordering, not rollback.
type LocalTransactor struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func NewLocalTransactor() *LocalTransactor {
	return &LocalTransactor{locks: make(map[uuid.UUID]*sync.Mutex)}
}

func (t *LocalTransactor) lockFor(id uuid.UUID) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[id]
	if !ok {
		l = &sync.Mutex{}
		t.locks[id] = l
	}
	return l
}

func (t *LocalTransactor) InWorkspace(ctx context.Context, workspaceID uuid.UUID, fn func(ctx context.Context) error) error {
	if held, ok := ctx.Value(heldWorkspaceKey).(uuid.UUID); ok && held == workspaceID {
		return fn(ctx)
	}
	l := t.lockFor(workspaceID)
	l.Lock()
	defer l.Unlock()
	return fn(context.WithValue(ctx, heldWorkspaceKey, workspaceID))
}
