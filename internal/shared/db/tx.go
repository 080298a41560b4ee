package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxManager runs fn with a transaction carried in the context passed to it.
// A nested call joins the outer transaction.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txKey struct{}

type txState struct {
	sqlTx *sql.Tx

	mu   sync.Mutex
	undo []func()
}

func (s *txState) rollback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.undo) - 1; i >= 0; i-- {
		s.undo[i]()
	}
	s.undo = nil
}

func stateFrom(ctx context.Context) *txState {
	st, _ := ctx.Value(txKey{}).(*txState)
	return st
}

// InTx reports whether ctx carries a transaction.
func InTx(ctx context.Context) bool {
	return stateFrom(ctx) != nil
}

// Conn returns the ambient SQL transaction if there is one, db otherwise.
func Conn(ctx context.Context, db *sql.DB) Querier {
	if st := stateFrom(ctx); st != nil && st.sqlTx != nil {
		return st.sqlTx
	}
	return db
}

// OnRollback registers fn to run if the ambient transaction is rolled back.
// In-memory stores use it to undo their writes; it is a no-op outside a transaction.
func OnRollback(ctx context.Context, fn func()) {
	st := stateFrom(ctx)
	if st == nil {
		return
	}
	st.mu.Lock()
	st.undo = append(st.undo, fn)
	st.mu.Unlock()
}

type SQLTxManager struct {
	db *sql.DB
}

func NewSQLTxManager(db *sql.DB) *SQLTxManager {
	return &SQLTxManager{db: db}
}

func (m *SQLTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if InTx(ctx) {
		return fn(ctx)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	st := &txState{sqlTx: tx}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, st)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// MemoryTxManager serializes transactions over in-memory stores and replays
// their OnRollback hooks when fn fails.
type MemoryTxManager struct {
	mu sync.Mutex
}

func NewMemoryTxManager() *MemoryTxManager {
	return &MemoryTxManager{}
}

func (m *MemoryTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if InTx(ctx) {
		return fn(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st := &txState{}
	defer func() {
		if p := recover(); p != nil {
			st.rollback()
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, st)); err != nil {
		st.rollback()
		return err
	}
	return nil
}
