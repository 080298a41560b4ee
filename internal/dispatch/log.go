package dispatch

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// DispatchLog remembers which recipients already got an order's offer, so a
// redelivered activation does not notify them twice.
type DispatchLog interface {
	Seen(ctx context.Context, orderID uuid.UUID, recipients []uuid.UUID) (map[uuid.UUID]bool, error)
	Record(ctx context.Context, orderID, recipientID uuid.UUID) error
}

type dispatchKey struct {
	order, recipient uuid.UUID
}

type MemoryLog struct {
	mu   sync.Mutex
	sent map[dispatchKey]struct{}
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{sent: make(map[dispatchKey]struct{})}
}

func (l *MemoryLog) Seen(_ context.Context, orderID uuid.UUID, recipients []uuid.UUID) (map[uuid.UUID]bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[uuid.UUID]bool)
	for _, r := range recipients {
		if _, ok := l.sent[dispatchKey{orderID, r}]; ok {
			out[r] = true
		}
	}
	return out, nil
}

func (l *MemoryLog) Record(_ context.Context, orderID, recipientID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent[dispatchKey{orderID, recipientID}] = struct{}{}
	return nil
}

func (l *MemoryLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sent)
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresLog keeps the log in offer_dispatches.
type PostgresLog struct {
	db *sql.DB
}

func NewPostgresLog(db *sql.DB) *PostgresLog { return &PostgresLog{db: db} }

func (l *PostgresLog) Seen(ctx context.Context, orderID uuid.UUID, recipients []uuid.UUID) (map[uuid.UUID]bool, error) {
	out := make(map[uuid.UUID]bool)
	if len(recipients) == 0 {
		return out, nil
	}
	ids := make([]string, len(recipients))
	for i, r := range recipients {
		ids[i] = r.String()
	}

	q, args, err := psql.Select("recipient_id").
		From("offer_dispatches").
		Where(sq.Eq{"order_id": orderID}).
		Where(sq.Expr("recipient_id = ANY(?::uuid[])", pq.Array(ids))).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

func (l *PostgresLog) Record(ctx context.Context, orderID, recipientID uuid.UUID) error {
	q, args, err := psql.Insert("offer_dispatches").
		Columns("order_id", "recipient_id").
		Values(orderID, recipientID).
		Suffix("ON CONFLICT (order_id, recipient_id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	_, err = l.db.ExecContext(ctx, q, args...)
	return err
}
