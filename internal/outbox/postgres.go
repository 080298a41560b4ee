package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/k1networth/ugc-offers/internal/shared/db"
)

const table = "outbox_events"

var columns = []string{
	"event_id", "event_type", "aggregate_id", "aggregate_type", "payload", "status",
	"created_at", "processed_at", "retry_count", "last_error", "exhausted_at IS NOT NULL",
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, ev Event) error {
	if !db.InTx(ctx) {
		return ErrTxRequired
	}
	if err := validateNew(ev); err != nil {
		return err
	}

	q, args, err := psql.Insert(table).
		Columns("event_id", "event_type", "aggregate_id", "aggregate_type", "payload", "status", "created_at").
		Values(ev.ID, ev.Type, ev.AggregateID, ev.AggregateType, string(ev.Payload), string(StatusPending), ev.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := db.Conn(ctx, s.db).ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

func (s *PostgresStore) FetchPending(ctx context.Context, limit int) ([]Event, error) {
	b := psql.Select(columns...).
		From(table).
		Where(sq.Eq{"status": string(StatusPending)}).
		OrderBy("created_at")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	q, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	return s.query(ctx, q, args...)
}

func (s *PostgresStore) ClaimBatch(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	q := `
WITH cte AS (
  SELECT event_id
  FROM outbox_events
  WHERE status = 'PENDING'
     OR (status = 'FAILED' AND exhausted_at IS NULL)
  ORDER BY created_at
  LIMIT $1
  FOR UPDATE SKIP LOCKED
)
UPDATE outbox_events o
SET status = 'PROCESSING',
    processing_started_at = now()
FROM cte
WHERE o.event_id = cte.event_id
RETURNING ` + returning("o.") + `;
`
	out, err := s.query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	// RETURNING does not keep the CTE order.
	slices.SortStableFunc(out, func(a, b Event) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (s *PostgresStore) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	return s.update(ctx, id, psql.Update(table).
		Set("status", string(StatusProcessing)).
		Set("processing_started_at", sq.Expr("now()")).
		Where(sq.Eq{"event_id": id}).
		Where(sq.Or{
			sq.Eq{"status": string(StatusPending)},
			sq.And{sq.Eq{"status": string(StatusFailed)}, sq.Eq{"exhausted_at": nil}},
		}))
}

func (s *PostgresStore) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.update(ctx, id, psql.Update(table).
		Set("status", string(StatusPublished)).
		Set("processed_at", at.UTC()).
		Set("processing_started_at", nil).
		Where(sq.Eq{"event_id": id, "status": string(StatusProcessing)}))
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, retryCount int) error {
	return s.update(ctx, id, psql.Update(table).
		Set("status", string(StatusFailed)).
		Set("last_error", errMsg).
		Set("retry_count", sq.Expr("GREATEST(retry_count, ?)", retryCount)).
		Set("processing_started_at", nil).
		Where(sq.Eq{"event_id": id, "status": string(StatusProcessing)}))
}

func (s *PostgresStore) MarkExhausted(ctx context.Context, id uuid.UUID, errMsg string) error {
	return s.update(ctx, id, psql.Update(table).
		Set("status", string(StatusFailed)).
		Set("last_error", errMsg).
		Set("exhausted_at", sq.Expr("now()")).
		Set("processing_started_at", nil).
		Where(sq.Eq{"event_id": id, "status": string(StatusProcessing)}))
}

func (s *PostgresStore) RequeueStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	q, args, err := psql.Update(table).
		Set("status", string(StatusFailed)).
		Set("retry_count", sq.Expr("retry_count + 1")).
		Set("last_error", stuckError).
		Set("processing_started_at", nil).
		Where(sq.Eq{"status": string(StatusProcessing)}).
		// processing_started_at is stamped by the database clock, so compare against it too.
		Where(sq.Expr("processing_started_at < now() - make_interval(secs => ?)", olderThan.Seconds())).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build requeue: %w", err)
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (Event, error) {
	q, args, err := psql.Select(columns...).From(table).Where(sq.Eq{"event_id": id}).ToSql()
	if err != nil {
		return Event{}, fmt.Errorf("build select: %w", err)
	}
	ev, err := scanEvent(s.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	return ev, err
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Counts: make(map[Status]int64)}

	q, args, err := psql.Select("status", "count(*)", "count(exhausted_at)").
		From(table).
		GroupBy("status").
		ToSql()
	if err != nil {
		return Stats{}, fmt.Errorf("build stats: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return Stats{}, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var status string
		var n, exhausted int64
		if err := rows.Scan(&status, &n, &exhausted); err != nil {
			return Stats{}, err
		}
		st.Counts[Status(status)] = n
		st.Exhausted += exhausted
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}

	const lagQ = `
SELECT EXTRACT(EPOCH FROM (now() - created_at))
FROM outbox_events
WHERE status = 'PENDING'
ORDER BY created_at
LIMIT 1;
`
	var lag sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, lagQ).Scan(&lag); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Stats{}, err
	}
	if lag.Valid {
		st.OldestPendingAge = time.Duration(lag.Float64 * float64(time.Second))
	}
	return st, nil
}

func (s *PostgresStore) update(ctx context.Context, id uuid.UUID, b sq.UpdateBuilder) error {
	q, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrTransitionConflict, id)
	}
	return nil
}

func (s *PostgresStore) query(ctx context.Context, q string, args ...any) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(s scanner) (Event, error) {
	var (
		ev          Event
		payload     []byte
		status      string
		processedAt sql.NullTime
		lastError   sql.NullString
	)
	if err := s.Scan(
		&ev.ID,
		&ev.Type,
		&ev.AggregateID,
		&ev.AggregateType,
		&payload,
		&status,
		&ev.CreatedAt,
		&processedAt,
		&ev.RetryCount,
		&lastError,
		&ev.Exhausted,
	); err != nil {
		return Event{}, err
	}
	ev.Payload = payload
	ev.Status = Status(status)
	if processedAt.Valid {
		t := processedAt.Time
		ev.ProcessedAt = &t
	}
	ev.LastError = lastError.String
	return ev, nil
}

func returning(prefix string) string {
	cols := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = prefix + c
	}
	return strings.Join(cols, ", ")
}
