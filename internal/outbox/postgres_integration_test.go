//go:build integration

package outbox_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/k1networth/ugc-offers/internal/order/model"
	orderpg "github.com/k1networth/ugc-offers/internal/order/repo/postgres"
	"github.com/k1networth/ugc-offers/internal/outbox"
	"github.com/k1networth/ugc-offers/internal/shared/db"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("ugc"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pg, err := db.OpenPostgres(ctx, db.PostgresConfig{DatabaseURL: dsn, Migrate: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Close() })
	return pg
}

func seedOrder(t *testing.T, pg *sql.DB) model.Order {
	t.Helper()
	ctx := context.Background()
	advertiser := uuid.New()
	_, err := pg.ExecContext(ctx,
		`INSERT INTO users (user_id, external_id, role, status, confirmed) VALUES ($1, '100', 'advertiser', 'active', true)`,
		advertiser)
	require.NoError(t, err)

	o, err := orderpg.New(pg).Create(ctx, model.Order{
		AdvertiserID:   advertiser,
		ProductLink:    "https://example.com/p/1",
		OfferText:      "Unboxing video",
		Price:          decimal.RequireFromString("990.00"),
		BloggersNeeded: 2,
	})
	require.NoError(t, err)
	return o
}

func TestIntegration_PostgresStore_DrainLifecycle(t *testing.T) {
	pg := setupPostgres(t)
	ctx := context.Background()
	orders := orderpg.New(pg)
	store := outbox.NewPostgresStore(pg)
	pub := outbox.NewPublisher(store, orders, outbox.PublisherConfig{BatchSize: 10})
	txm := db.NewSQLTxManager(pg)

	o := seedOrder(t, pg)
	require.ErrorIs(t, pub.AppendOrderActivated(ctx, o), outbox.ErrTxRequired)
	require.NoError(t, txm.WithinTx(ctx, func(ctx context.Context) error {
		return pub.AppendOrderActivated(ctx, o)
	}))

	pending, err := store.FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	id := pending[0].ID

	client := &fakeClient{err: errBroker}
	res, err := pub.ProcessPendingEvents(ctx, client, 3)
	require.NoError(t, err)
	require.Equal(t, 1, res.Failed)

	ev, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, outbox.StatusFailed, ev.Status)
	require.Equal(t, 1, ev.RetryCount)

	client.setErr(nil)
	res, err = pub.ProcessPendingEvents(ctx, client, 3)
	require.NoError(t, err)
	require.Equal(t, 1, res.Published)

	ev, err = store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, outbox.StatusPublished, ev.Status)
	require.NotNil(t, ev.ProcessedAt)
	require.ErrorIs(t, store.MarkFailed(ctx, id, "late", 5), outbox.ErrTransitionConflict)

	st, err := store.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, st.Counts[outbox.StatusPublished])
}

func TestIntegration_PostgresStore_ClaimIsExclusive(t *testing.T) {
	pg := setupPostgres(t)
	ctx := context.Background()
	store := outbox.NewPostgresStore(pg)
	pub := outbox.NewPublisher(store, orderpg.New(pg), outbox.PublisherConfig{})
	txm := db.NewSQLTxManager(pg)

	for i := 0; i < 5; i++ {
		o := seedOrder(t, pg)
		require.NoError(t, txm.WithinTx(ctx, func(ctx context.Context) error {
			return pub.AppendOrderActivated(ctx, o)
		}))
	}

	a, err := store.ClaimBatch(ctx, 3)
	require.NoError(t, err)
	b, err := store.ClaimBatch(ctx, 3)
	require.NoError(t, err)
	require.Len(t, a, 3)
	require.Len(t, b, 2)

	seen := map[uuid.UUID]bool{}
	for _, ev := range append(a, b...) {
		require.False(t, seen[ev.ID], "event claimed twice")
		seen[ev.ID] = true
		require.Equal(t, outbox.StatusProcessing, ev.Status)
	}
	for i := 1; i < len(a); i++ {
		require.False(t, a[i].CreatedAt.Before(a[i-1].CreatedAt))
	}
}

func TestIntegration_PostgresStore_AppendRollsBackWithBusinessTx(t *testing.T) {
	pg := setupPostgres(t)
	ctx := context.Background()
	store := outbox.NewPostgresStore(pg)
	pub := outbox.NewPublisher(store, orderpg.New(pg), outbox.PublisherConfig{})
	txm := db.NewSQLTxManager(pg)
	o := seedOrder(t, pg)

	err := txm.WithinTx(ctx, func(ctx context.Context) error {
		if err := pub.AppendOrderActivated(ctx, o); err != nil {
			return err
		}
		return sql.ErrTxDone
	})
	require.ErrorIs(t, err, sql.ErrTxDone)

	pending, err := store.FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestIntegration_PostgresStore_RequeueStuckUsesDatabaseClock(t *testing.T) {
	pg := setupPostgres(t)
	ctx := context.Background()
	store := outbox.NewPostgresStore(pg)
	pub := outbox.NewPublisher(store, orderpg.New(pg), outbox.PublisherConfig{})
	txm := db.NewSQLTxManager(pg)

	for i := 0; i < 2; i++ {
		o := seedOrder(t, pg)
		require.NoError(t, txm.WithinTx(ctx, func(ctx context.Context) error {
			return pub.AppendOrderActivated(ctx, o)
		}))
	}
	claimed, err := store.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	stuck, fresh := claimed[0].ID, claimed[1].ID

	_, err = pg.ExecContext(ctx,
		`UPDATE outbox_events SET processing_started_at = now() - interval '10 minutes' WHERE event_id = $1`, stuck)
	require.NoError(t, err)

	n, err := store.RequeueStuck(ctx, 5*time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	ev, err := store.Get(ctx, stuck)
	require.NoError(t, err)
	require.Equal(t, outbox.StatusFailed, ev.Status)
	require.Equal(t, 1, ev.RetryCount)
	require.Equal(t, "processing timeout", ev.LastError)

	ev, err = store.Get(ctx, fresh)
	require.NoError(t, err)
	require.Equal(t, outbox.StatusProcessing, ev.Status)
}
