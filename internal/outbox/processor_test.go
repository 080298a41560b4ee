package outbox_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/k1networth/ugc-offers/internal/order/model"
	"github.com/k1networth/ugc-offers/internal/outbox"
	"github.com/stretchr/testify/require"
)

const pollInterval = 5 * time.Second

type blockingClient struct {
	entered chan struct{}
	release chan struct{}
}

func (c *blockingClient) PublishActivation(context.Context, model.Order) error {
	close(c.entered)
	<-c.release
	return nil
}

type panicOnceClient struct {
	calls atomic.Int32
}

func (c *panicOnceClient) PublishActivation(context.Context, model.Order) error {
	if c.calls.Add(1) == 1 {
		panic("client exploded")
	}
	return nil
}

type busyLocker struct{ calls atomic.Int32 }

func (l *busyLocker) TryLock(context.Context, string) (func(context.Context) error, bool, error) {
	l.calls.Add(1)
	return nil, false, nil
}

func waitForTicker(t *testing.T, f *fixture) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
}

func TestProcessor_StartIsIdempotent(t *testing.T) {
	f := newFixture(t)
	p := outbox.NewProcessor(f.pub, &fakeClient{}, outbox.ProcessorConfig{PollInterval: pollInterval, MaxRetries: 3, Clock: f.clock})

	require.True(t, p.Start(context.Background()))
	require.False(t, p.Start(context.Background()))
	require.True(t, p.Running())

	p.Stop()
	require.False(t, p.Running())
	p.Stop()
}

func TestProcessor_DrainsImmediatelyAndOnEveryTick(t *testing.T) {
	f := newFixture(t)
	first := f.appendActivation(t, f.newOrder(t))
	client := &fakeClient{}

	p := outbox.NewProcessor(f.pub, client, outbox.ProcessorConfig{PollInterval: pollInterval, MaxRetries: 3, Clock: f.clock})
	require.True(t, p.Start(context.Background()))
	t.Cleanup(p.Stop)

	waitForTicker(t, f)
	require.Equal(t, outbox.StatusPublished, f.get(t, first).Status)

	second := f.appendActivation(t, f.newOrder(t))
	f.clock.Advance(pollInterval)

	require.Eventually(t, func() bool {
		return f.get(t, second).Status == outbox.StatusPublished
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 2, client.callCount())
}

func TestProcessor_SurvivesPanickingPass(t *testing.T) {
	f := newFixture(t)
	id := f.appendActivation(t, f.newOrder(t))
	client := &panicOnceClient{}

	p := outbox.NewProcessor(f.pub, client, outbox.ProcessorConfig{
		PollInterval:      pollInterval,
		MaxRetries:        3,
		ProcessingTimeout: time.Second,
		Clock:             f.clock,
	})
	require.True(t, p.Start(context.Background()))
	t.Cleanup(p.Stop)

	waitForTicker(t, f)
	require.Equal(t, outbox.StatusProcessing, f.get(t, id).Status)

	// The next pass recovers the stuck row and delivers it.
	f.clock.Advance(pollInterval)
	require.Eventually(t, func() bool {
		return f.get(t, id).Status == outbox.StatusPublished
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, f.get(t, id).RetryCount)
}

func TestProcessor_StopWaitsForInFlightPass(t *testing.T) {
	f := newFixture(t)
	id := f.appendActivation(t, f.newOrder(t))
	client := &blockingClient{entered: make(chan struct{}), release: make(chan struct{})}

	p := outbox.NewProcessor(f.pub, client, outbox.ProcessorConfig{PollInterval: pollInterval, MaxRetries: 3, Clock: f.clock})
	require.True(t, p.Start(context.Background()))

	select {
	case <-client.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("pass did not start")
	}

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a pass was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(client.release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	require.Equal(t, outbox.StatusPublished, f.get(t, id).Status)
}

func TestProcessor_ProcessOnce(t *testing.T) {
	f := newFixture(t)
	f.appendActivation(t, f.newOrder(t))

	p := outbox.NewProcessor(f.pub, &fakeClient{}, outbox.ProcessorConfig{MaxRetries: 3, Clock: f.clock})
	res, err := p.ProcessOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Published)
	require.False(t, p.Running())
}

func TestProcessor_SkipsPassWhenLockBusy(t *testing.T) {
	f := newFixture(t)
	id := f.appendActivation(t, f.newOrder(t))
	locker := &busyLocker{}

	p := outbox.NewProcessor(f.pub, &fakeClient{}, outbox.ProcessorConfig{MaxRetries: 3, Clock: f.clock, Locker: locker})
	res, err := p.ProcessOnce(context.Background())
	require.NoError(t, err)
	require.True(t, res.LockBusy)
	require.Zero(t, res.Claimed)
	require.EqualValues(t, 1, locker.calls.Load())
	require.Equal(t, outbox.StatusPending, f.get(t, id).Status)
}
