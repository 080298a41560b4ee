package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestPolicy_Exhausted(t *testing.T) {
	p := Policy{MaxAttempts: 3}
	require.False(t, p.Exhausted(0))
	require.False(t, p.Exhausted(2))
	require.True(t, p.Exhausted(3))
	require.True(t, p.Exhausted(4))

	require.True(t, Policy{}.Exhausted(0))
	require.True(t, Policy{MaxAttempts: -1}.Exhausted(0))
}

func TestPolicy_Do_SucceedsAfterTransientFailures(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := Policy{MaxAttempts: 3, Delay: time.Second}

	calls := 0
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := p.Do(context.Background(), clock, func(context.Context, int) error {
			calls++
			if calls < 3 {
				return errors.New("flaky")
			}
			return nil
		})
		done <- result{n, err}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := 0; i < 2; i++ {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(time.Second)
	}

	res := <-done
	require.NoError(t, res.err)
	require.Equal(t, 3, res.n)
}

func TestPolicy_Do_StopsOnExhaustion(t *testing.T) {
	p := Policy{MaxAttempts: 2}
	n, err := p.Do(context.Background(), clockwork.NewFakeClock(), func(context.Context, int) error {
		return errors.New("down")
	})
	require.EqualError(t, err, "down")
	require.Equal(t, 2, n)
}

func TestPolicy_Do_PermanentStopsImmediately(t *testing.T) {
	p := Policy{MaxAttempts: 5, Delay: time.Hour}
	n, err := p.Do(context.Background(), clockwork.NewFakeClock(), func(context.Context, int) error {
		return Permanent(errors.New("bad address"))
	})
	require.True(t, IsPermanent(err))
	require.Equal(t, 1, n)
}

func TestPolicy_Do_PredicateRejects(t *testing.T) {
	fatal := errors.New("fatal")
	p := Policy{
		MaxAttempts: 5,
		Delay:       time.Hour,
		Retryable:   func(err error) bool { return !errors.Is(err, fatal) },
	}
	n, err := p.Do(context.Background(), clockwork.NewFakeClock(), func(context.Context, int) error {
		return fatal
	})
	require.ErrorIs(t, err, fatal)
	require.Equal(t, 1, n)
}

func TestPolicy_Do_CancelledWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 3, Delay: time.Hour}

	n, err := p.Do(ctx, clockwork.NewFakeClock(), func(context.Context, int) error {
		cancel()
		return errors.New("down")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, n)
}

func TestPolicy_Do_RetriesDeadlineErrorsWhileCallerIsAlive(t *testing.T) {
	p := Policy{MaxAttempts: 3}

	n, err := p.Do(context.Background(), clockwork.NewFakeClock(), func(context.Context, int) error {
		return fmt.Errorf("post sendMessage: %w", context.DeadlineExceeded)
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 3, n)
}

func TestPolicy_Do_StopsWhenCallerDeadlinePasses(t *testing.T) {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	p := Policy{MaxAttempts: 3}

	n, err := p.Do(ctx, clockwork.NewFakeClock(), func(ctx context.Context, _ int) error {
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, n)
}
