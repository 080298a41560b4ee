package dispatch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/k1networth/ugc-offers/internal/dispatch"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource serves queued messages and then blocks until ctx is done.
type fakeSource struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	reopens   int
	fetchErrs int
}

func (s *fakeSource) FetchMessage(ctx context.Context) (kafka.Message, error) {
	s.mu.Lock()
	if s.fetchErrs > 0 {
		s.fetchErrs--
		s.mu.Unlock()
		return kafka.Message{}, errors.New("broker gone")
	}
	if len(s.queue) > 0 {
		m := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		return m, nil
	}
	s.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (s *fakeSource) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		s.committed = append(s.committed, m.Offset)
	}
	return nil
}

func (s *fakeSource) Reopen() {
	s.mu.Lock()
	s.reopens++
	s.mu.Unlock()
}

func (s *fakeSource) snapshot() ([]int64, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.committed...), s.reopens, len(s.queue)
}

type handlerFunc func(ctx context.Context, value []byte) error

func (f handlerFunc) Handle(ctx context.Context, value []byte) error { return f(ctx, value) }

func runConsumer(t *testing.T, src *fakeSource, h dispatch.MessageHandler) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	c := dispatch.NewConsumer(src, h, dispatch.ConsumerConfig{Backoff: time.Millisecond})
	go func() { done <- c.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("consumer did not stop")
		}
	}
}

func TestConsumerCommitsOnlyHandledMessages(t *testing.T) {
	src := &fakeSource{queue: []kafka.Message{
		{Offset: 1, Value: []byte("ok")},
		{Offset: 2, Value: []byte("fail")},
		{Offset: 3, Value: []byte("panic")},
		{Offset: 4, Value: []byte("ok")},
	}}
	h := handlerFunc(func(_ context.Context, v []byte) error {
		switch string(v) {
		case "fail":
			return errors.New("db down")
		case "panic":
			panic("boom")
		}
		return nil
	})

	stop := runConsumer(t, src, h)
	require.Eventually(t, func() bool {
		_, _, left := src.snapshot()
		return left == 0
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		committed, _, _ := src.snapshot()
		return len(committed) == 3
	}, 2*time.Second, 5*time.Millisecond)
	stop()

	committed, reopens, _ := src.snapshot()
	assert.Equal(t, []int64{1, 3, 4}, committed)
	assert.Equal(t, 1, reopens)
}

func TestConsumerSurvivesFetchErrors(t *testing.T) {
	src := &fakeSource{fetchErrs: 2, queue: []kafka.Message{{Offset: 7, Value: []byte("ok")}}}
	stop := runConsumer(t, src, handlerFunc(func(context.Context, []byte) error { return nil }))

	require.Eventually(t, func() bool {
		committed, _, _ := src.snapshot()
		return len(committed) == 1
	}, 2*time.Second, 5*time.Millisecond)
	stop()
}

func TestConsumerEndToEndWithDispatcher(t *testing.T) {
	f := newFixture(t)
	f.addUser("201", "blogger", "active")
	o := f.addOrder(t, "active", 2)

	src := &fakeSource{queue: []kafka.Message{
		{Offset: 1, Value: []byte(`{"event":"something_else"}`)},
		{Offset: 2, Value: activation(o.ID)},
	}}
	stop := runConsumer(t, src, f.d)
	require.Eventually(t, func() bool {
		committed, _, _ := src.snapshot()
		return len(committed) == 2
	}, 2*time.Second, 5*time.Millisecond)
	stop()

	assert.Equal(t, 1, f.sender.delivered())
}
