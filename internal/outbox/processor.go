package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/k1networth/ugc-offers/internal/shared/logger"
)

// Locker guards a drain pass across processor instances.
type Locker interface {
	TryLock(ctx context.Context, key string) (release func(context.Context) error, acquired bool, err error)
}

type ProcessorConfig struct {
	PollInterval time.Duration
	MaxRetries   int
	// ProcessingTimeout > 0 requeues rows stuck in PROCESSING before each pass.
	ProcessingTimeout time.Duration

	Locker  Locker
	LockKey string

	Clock   clockwork.Clock
	Log     *slog.Logger
	Metrics *Metrics
}

// Processor periodically drains the outbox. Passes never overlap, whether
// they come from the loop or from ProcessOnce.
type Processor struct {
	pub    *Publisher
	client ActivationClient
	cfg    ProcessorConfig

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	passMu sync.Mutex
}

func NewProcessor(pub *Publisher, client ActivationClient, cfg ProcessorConfig) *Processor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Log == nil {
		cfg.Log = logger.Discard()
	}
	if cfg.LockKey == "" {
		cfg.LockKey = "lock:outbox:drain"
	}
	return &Processor{pub: pub, client: client, cfg: cfg}
}

// Start launches the loop and returns true, or returns false if it is
// already running.
func (p *Processor) Start(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		return false
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done

	go p.loop(ctx, done)
	p.cfg.Log.Info("outbox_processor_started",
		slog.Duration("poll_interval", p.cfg.PollInterval),
		slog.Int("max_retries", p.cfg.MaxRetries),
	)
	return true
}

// Stop cancels the loop and waits for the in-flight pass to finish.
func (p *Processor) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if done == nil {
		return
	}
	cancel()
	<-done
	p.cfg.Log.Info("outbox_processor_stopped")
}

func (p *Processor) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done != nil
}

// ProcessOnce runs a single pass synchronously.
func (p *Processor) ProcessOnce(ctx context.Context) (DrainResult, error) {
	return p.runPass(ctx)
}

func (p *Processor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	p.tick(ctx)

	ticker := p.cfg.Clock.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.tick(ctx)
		}
	}
}

func (p *Processor) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	// A started pass runs to completion even if Stop is called meanwhile.
	res, err := p.runPass(context.WithoutCancel(ctx))
	if err != nil {
		p.cfg.Log.Error("outbox_drain_failed", slog.String("err", err.Error()))
		return
	}
	if res.Claimed > 0 || res.Requeued > 0 {
		p.cfg.Log.Info("outbox_drain_pass",
			slog.Int("claimed", res.Claimed),
			slog.Int("published", res.Published),
			slog.Int("failed", res.Failed),
			slog.Int("exhausted", res.Exhausted),
			slog.Int("state_update_failed", res.StateUpdateFailed),
			slog.Int("requeued", res.Requeued),
		)
	}
}

func (p *Processor) runPass(ctx context.Context) (res DrainResult, err error) {
	p.passMu.Lock()
	defer p.passMu.Unlock()

	start := p.cfg.Clock.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("drain pass panicked: %v", r)
		}
		result := "ok"
		switch {
		case err != nil:
			result = "error"
		case res.LockBusy:
			result = "lock_busy"
		}
		p.cfg.Metrics.pass(result, p.cfg.Clock.Since(start).Seconds())
	}()

	if p.cfg.Locker != nil {
		release, ok, lerr := p.cfg.Locker.TryLock(ctx, p.cfg.LockKey)
		if lerr != nil {
			return res, fmt.Errorf("drain lock: %w", lerr)
		}
		if !ok {
			p.cfg.Metrics.lockBusy()
			res.LockBusy = true
			return res, nil
		}
		defer func() {
			if rerr := release(ctx); rerr != nil {
				p.cfg.Log.Warn("outbox_lock_release_failed", slog.String("err", rerr.Error()))
			}
		}()
	}

	store := p.pub.Store()
	if p.cfg.ProcessingTimeout > 0 {
		n, rerr := store.RequeueStuck(ctx, p.cfg.ProcessingTimeout)
		if rerr != nil {
			p.cfg.Log.Error("outbox_requeue_failed", slog.String("err", rerr.Error()))
		} else {
			res.Requeued = int(n)
			p.cfg.Metrics.requeued(n)
		}
	}

	drained, err := p.pub.ProcessPendingEvents(ctx, p.client, p.cfg.MaxRetries)
	drained.Requeued = res.Requeued
	res = drained
	if err != nil {
		return res, err
	}

	if st, serr := store.Stats(ctx); serr == nil {
		p.cfg.Metrics.lag(st.OldestPendingAge.Seconds())
	} else {
		p.cfg.Log.Warn("outbox_stats_failed", slog.String("err", serr.Error()))
	}
	return res, nil
}
