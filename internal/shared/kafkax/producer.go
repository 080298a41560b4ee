package kafkax

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

const defaultWriteTimeout = 5 * time.Second

// ErrProducerClosed is returned by Produce after Close.
var ErrProducerClosed = errors.New("kafka producer closed")

type ProducerConfig struct {
	Brokers      []string
	Topic        string
	ClientID     string
	WriteTimeout time.Duration
}

// Producer is a synchronous single-topic writer that rebuilds itself when
// broker metadata goes stale.
type Producer struct {
	mu        sync.Mutex
	w         *kafka.Writer
	cfg       ProducerConfig
	lastReset time.Time
}

func NewProducer(cfg ProducerConfig) *Producer {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &Producer{cfg: cfg, w: newWriter(cfg)}
}

func newWriter(cfg ProducerConfig) *kafka.Writer {
	// Short metadata TTL lets the writer follow advertised.listeners changes.
	tr := &kafka.Transport{
		ClientID:    cfg.ClientID,
		MetadataTTL: 10 * time.Second,
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
		Transport:              tr,
	}
}

func (p *Producer) Topic() string { return p.cfg.Topic }

func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.w == nil {
		return nil
	}
	err := p.w.Close()
	p.w = nil
	return err
}

// Produce writes one message and waits for the broker ack. A zero timeout
// falls back to the configured WriteTimeout.
func (p *Producer) Produce(ctx context.Context, key, value []byte, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = p.cfg.WriteTimeout
	}

	err := p.write(ctx, key, value, timeout)
	if err != nil && shouldReset(err) {
		p.reset()
		return p.write(ctx, key, value, timeout)
	}
	return err
}

func (p *Producer) write(ctx context.Context, key, value []byte, timeout time.Duration) error {
	p.mu.Lock()
	w := p.w
	p.mu.Unlock()
	if w == nil {
		return ErrProducerClosed
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return w.WriteMessages(wctx, kafka.Message{Key: key, Value: value})
}

func shouldReset(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	// kafka.Error also satisfies net.Error, so it is checked first.
	var ke kafka.Error
	if errors.As(err, &ke) {
		switch ke {
		case kafka.NotLeaderForPartition, kafka.LeaderNotAvailable, kafka.BrokerNotAvailable, kafka.UnknownTopicOrPartition:
			return true
		}
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	s := strings.ToLower(err.Error())
	for _, sub := range []string{"connection refused", "broken pipe", "unknown broker", "failed to dial"} {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func (p *Producer) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.w == nil || time.Since(p.lastReset) < 2*time.Second {
		return
	}
	_ = p.w.Close()
	p.w = newWriter(p.cfg)
	p.lastReset = time.Now()
}
