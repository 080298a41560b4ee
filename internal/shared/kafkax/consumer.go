package kafkax

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// ErrConsumerClosed is returned by Fetch and Commit after Close.
var ErrConsumerClosed = errors.New("kafka consumer closed")

type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string

	// StartOffset applies only to a group with no committed offsets:
	// "first" or "last" (default).
	StartOffset string

	MinBytes int
	MaxBytes int
}

// Consumer reads a topic as part of a consumer group with manual commits.
type Consumer struct {
	mu  sync.Mutex
	r   *kafka.Reader
	cfg ConsumerConfig
}

func NewConsumer(cfg ConsumerConfig) *Consumer {
	if cfg.MinBytes <= 0 {
		cfg.MinBytes = 1
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 10e6
	}
	return &Consumer{cfg: cfg, r: newReader(cfg)}
}

func newReader(cfg ConsumerConfig) *kafka.Reader {
	// MaxWait and backoffs keep FetchMessage from hanging on metadata issues.
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		StartOffset:    parseStartOffset(cfg.StartOffset),
		MinBytes:       cfg.MinBytes,
		MaxBytes:       cfg.MaxBytes,
		MaxWait:        500 * time.Millisecond,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: time.Second,
		CommitInterval: 0,
	})
}

func parseStartOffset(s string) int64 {
	if strings.EqualFold(strings.TrimSpace(s), "first") {
		return kafka.FirstOffset
	}
	return kafka.LastOffset
}

func (c *Consumer) Topic() string   { return c.cfg.Topic }
func (c *Consumer) GroupID() string { return c.cfg.GroupID }

func (c *Consumer) reader() *kafka.Reader {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.r
}

func (c *Consumer) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r := c.reader()
	if r == nil {
		return kafka.Message{}, ErrConsumerClosed
	}
	return r.FetchMessage(ctx)
}

func (c *Consumer) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r := c.reader()
	if r == nil {
		return ErrConsumerClosed
	}
	return r.CommitMessages(ctx, msgs...)
}

// Reopen replaces the reader; uncommitted messages are redelivered.
func (c *Consumer) Reopen() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.r != nil {
		_ = c.r.Close()
	}
	c.r = newReader(c.cfg)
}

func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.r == nil {
		return nil
	}
	err := c.r.Close()
	c.r = nil
	return err
}
