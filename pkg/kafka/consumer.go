package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"

	xlogger "CapitalDash/pkg/logger"
)

// MessageHandler handles messages from a specific topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// Reader is the part of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsumerOption configures Consumer.
type ConsumerOption func(*ConsumerConfig)

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	Brokers    []string
	GroupID    string
	RetryMax   int
	BackoffMin time.Duration
	BackoffMax time.Duration
	MinBytes   int
	MaxBytes   int
	Registerer prometheus.Registerer
	Logger     *xlogger.Logger
	// NewReader builds the reader for a topic. Defaults to a kafka-go group reader.
	NewReader func(cfg *ConsumerConfig, topic string) Reader
}

func WithConsumerBrokers(brokers []string) ConsumerOption {
	return func(c *ConsumerConfig) { c.Brokers = brokers }
}

func WithConsumerGroupID(groupID string) ConsumerOption {
	return func(c *ConsumerConfig) { c.GroupID = groupID }
}

// WithConsumerRetry configures retry attempts and backoff range.
func WithConsumerRetry(max int, backoffMin, backoffMax time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.RetryMax = max
		c.BackoffMin = backoffMin
		c.BackoffMax = backoffMax
	}
}

func WithConsumerRegisterer(reg prometheus.Registerer) ConsumerOption {
	return func(c *ConsumerConfig) { c.Registerer = reg }
}

func WithConsumerLogger(l *xlogger.Logger) ConsumerOption {
	return func(c *ConsumerConfig) { c.Logger = l }
}

// WithReaderFactory replaces the kafka-go reader, mainly for tests.
func WithReaderFactory(f func(cfg *ConsumerConfig, topic string) Reader) ConsumerOption {
	return func(c *ConsumerConfig) { c.NewReader = f }
}

// Consumer reads each registered topic on its own goroutine and hands
// messages to the topic handler one at a time. Offsets are committed after
// the handler succeeds or its retries run out.
type Consumer struct {
	cfg      *ConsumerConfig
	handlers map[string]MessageHandler
	readers  map[string]Reader
	metrics  *consumerMetrics
	logger   *xlogger.Logger

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{
		GroupID:    "capitaldash",
		RetryMax:   3,
		BackoffMin: 50 * time.Millisecond,
		BackoffMax: 2 * time.Second,
		MinBytes:   1,
		MaxBytes:   1e6,
		NewReader:  newGroupReader,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = xlogger.NewNop()
	}
	return &Consumer{
		cfg:      cfg,
		handlers: make(map[string]MessageHandler),
		readers:  make(map[string]Reader),
		metrics:  newConsumerMetrics(cfg.Registerer),
		logger:   cfg.Logger.With(xlogger.String("component", "kafka_consumer")),
	}, nil
}

func newGroupReader(cfg *ConsumerConfig, topic string) Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    topic,
		GroupID:  cfg.GroupID,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
	})
}

// RegisterHandler must be called before Start. A second handler for the
// same topic is ignored.
func (c *Consumer) RegisterHandler(handler MessageHandler) {
	topic := handler.Topic()
	if _, ok := c.handlers[topic]; ok {
		c.logger.Warn("handler already registered", xlogger.String("topic", topic))
		return
	}
	c.handlers[topic] = handler
}

func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return fmt.Errorf("no handlers registered")
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	for topic, h := range c.handlers {
		r := c.cfg.NewReader(c.cfg, topic)
		c.readers[topic] = r
		c.wg.Add(1)
		go c.consume(ctx, topic, r, h)
	}
	c.logger.Info("kafka consumer started", xlogger.String("group", c.cfg.GroupID), xlogger.Int("topics", len(c.handlers)))
	return nil
}

// Stop ends the read loops and waits for them until ctx expires.
func (c *Consumer) Stop(ctx context.Context) error {
	var stopErr error
	c.stopOnce.Do(func() {
		if c.cancel == nil {
			return
		}
		c.cancel()
		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			stopErr = fmt.Errorf("timeout waiting for consumer to stop: %w", ctx.Err())
		}
		for topic, r := range c.readers {
			if err := r.Close(); err != nil {
				c.logger.Warn("close reader", xlogger.String("topic", topic), xlogger.Error(err))
			}
		}
		if stopErr == nil {
			c.logger.Info("kafka consumer stopped")
		}
	})
	return stopErr
}

func (c *Consumer) consume(ctx context.Context, topic string, r Reader, h MessageHandler) {
	defer c.wg.Done()
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, context.DeadlineExceeded) {
				c.logger.Warn("fetch message", xlogger.String("topic", topic), xlogger.Error(err))
			}
			if !sleepCtx(ctx, c.cfg.BackoffMax) {
				return
			}
			continue
		}
		start := time.Now()
		err = c.handle(ctx, h, msg.Value)
		c.metrics.observe(topic, time.Since(start), err)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("message dropped after retries",
				xlogger.String("topic", topic),
				xlogger.Int64("offset", msg.Offset),
				xlogger.Error(err))
		}
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := r.CommitMessages(cctx, msg); err != nil {
			c.logger.Warn("commit offset", xlogger.String("topic", topic), xlogger.Error(err))
		}
		cancel()
	}
}

// handle runs h with panic recovery and jittered exponential backoff.
func (c *Consumer) handle(ctx context.Context, h MessageHandler, data []byte) (err error) {
	for attempt := 1; ; attempt++ {
		err = safeHandle(ctx, h, data)
		if err == nil || attempt > c.cfg.RetryMax {
			return err
		}
		if !sleepCtx(ctx, backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempt)) {
			return ctx.Err()
		}
	}
}

func safeHandle(ctx context.Context, h MessageHandler, data []byte) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return h.Handle(ctx, data)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	exp := min * time.Duration(1<<uint(attempt-1))
	if exp > max || exp <= 0 {
		exp = max
	}
	// up to 50% jitter
	if half := int64(exp) / 2; half > 0 {
		exp -= time.Duration(rand.Int63n(half))
	}
	return exp
}

type consumerMetrics struct {
	handled *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

func newConsumerMetrics(reg prometheus.Registerer) *consumerMetrics {
	if reg == nil {
		return nil
	}
	f := promauto.With(reg)
	return &consumerMetrics{
		handled: f.NewCounterVec(
			prometheus.CounterOpts{Name: "capitaldash_kafka_consumer_messages_total", Help: "Consumed messages by result"},
			[]string{"topic", "result"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{Name: "capitaldash_kafka_consumer_handle_seconds", Help: "Handling time per message"},
			[]string{"topic"},
		),
	}
}

func (m *consumerMetrics) observe(topic string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.handled.WithLabelValues(topic, result).Inc()
	m.latency.WithLabelValues(topic).Observe(d.Seconds())
}
