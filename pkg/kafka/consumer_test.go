package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type fakeReader struct {
	msgs chan kafka.Message

	mu        sync.Mutex
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type flakyHandler struct {
	mu       sync.Mutex
	calls    int
	failures int
	panicky  bool
}

func (h *flakyHandler) Topic() string { return "events" }

func (h *flakyHandler) Handle(context.Context, []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.panicky {
		panic("bad payload")
	}
	if h.calls <= h.failures {
		return errors.New("transient")
	}
	return nil
}

func (h *flakyHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func startConsumer(t *testing.T, h MessageHandler, retries int) (*Consumer, *fakeReader) {
	t.Helper()
	r := &fakeReader{msgs: make(chan kafka.Message, 4)}
	c, err := NewConsumer(
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerRetry(retries, time.Millisecond, 2*time.Millisecond),
		WithReaderFactory(func(*ConsumerConfig, string) Reader { return r }),
	)
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	c.RegisterHandler(h)
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	return c, r
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConsumer_RetriesThenCommits(t *testing.T) {
	h := &flakyHandler{failures: 2}
	c, r := startConsumer(t, h, 3)
	r.msgs <- kafka.Message{Offset: 7, Value: []byte(`{}`)}

	waitFor(t, func() bool { return len(r.commits()) == 1 })
	if h.count() != 3 {
		t.Fatalf("expected 3 calls, got %d", h.count())
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !r.closed {
		t.Fatal("reader should be closed on stop")
	}
}

func TestConsumer_PanicIsCommittedAfterRetries(t *testing.T) {
	h := &flakyHandler{panicky: true}
	c, r := startConsumer(t, h, 1)
	defer c.Stop(context.Background())
	r.msgs <- kafka.Message{Offset: 1}

	waitFor(t, func() bool { return len(r.commits()) == 1 })
	if h.count() != 2 {
		t.Fatalf("expected one retry, got %d calls", h.count())
	}
}

func TestNewConsumer_RequiresBrokers(t *testing.T) {
	if _, err := NewConsumer(); err == nil {
		t.Fatal("expected an error without brokers")
	}
}

func TestBackoffWithJitter_Bounded(t *testing.T) {
	for attempt := 1; attempt < 40; attempt++ {
		d := backoffWithJitter(10*time.Millisecond, time.Second, attempt)
		if d <= 0 || d > time.Second {
			t.Fatalf("attempt %d: backoff %v out of range", attempt, d)
		}
	}
}
