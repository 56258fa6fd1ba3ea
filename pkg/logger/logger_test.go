package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type capturePublisher struct {
	mu      sync.Mutex
	topic   string
	batches [][]AggregatedLogEntry
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return nil
}

func TestWriterLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf).With(String("component", "refresher"))
	l.Warn("symbol refresh failed", String("symbol", "SPY"), Error(errors.New("boom")), Duration("took", 1500*time.Millisecond))

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode: %v (%s)", err, buf.String())
	}
	if line["component"] != "refresher" || line["symbol"] != "SPY" || line["error"] != "boom" {
		t.Fatalf("unexpected fields %v", line)
	}
	if line["took"].(float64) != 1500 {
		t.Fatalf("duration should be ms, got %v", line["took"])
	}
}

func TestCollectorAggregatesAndFlushesOnClose(t *testing.T) {
	pub := &capturePublisher{}
	l := NewNop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 50, Topic: "logs", Publisher: pub})
	for i := 0; i < 3; i++ {
		l.Error("upstream failed", String("provider", "yahoo"))
	}
	l.RemoveCollector()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.batches) != 1 || pub.topic != "logs" {
		t.Fatalf("expected one batch on logs, got %d on %q", len(pub.batches), pub.topic)
	}
	if len(pub.batches[0]) != 1 || pub.batches[0][0].Count != 3 {
		t.Fatalf("expected one entry counted 3 times, got %+v", pub.batches[0])
	}
}
