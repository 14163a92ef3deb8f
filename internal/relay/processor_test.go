package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/fleetwire/fleetrelay/internal/message"
)

// fakeQueue is an in-memory Queue for processor and relay tests.
type fakeQueue struct {
	mu         sync.Mutex
	pending    []*Delivery
	updates    []*Delivery
	enqueueErr error
}

func (q *fakeQueue) Enqueue(ctx context.Context, d *Delivery) error {
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, d)
	return nil
}

func (q *fakeQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, nil
	}
	d := q.pending[0]
	q.pending = q.pending[1:]
	d.Status = StatusSending
	return d, nil
}

func (q *fakeQueue) Update(ctx context.Context, d *Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	copied := *d
	q.updates = append(q.updates, &copied)
	return nil
}

func (q *fakeQueue) Get(ctx context.Context, id string) (*Delivery, error) { return nil, nil }

func (q *fakeQueue) List(ctx context.Context, filter ListFilter) ([]*Delivery, error) {
	return nil, nil
}

func (q *fakeQueue) Stats(ctx context.Context) (*QueueStats, error) {
	return &QueueStats{}, nil
}

func (q *fakeQueue) lastUpdate() *Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.updates) == 0 {
		return nil
	}
	return q.updates[len(q.updates)-1]
}

type fakeSender struct {
	mu   sync.Mutex
	err  error
	sent []string
}

func (s *fakeSender) Send(ctx context.Context, to string, rendered *message.RenderedMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, to)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProcessOneSuccess(t *testing.T) {
	q := &fakeQueue{}
	sender := &fakeSender{}
	p := NewProcessor(q, sender, ProcessorConfig{}, testLogger())

	d := testDelivery("ok", time.Now())
	q.Enqueue(context.Background(), d)

	p.processOne(context.Background(), testLogger())

	if len(sender.sent) != 1 || sender.sent[0] != "+15550001111" {
		t.Fatalf("sent = %v", sender.sent)
	}
	update := q.lastUpdate()
	if update == nil || update.Status != StatusDelivered {
		t.Fatalf("update = %v, want delivered", update)
	}
}

func TestProcessOneDefersOnFailure(t *testing.T) {
	q := &fakeQueue{}
	sender := &fakeSender{err: errors.New("api unavailable")}
	p := NewProcessor(q, sender, ProcessorConfig{MaxRetries: 3, RetryInterval: time.Minute}, testLogger())

	q.Enqueue(context.Background(), testDelivery("flaky", time.Now()))

	p.processOne(context.Background(), testLogger())

	update := q.lastUpdate()
	if update == nil {
		t.Fatal("expected a status update")
	}
	if update.Status != StatusDeferred {
		t.Errorf("status = %q, want deferred", update.Status)
	}
	if update.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", update.RetryCount)
	}
	if update.LastError != "api unavailable" {
		t.Errorf("last error = %q", update.LastError)
	}
	if !update.NextRetryAt.After(time.Now()) {
		t.Errorf("next retry %v should be in the future", update.NextRetryAt)
	}
}

func TestProcessOneFailsPermanently(t *testing.T) {
	q := &fakeQueue{}
	sender := &fakeSender{err: errors.New("bad number")}
	p := NewProcessor(q, sender, ProcessorConfig{MaxRetries: 3}, testLogger())

	d := testDelivery("doomed", time.Now())
	d.RetryCount = 2 // one attempt left
	q.Enqueue(context.Background(), d)

	p.processOne(context.Background(), testLogger())

	update := q.lastUpdate()
	if update == nil || update.Status != StatusFailed {
		t.Fatalf("update = %v, want failed", update)
	}
	if update.RetryCount != 3 {
		t.Errorf("retry count = %d, want 3", update.RetryCount)
	}
}

func TestProcessOneEmptyQueue(t *testing.T) {
	q := &fakeQueue{}
	sender := &fakeSender{}
	p := NewProcessor(q, sender, ProcessorConfig{}, testLogger())

	p.processOne(context.Background(), testLogger())

	if len(sender.sent) != 0 {
		t.Errorf("nothing should send from an empty queue")
	}
	if q.lastUpdate() != nil {
		t.Errorf("nothing should update from an empty queue")
	}
}

func TestCalculateBackoff(t *testing.T) {
	p := NewProcessor(&fakeQueue{}, &fakeSender{}, ProcessorConfig{RetryInterval: time.Minute}, testLogger())

	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{1, 1 * time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{4, 8 * time.Minute},
		{5, 12 * time.Minute}, // capped multiplier
		{10, 12 * time.Minute},
	}

	for _, tt := range tests {
		if got := p.calculateBackoff(tt.retryCount); got != tt.want {
			t.Errorf("calculateBackoff(%d) = %v, want %v", tt.retryCount, got, tt.want)
		}
	}

	// Absolute cap at one hour.
	long := NewProcessor(&fakeQueue{}, &fakeSender{}, ProcessorConfig{RetryInterval: 30 * time.Minute}, testLogger())
	if got := long.calculateBackoff(10); got != time.Hour {
		t.Errorf("backoff = %v, want 1h cap", got)
	}
}

func TestProcessorStartStop(t *testing.T) {
	q := &fakeQueue{}
	sender := &fakeSender{}
	p := NewProcessor(q, sender, ProcessorConfig{
		Workers:         2,
		ProcessInterval: 10 * time.Millisecond,
	}, testLogger())

	q.Enqueue(context.Background(), testDelivery("queued", time.Now()))

	p.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	p.Stop()

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.sent) != 1 {
		t.Errorf("got %d sends, want 1", len(sender.sent))
	}
}
