package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/footballistika/predictor/internal/config"
	"github.com/footballistika/predictor/internal/metrics"
)

// fakeGroup stands in for a broker connection. When reachable it opens a
// session and holds it until ctx ends; otherwise every Consume fails.
type fakeGroup struct {
	reachable bool
	sessions  atomic.Int32
	errs      chan error
}

func (g *fakeGroup) Consume(ctx context.Context, _ []string, handler sarama.ConsumerGroupHandler) error {
	if !g.reachable {
		return errors.New("kafka: client has run out of available brokers")
	}
	g.sessions.Add(1)
	if err := handler.Setup(nil); err != nil {
		return err
	}
	<-ctx.Done()
	return handler.Cleanup(nil)
}

func (g *fakeGroup) Errors() <-chan error { return g.errs }
func (g *fakeGroup) Close() error { return nil }
func (g *fakeGroup) Pause(map[string][]int32) {}
func (g *fakeGroup) Resume(map[string][]int32) {}
func (g *fakeGroup) PauseAll() {}
func (g *fakeGroup) ResumeAll() {}

func newTestConsumer(group sarama.ConsumerGroup) *Consumer {
	cfg := &config.KafkaConfig{Topic: "commands", GroupID: "test", BatchSize: 10, BatchTimeout: time.Millisecond, RetryDelay: time.Millisecond}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		config:        cfg,
		processor:     NewProcessor(&fakeHandler{}, metrics.New(), logger, 0, time.Millisecond),
		logger:        logger,
		consumerGroup: group,
		ctx:           ctx,
		cancel:        cancel,
	}
}

func TestConsumerStartWaitsForSession(t *testing.T) {
	group := &fakeGroup{reachable: true, errs: make(chan error)}
	c := newTestConsumer(group)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if group.sessions.Load() != 1 {
		t.Errorf("sessions = %d, want 1", group.sessions.Load())
	}
	if err := c.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestConsumerStartGivesUpWhenBrokerUnreachable(t *testing.T) {
	c := newTestConsumer(&fakeGroup{errs: make(chan error)})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := c.Start(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Start = %v, want deadline exceeded", err)
	}

	done := make(chan error, 1)
	go func() { done <- c.Stop() }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Stop: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after a failed Start")
	}
}
