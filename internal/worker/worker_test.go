package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
)

type fakeReporter struct {
	calls   atomic.Int32
	active  atomic.Int32
	delay   time.Duration
	traceID atomic.Value
}

func (f *fakeReporter) Report(ctx context.Context, id string) (*domain.Report, error) {
	f.calls.Add(1)
	f.active.Add(1)
	defer f.active.Add(-1)
	f.traceID.Store(domain.TraceID(ctx))
	time.Sleep(f.delay)
	if id == "missing" {
		return nil, fmt.Errorf("%w: prediction %s", domain.ErrNotFound, id)
	}
	return &domain.Report{PredictionID: id, ContentType: domain.ContentTypePNG, Data: make([]byte, 42)}, nil
}

func publishRequest(t *testing.T, ctx context.Context, b domain.EventBus, id string) {
	t.Helper()
	payload, _ := json.Marshal(domain.ReportRequest{PredictionID: id, RequestedAt: time.Now().UnixNano()})
	if err := b.Publish(ctx, domain.TopicReportRequested, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
}

func waitReady(t *testing.T, ch <-chan domain.ReportReady) domain.ReportReady {
	t.Helper()
	select {
	case ready := <-ch:
		return ready
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for report ready event")
		return domain.ReportReady{}
	}
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	readyCh := make(chan domain.ReportReady, 10)
	eventBus.Subscribe(context.Background(), domain.TopicReportReady, func(ctx context.Context, msg *domain.Message) error {
		var ready domain.ReportReady
		if err := json.Unmarshal(msg.Payload, &ready); err != nil {
			return err
		}
		readyCh <- ready
		return nil
	})

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, &fakeReporter{}, Config{})

		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		if err := w.Ping(context.Background()); err != nil {
			t.Errorf("expected running worker, got %v", err)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		if err := w.Ping(context.Background()); !errors.Is(err, ErrNotRunning) {
			t.Errorf("expected ErrNotRunning after stop, got %v", err)
		}
	})

	t.Run("ProcessReport", func(t *testing.T) {
		reporter := &fakeReporter{}
		w := NewWorker(eventBus, reporter, Config{Timeout: time.Second})
		w.Start()
		defer w.Stop()

		ctx := domain.WithTraceID(context.Background(), "trace-001")
		publishRequest(t, ctx, eventBus, "pred-001")

		ready := waitReady(t, readyCh)
		if ready.PredictionID != "pred-001" {
			t.Errorf("expected prediction 'pred-001', got '%s'", ready.PredictionID)
		}
		if ready.Bytes != 42 {
			t.Errorf("expected 42 bytes, got %d", ready.Bytes)
		}
		if ready.Error != "" {
			t.Errorf("unexpected error: %s", ready.Error)
		}
		if got := reporter.traceID.Load(); got != "trace-001" {
			t.Errorf("expected trace ID 'trace-001', got '%v'", got)
		}
	})

	t.Run("FailureAnnounced", func(t *testing.T) {
		w := NewWorker(eventBus, &fakeReporter{}, Config{})
		w.Start()
		defer w.Stop()

		publishRequest(t, context.Background(), eventBus, "missing")

		ready := waitReady(t, readyCh)
		if ready.Error == "" {
			t.Error("expected error in report ready event")
		}
		if ready.Bytes != 0 {
			t.Errorf("expected 0 bytes, got %d", ready.Bytes)
		}
	})

	t.Run("StopWaitsForJobs", func(t *testing.T) {
		reporter := &fakeReporter{delay: 100 * time.Millisecond}
		w := NewWorker(eventBus, reporter, Config{})
		w.Start()

		publishRequest(t, context.Background(), eventBus, "pred-slow")
		time.Sleep(20 * time.Millisecond)

		w.Stop()
		if reporter.calls.Load() != 1 {
			t.Errorf("expected 1 report call, got %d", reporter.calls.Load())
		}
		ready := waitReady(t, readyCh)
		if ready.PredictionID != "pred-slow" || ready.Error != "" {
			t.Errorf("unexpected ready event: %+v", ready)
		}
	})
}

func TestWorkerIgnoresMalformedRequest(t *testing.T) {
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	reporter := &fakeReporter{}
	w := NewWorker(eventBus, reporter, Config{})
	w.Start()
	defer w.Stop()

	eventBus.Publish(context.Background(), domain.TopicReportRequested, []byte("not json"))
	time.Sleep(50 * time.Millisecond)

	if reporter.calls.Load() != 0 {
		t.Errorf("expected no report calls, got %d", reporter.calls.Load())
	}
}

func requestMessage(id string) *domain.Message {
	payload, _ := json.Marshal(domain.ReportRequest{PredictionID: id})
	return &domain.Message{ID: "msg-" + id, Topic: domain.TopicReportRequested, Payload: payload}
}

func TestWorkerDropsRequestsAfterStop(t *testing.T) {
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	reporter := &fakeReporter{}
	w := NewWorker(eventBus, reporter, Config{})
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	w.Stop()

	// A bus goroutine may still deliver a message it picked up before
	// the subscription was cancelled.
	if err := w.handleMessage(context.Background(), requestMessage("late")); err != nil {
		t.Errorf("expected late request to be dropped quietly, got %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	if reporter.calls.Load() != 0 {
		t.Errorf("expected no report calls after stop, got %d", reporter.calls.Load())
	}
}

func TestWorkerStopRacesDelivery(t *testing.T) {
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	reporter := &fakeReporter{delay: 5 * time.Millisecond}
	w := NewWorker(eventBus, reporter, Config{})
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var senders sync.WaitGroup
	for i := range 50 {
		senders.Add(1)
		go func() {
			defer senders.Done()
			w.handleMessage(context.Background(), requestMessage(fmt.Sprintf("pred-%d", i)))
		}()
	}

	w.Stop()
	if n := reporter.active.Load(); n != 0 {
		t.Errorf("expected no job running after stop, got %d", n)
	}

	senders.Wait()
	time.Sleep(20 * time.Millisecond)
	if n := reporter.active.Load(); n != 0 {
		t.Errorf("expected no job started after stop, got %d", n)
	}
}
