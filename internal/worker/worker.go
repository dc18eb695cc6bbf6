// Package worker renders reports asynchronously from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Reporter produces the report of a stored prediction.
type Reporter interface {
	Report(ctx context.Context, predictionID string) (*domain.Report, error)
}

// Worker consumes report requests and publishes a ReportReady event for
// each, whether rendering succeeded or not.
type Worker struct {
	bus      domain.EventBus
	reporter Reporter
	timeout  time.Duration

	mu            sync.Mutex
	subscriptions []domain.Subscription
	stopping      bool
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// Timeout bounds a single report job. Zero means no limit.
	Timeout time.Duration
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, reporter Reporter, cfg Config) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		reporter: reporter,
		timeout:  cfg.Timeout,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to report requests.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicReportRequested, w.handleMessage)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("report worker started",
		"topic", domain.TopicReportRequested,
	)
	return nil
}

// handleMessage hands the job to its own goroutine so the subscription keeps
// draining. The reporter bounds how many renders run at once. Jobs outlive
// the subscription, so Stop lets them finish. Requests that arrive once Stop
// has begun are dropped.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var req domain.ReportRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse report request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	w.mu.Lock()
	if w.stopping {
		w.mu.Unlock()
		slog.Warn("report worker stopping, request dropped",
			"prediction_id", req.PredictionID,
			"message_id", msg.ID,
		)
		return nil
	}
	w.wg.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()
		w.processReport(context.WithoutCancel(ctx), msg, req)
	}()
	return nil
}

func (w *Worker) processReport(ctx context.Context, msg *domain.Message, req domain.ReportRequest) {
	start := time.Now()

	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	slog.Debug("processing report request",
		"prediction_id", req.PredictionID,
		"message_id", msg.ID,
		"trace_id", domain.TraceID(ctx),
	)

	ready := domain.ReportReady{PredictionID: req.PredictionID}
	r, err := w.reporter.Report(ctx, req.PredictionID)
	if err != nil {
		ready.Error = err.Error()
		slog.Error("report generation failed",
			"prediction_id", req.PredictionID,
			"error", err,
		)
	} else {
		ready.Bytes = r.Len()
	}

	payload, _ := json.Marshal(ready)
	if err := w.bus.Publish(ctx, domain.TopicReportReady, payload); err != nil {
		slog.Error("failed to publish report ready",
			"prediction_id", req.PredictionID,
			"error", err,
		)
	}

	slog.Info("report processed",
		"prediction_id", req.PredictionID,
		"bytes", ready.Bytes,
		"ok", ready.Error == "",
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Stop unsubscribes and waits for in-flight jobs.
func (w *Worker) Stop() error {
	w.mu.Lock()
	w.stopping = true
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil
	w.mu.Unlock()

	w.wg.Wait()
	w.cancel()

	slog.Info("report worker stopped")
	return nil
}

// ErrNotRunning is returned by Ping when the worker holds no subscription.
var ErrNotRunning = errors.New("report worker not running")

// Ping reports whether the worker is subscribed to report requests.
func (w *Worker) Ping(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopping || len(w.subscriptions) == 0 {
		return ErrNotRunning
	}
	return nil
}
