// Package worker scores applications consumed from the event bus.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("heron-worker")

// ErrStopped is returned for messages that arrive after Stop.
var ErrStopped = errors.New("worker stopped")

// DefaultConcurrency bounds in-flight pipeline runs when Config leaves it unset.
const DefaultConcurrency = 5

// Predictor is the lenient pipeline entry point.
type Predictor interface {
	PredictOrDefault(ctx context.Context, raw map[string]any) (*domain.PredictionResult, error)
}

// Worker consumes TopicApplicationSubmitted and publishes a DecisionEvent
// for every message, including malformed ones.
type Worker struct {
	bus       domain.EventBus
	predictor Predictor

	mu            sync.Mutex
	subscriptions []domain.Subscription
	stopped       bool
	sem           chan struct{}
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
}

// Config holds worker configuration.
type Config struct {
	// Concurrency is the maximum number of applications scored at once.
	Concurrency int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, predictor Predictor) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		predictor: predictor,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to submitted applications.
func (w *Worker) Start(cfg Config) error {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return ErrStopped
	}
	w.sem = make(chan struct{}, concurrency)
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicApplicationSubmitted, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("worker started",
		"topic", domain.TopicApplicationSubmitted,
		"concurrency", concurrency,
	)
	return nil
}

// handleMessage blocks until a slot is free, then scores the message in
// the background so the bus keeps delivering. Once Stop has begun no new
// run is admitted.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	select {
	case w.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-w.ctx.Done():
		return ErrStopped
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		<-w.sem
		return ErrStopped
	}
	w.wg.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()
		// Admitted runs finish even when Stop cancels the worker; only the
		// publisher's trace is carried over.
		pctx := trace.ContextWithRemoteSpanContext(context.WithoutCancel(w.ctx), trace.SpanContextFromContext(ctx))
		w.process(pctx, msg)
	}()
	return nil
}

// process scores one message and publishes the decision.
func (w *Worker) process(ctx context.Context, msg *domain.Message) {
	start := time.Now()
	requestID, raw := decodeSubmission(msg)

	ctx, span := tracer.Start(ctx, "worker.process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("heron.request_id", requestID)),
	)
	defer span.End()

	event := domain.DecisionEvent{RequestID: requestID}

	res, err := w.predictor.PredictOrDefault(ctx, raw)
	if err != nil {
		w.failed.Add(1)
		event.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, "scoring failed")
		slog.Error("application scoring failed",
			"request_id", requestID,
			"error", err,
		)
	} else {
		event.Result = res
	}
	event.ScoredAt = time.Now().UnixMilli()

	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to encode decision", "request_id", requestID, "error", err)
		return
	}

	if err := w.bus.Publish(ctx, domain.TopicDecision, payload); err != nil {
		slog.Error("failed to publish decision",
			"request_id", requestID,
			"error", err,
		)
	}

	if res != nil && res.Classification == domain.ClassificationManualReview {
		if err := w.bus.Publish(ctx, domain.TopicManualReview, payload); err != nil {
			slog.Error("failed to publish manual review",
				"request_id", requestID,
				"error", err,
			)
		}
	}

	w.processed.Add(1)
	if res != nil {
		slog.Info("application processed",
			"request_id", requestID,
			"stage", res.SourceStage,
			"classification", res.Classification,
			"probability", res.ApprovalProbability,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// decodeSubmission accepts either an ApplicationSubmitted envelope or a bare
// applicant object with an optional requestId. Anything else yields a nil
// applicant, which the lenient pipeline turns into a default decision.
func decodeSubmission(msg *domain.Message) (string, map[string]any) {
	dec := json.NewDecoder(bytes.NewReader(msg.Payload))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		slog.Warn("malformed application payload", "message_id", msg.ID, "error", err)
		return msg.ID, nil
	}

	requestID, _ := raw["requestId"].(string)
	if requestID == "" {
		requestID = msg.ID
	}

	if applicant, ok := raw["applicant"].(map[string]any); ok {
		return requestID, applicant
	}

	delete(raw, "requestId")
	return requestID, raw
}

// Stop stops admitting applications, unsubscribes and waits for the runs
// already admitted to publish their decisions. It is safe to call twice.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	w.cancel()
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.wg.Wait()

	slog.Info("worker stopped", "processed", w.processed.Load(), "failed", w.failed.Load())
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
	}
}
