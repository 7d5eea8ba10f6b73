// Package pipeline turns a raw application into a decision, trying the
// remote scorer first and falling back to the local heuristic.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/heron/internal/decision"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/normalize"
	"github.com/opensource-finance/heron/internal/remote"
)

// ErrHeuristicStage is returned when the local scorer fails. With a
// validated rule set this only happens on a runtime evaluation error.
var ErrHeuristicStage = errors.New("heuristic scoring failed")

var tracer = otel.Tracer("heron-pipeline")

// RemoteScorer is the remote stage. *remote.Client implements it.
type RemoteScorer interface {
	Predict(ctx context.Context, rec domain.ApplicantRecord) (*remote.Prediction, error)
}

// HeuristicScorer is the local stage. *scoring.Engine implements it.
type HeuristicScorer interface {
	Score(rec domain.ApplicantRecord) (domain.ScoreBreakdown, error)
}

// Pipeline runs the staged decision flow. It holds no per-request state and
// is safe for concurrent use.
type Pipeline struct {
	normalizer *normalize.Normalizer
	remote     RemoteScorer
	scorer     HeuristicScorer
	mapper     *decision.Mapper
	logger     *slog.Logger
	metrics    *instruments
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRemote enables the remote stage.
func WithRemote(r RemoteScorer) Option {
	return func(p *Pipeline) {
		p.remote = r
	}
}

// WithMapper overrides the default decision thresholds.
func WithMapper(m *decision.Mapper) Option {
	return func(p *Pipeline) {
		p.mapper = m
	}
}

// WithLogger sets the logger used for stage transitions.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// New creates a pipeline. Without WithRemote every request is scored locally.
func New(scorer HeuristicScorer, opts ...Option) *Pipeline {
	p := &Pipeline{
		normalizer: normalize.New(),
		scorer:     scorer,
		mapper:     decision.NewMapper(),
		logger:     slog.Default(),
		metrics:    newInstruments(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RemoteEnabled reports whether the remote stage is configured.
func (p *Pipeline) RemoteEnabled() bool {
	return p.remote != nil
}

// Predict normalizes raw and scores it. Invalid input is returned as a
// *normalize.ValidationError.
func (p *Pipeline) Predict(ctx context.Context, raw map[string]any) (*domain.PredictionResult, error) {
	return p.predict(ctx, raw, false)
}

// PredictOrDefault is Predict for callers that cannot report a validation
// error: invalid input yields the default-stage rejection instead.
func (p *Pipeline) PredictOrDefault(ctx context.Context, raw map[string]any) (*domain.PredictionResult, error) {
	return p.predict(ctx, raw, true)
}

// PredictRecord scores an already normalized record.
func (p *Pipeline) PredictRecord(ctx context.Context, rec domain.ApplicantRecord) (*domain.PredictionResult, error) {
	ctx, span := tracer.Start(ctx, "pipeline.predict")
	defer span.End()

	return p.finish(ctx, span, time.Now(), p.score(ctx, rec))
}

func (p *Pipeline) predict(ctx context.Context, raw map[string]any, lenient bool) (*domain.PredictionResult, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "pipeline.predict",
		trace.WithAttributes(attribute.Bool("pipeline.lenient", lenient)),
	)
	defer span.End()

	rec, err := p.normalizer.Normalize(raw)
	if err != nil {
		if !lenient {
			span.SetStatus(codes.Error, "invalid input")
			return nil, err
		}
		p.logger.Warn("application could not be normalized, using default decision", "error", err)
		return p.finish(ctx, span, start, stageResult{outcome: DefaultOutcome{Reason: err}})
	}

	return p.finish(ctx, span, start, p.score(ctx, rec))
}

type stageResult struct {
	outcome Outcome
	err     error
}

type state int

const (
	stateTryRemote state = iota
	stateTryHeuristic
	stateDone
)

// score runs the remote and heuristic stages. Each stage is attempted once.
func (p *Pipeline) score(ctx context.Context, rec domain.ApplicantRecord) stageResult {
	var (
		result        stageResult
		remoteFailure string
	)

	st := stateTryRemote
	for st != stateDone {
		switch st {
		case stateTryRemote:
			if p.remote == nil {
				p.logger.Debug("remote scorer disabled, scoring locally")
				st = stateTryHeuristic
				continue
			}
			pred, err := p.tryRemote(ctx, rec)
			if err == nil {
				result.outcome = RemoteOutcome{Prediction: *pred, AnnualIncome: rec.AnnualIncome}
				st = stateDone
				continue
			}
			if ctx.Err() != nil {
				result.err = ctx.Err()
				st = stateDone
				continue
			}
			remoteFailure = remote.Code(err)
			p.metrics.recordRemoteFailure(ctx, remoteFailure)
			p.logger.Warn("remote scoring failed, falling back to heuristic",
				"kind", remoteFailure,
				"error", err,
			)
			st = stateTryHeuristic

		case stateTryHeuristic:
			b, err := p.tryHeuristic(ctx, rec)
			if err != nil {
				p.logger.Error("heuristic scoring failed", "error", err)
				result.err = fmt.Errorf("%w: %w", ErrHeuristicStage, err)
			} else {
				result.outcome = HeuristicOutcome{
					Breakdown:     b,
					AnnualIncome:  rec.AnnualIncome,
					RemoteFailure: remoteFailure,
				}
			}
			st = stateDone
		}
	}
	return result
}

func (p *Pipeline) tryRemote(ctx context.Context, rec domain.ApplicantRecord) (*remote.Prediction, error) {
	ctx, span := tracer.Start(ctx, "pipeline.remote")
	defer span.End()

	pred, err := p.remote.Predict(ctx, rec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, remote.Code(err))
		return nil, err
	}
	span.SetAttributes(attribute.Float64("remote.approval_probability", pred.ApprovalProbability))
	return pred, nil
}

func (p *Pipeline) tryHeuristic(ctx context.Context, rec domain.ApplicantRecord) (domain.ScoreBreakdown, error) {
	_, span := tracer.Start(ctx, "pipeline.heuristic")
	defer span.End()

	b, err := p.scorer.Score(rec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "heuristic failed")
		return b, err
	}
	span.SetAttributes(
		attribute.Int("heuristic.score", b.Score),
		attribute.Bool("heuristic.overridden", b.Overridden),
		attribute.String("heuristic.ruleset", b.RuleSetVersion),
	)
	return b, nil
}

func (p *Pipeline) finish(ctx context.Context, span trace.Span, start time.Time, r stageResult) (*domain.PredictionResult, error) {
	if r.err != nil {
		span.RecordError(r.err)
		span.SetStatus(codes.Error, r.err.Error())
		return nil, r.err
	}

	res, err := Assemble(r.outcome, p.mapper)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("pipeline.stage", string(res.SourceStage)),
		attribute.String("pipeline.classification", string(res.Classification)),
	)
	p.metrics.recordResult(ctx, res, start)
	p.logger.Debug("pipeline finished",
		"stage", res.SourceStage,
		"classification", res.Classification,
		"probability", res.ApprovalProbability,
	)
	return res, nil
}
