// Package pipeline writes domain records through a key-value store: a primary
// insert with bounded retry, a cascade of best-effort secondary updates, and
// bulk writes split into store-sized chunks with unprocessed-item retry.
//
// Nothing in this package returns a Go error for a failed write. Every
// operation reports a typed outcome that callers inspect.
package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"classcast-backend/infrastructure/persistence/kvstore"
	"classcast-backend/pkg/observability"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// IDGenerator produces a fresh unique id for a record whose id collided.
type IDGenerator func() string

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Pipeline executes writes against a store. It is safe for concurrent use;
// each call keeps its own retry state.
type Pipeline struct {
	store   kvstore.Store
	logger  *zap.Logger
	metrics *observability.Collector
	tracer  trace.Tracer
	newID   IDGenerator
	sleep   SleepFunc

	policies atomic.Pointer[Policies]
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPolicies replaces the default retry policies.
func WithPolicies(p Policies) Option {
	return func(pl *Pipeline) {
		pl.policies.Store(&p)
	}
}

// WithIDGenerator replaces uuid.NewString as the id source.
func WithIDGenerator(gen IDGenerator) Option {
	return func(pl *Pipeline) {
		pl.newID = gen
	}
}

// WithMetrics records pipeline metrics on the collector.
func WithMetrics(c *observability.Collector) Option {
	return func(pl *Pipeline) {
		pl.metrics = c
	}
}

// WithTracer sets the tracer used for pipeline spans.
func WithTracer(t trace.Tracer) Option {
	return func(pl *Pipeline) {
		pl.tracer = t
	}
}

// WithSleep replaces the timer-based wait between attempts.
func WithSleep(fn SleepFunc) Option {
	return func(pl *Pipeline) {
		pl.sleep = fn
	}
}

// New creates a pipeline over store.
func New(store kvstore.Store, logger *zap.Logger, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		store:  store,
		logger: logger,
		tracer: observability.Tracer(),
		newID:  uuid.NewString,
		sleep:  sleepContext,
	}
	defaults := DefaultPolicies()
	p.policies.Store(&defaults)

	for _, opt := range opts {
		opt(p)
	}

	if err := p.policies.Load().Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policies: %w", err)
	}
	return p, nil
}

// SetPolicies swaps the retry policies used by subsequent calls. Calls already
// running keep the policies they started with.
func (p *Pipeline) SetPolicies(policies Policies) error {
	if err := policies.Validate(); err != nil {
		return err
	}
	p.policies.Store(&policies)
	p.logger.Info("Write pipeline retry policies updated",
		zap.Int("primary_max_attempts", policies.Primary.MaxAttempts),
		zap.Duration("primary_base_delay", policies.Primary.BaseDelay),
		zap.Int("batch_max_retries", policies.Batch.MaxAttempts),
	)
	return nil
}

// Policies returns the policies new calls will use.
func (p *Pipeline) Policies() Policies {
	return *p.policies.Load()
}

// ExecuteWrite performs the primary insert and then every secondary update in
// order. Secondary updates are attempted only after the primary write has been
// acknowledged, and a failed secondary never undoes the primary.
func (p *Pipeline) ExecuteWrite(ctx context.Context, req WriteRequest) WriteOutcome {
	policy := p.policies.Load().Primary
	if req.MaxAttempts > 0 {
		policy.MaxAttempts = req.MaxAttempts
	}
	label := req.Label
	if label == "" {
		label = "record"
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.ExecuteWrite",
		trace.WithAttributes(
			attribute.String("pipeline.table", req.Table),
			attribute.Int("pipeline.secondary_count", len(req.Secondary)),
		),
	)
	defer span.End()

	record := req.Record.Clone()
	id, _ := record[req.IDField].(string)
	if req.IDField == "" || id == "" {
		return WriteOutcome{
			Success: false,
			Record:  record,
			Error:   fmt.Sprintf("%s is missing its id field %q", label, req.IDField),
		}
	}

	outcome := p.writePrimary(ctx, req.Table, req.IDField, label, record, policy)
	span.SetAttributes(
		attribute.String("pipeline.primary_id", outcome.PrimaryID),
		attribute.Int("pipeline.attempts", outcome.Attempts),
	)
	if !outcome.Success {
		span.SetStatus(codes.Error, outcome.Error)
		return outcome
	}

	p.runSecondaries(ctx, req.Secondary, &outcome)
	if !outcome.Success {
		span.SetStatus(codes.Error, outcome.Error)
	}
	return outcome
}

func (p *Pipeline) writePrimary(ctx context.Context, table, idField, label string, record kvstore.Item, policy RetryPolicy) WriteOutcome {
	outcome := WriteOutcome{Record: record}

	for attempt := 1; ; attempt++ {
		outcome.Attempts = attempt
		outcome.PrimaryID, _ = record[idField].(string)

		err := p.store.PutIfNotExists(ctx, table, record, idField)
		if err == nil {
			outcome.Success = true
			outcome.Kind = KindUnknown
			p.metrics.RecordPrimaryWrite(table, "success", attempt)
			p.logger.Debug("Primary write succeeded",
				zap.String("table", table),
				zap.String("id", outcome.PrimaryID),
				zap.Int("attempt", attempt),
			)
			return outcome
		}

		kind := Classify(err, true)
		outcome.Kind = kind
		p.logger.Warn("Primary write failed",
			zap.String("table", table),
			zap.String("id", outcome.PrimaryID),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", policy.MaxAttempts),
			zap.Stringer("kind", kind),
			zap.Error(err),
		)

		if !policy.IsRetryable(kind) {
			outcome.Error = terminalMessage(kind, table, err)
			p.metrics.RecordPrimaryWrite(table, kind.String(), attempt)
			return outcome
		}

		if attempt >= policy.MaxAttempts {
			outcome.Error = exhaustedMessage(kind, label, attempt, err)
			p.metrics.RecordPrimaryWrite(table, "exhausted", attempt)
			p.logger.Error("Primary write retries exhausted",
				zap.String("table", table),
				zap.Int("attempts", attempt),
				zap.Stringer("kind", kind),
			)
			return outcome
		}

		if kind == KindDuplicateID {
			record[idField] = p.newID()
			continue
		}

		if err := p.sleep(ctx, policy.Delay(attempt)); err != nil {
			outcome.Error = fmt.Sprintf("write of %s cancelled after %d attempts: %v", label, attempt, err)
			outcome.Kind = KindUnknown
			p.metrics.RecordPrimaryWrite(table, "cancelled", attempt)
			return outcome
		}
	}
}

func (p *Pipeline) runSecondaries(ctx context.Context, ops []SecondaryOperation, outcome *WriteOutcome) {
	for _, op := range ops {
		update := op.Update
		if op.PrimaryIDAttr != "" {
			set := make(map[string]any, len(update.Set)+1)
			for k, v := range update.Set {
				set[k] = v
			}
			set[op.PrimaryIDAttr] = outcome.PrimaryID
			update.Set = set
		}

		err := p.store.Update(ctx, op.Table, op.Key, update)
		if err == nil {
			continue
		}

		kind := Classify(err, false)
		if kind == KindTargetMissing && !op.Critical {
			outcome.SkippedSecondaries = append(outcome.SkippedSecondaries, op.Name)
			p.logger.Info("Secondary update target no longer exists, skipping",
				zap.String("operation", op.Name),
				zap.String("table", op.Table),
			)
			continue
		}

		outcome.SecondaryFailures = append(outcome.SecondaryFailures, SecondaryFailure{
			Name:     op.Name,
			Table:    op.Table,
			Critical: op.Critical,
			Kind:     kind,
			Error:    err.Error(),
		})
		p.metrics.RecordSecondaryFailure(op.Name, op.Critical)

		if !op.Critical {
			p.logger.Warn("Non-critical secondary update failed",
				zap.String("operation", op.Name),
				zap.String("table", op.Table),
				zap.Stringer("kind", kind),
				zap.Error(err),
			)
			continue
		}

		p.logger.Error("Critical secondary update failed",
			zap.String("operation", op.Name),
			zap.String("table", op.Table),
			zap.String("primary_id", outcome.PrimaryID),
			zap.Stringer("kind", kind),
			zap.Error(err),
		)
		if outcome.Success {
			outcome.Success = false
			outcome.Kind = kind
			outcome.Error = fmt.Sprintf("critical update %q failed: %v", op.Name, err)
		}
	}
}

func terminalMessage(kind FailureKind, table string, err error) string {
	switch kind {
	case KindResourceNotFound:
		return fmt.Sprintf("storage resource not found: DynamoDB table %q does not exist", table)
	case KindAccessDenied:
		return fmt.Sprintf("Access denied to table %q: check the service IAM permissions", table)
	default:
		return err.Error()
	}
}

func exhaustedMessage(kind FailureKind, label string, attempts int, err error) string {
	switch kind {
	case KindDuplicateID:
		return "duplicate id, retries exhausted"
	case KindThrottled:
		return fmt.Sprintf("Failed to write %s after %d attempts", label, attempts)
	default:
		return fmt.Sprintf("Failed to write %s after %d attempts: %v", label, attempts, err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
