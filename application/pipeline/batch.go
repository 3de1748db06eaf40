package pipeline

import (
	"context"
	"fmt"

	"classcast-backend/infrastructure/persistence/kvstore"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// BatchWrite writes items to table in consecutive chunks of batchSize.
// Chunks are submitted one after another and a failed chunk never stops the
// next one. Items the store defers are retried; a chunk whose request fails
// outright is reported failed without retry.
func (p *Pipeline) BatchWrite(ctx context.Context, table string, items []kvstore.Item, batchSize int) BatchOutcome {
	if len(items) == 0 {
		return BatchOutcome{Success: true}
	}
	if batchSize < 1 || batchSize > kvstore.MaxBatchSize {
		batchSize = kvstore.MaxBatchSize
	}
	policy := p.policies.Load().Batch

	ctx, span := p.tracer.Start(ctx, "pipeline.BatchWrite",
		trace.WithAttributes(
			attribute.String("pipeline.table", table),
			attribute.Int("pipeline.items", len(items)),
			attribute.Int("pipeline.batch_size", batchSize),
		),
	)
	defer span.End()

	totalChunks := (len(items) + batchSize - 1) / batchSize
	p.logger.Info("Starting batch write",
		zap.String("table", table),
		zap.Int("items", len(items)),
		zap.Int("chunks", totalChunks),
	)

	var outcome BatchOutcome
	for i := 0; i < totalChunks; i++ {
		start := i * batchSize
		end := start + batchSize
		if end > len(items) {
			end = len(items)
		}
		chunk := items[start:end]

		outcome.Submissions++
		unprocessed, err := p.store.BatchWrite(ctx, kvstore.UnprocessedItems{table: chunk})
		if err != nil {
			// Whole request rejected: every item in the chunk failed.
			p.metrics.RecordBatchSubmission("error", 0)
			p.metrics.RecordFailedBatchItems(len(chunk))
			outcome.FailedItems = append(outcome.FailedItems, chunk...)
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("chunk %d: %v", i+1, err))
			p.logger.Error("Batch chunk failed",
				zap.String("table", table),
				zap.Int("chunk", i+1),
				zap.Int("items", len(chunk)),
				zap.Stringer("kind", Classify(err, false)),
				zap.Error(err),
			)
			continue
		}

		deferred := unprocessed.Count()
		p.metrics.RecordBatchSubmission("ok", deferred)
		outcome.ProcessedCount += len(chunk) - deferred
		if deferred == 0 {
			continue
		}

		p.logger.Warn("Batch chunk returned unprocessed items",
			zap.String("table", table),
			zap.Int("chunk", i+1),
			zap.Int("unprocessed", deferred),
		)
		retry := p.retryUnprocessed(ctx, unprocessed, policy.MaxAttempts, policy)
		outcome.Submissions += retry.Attempts
		outcome.ProcessedCount += deferred - len(retry.FailedItems)
		if !retry.Success {
			outcome.FailedItems = append(outcome.FailedItems, retry.FailedItems...)
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("chunk %d: %s", i+1, retry.Error))
		}
	}

	outcome.Success = len(outcome.FailedItems) == 0
	span.SetAttributes(
		attribute.Int("pipeline.processed", outcome.ProcessedCount),
		attribute.Int("pipeline.failed", len(outcome.FailedItems)),
	)
	if !outcome.Success {
		span.SetStatus(codes.Error, "batch write incomplete")
	}

	p.logger.Info("Batch write completed",
		zap.String("table", table),
		zap.Int("processed", outcome.ProcessedCount),
		zap.Int("failed", len(outcome.FailedItems)),
		zap.Int("submissions", outcome.Submissions),
	)
	return outcome
}

// RetryUnprocessedItems resubmits deferred items up to maxRetries times,
// waiting the batch policy's exponential delay before each resubmission.
// An empty set succeeds without touching the store.
func (p *Pipeline) RetryUnprocessedItems(ctx context.Context, unprocessed kvstore.UnprocessedItems, maxRetries int) RetryOutcome {
	return p.retryUnprocessed(ctx, unprocessed, maxRetries, p.policies.Load().Batch)
}

func (p *Pipeline) retryUnprocessed(ctx context.Context, unprocessed kvstore.UnprocessedItems, maxRetries int, policy RetryPolicy) RetryOutcome {
	if unprocessed.IsEmpty() {
		return RetryOutcome{Success: true}
	}

	var outcome RetryOutcome
	pending := unprocessed
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := p.sleep(ctx, policy.Delay(attempt)); err != nil {
			outcome.Error = fmt.Sprintf("retry cancelled: %v", err)
			outcome.FailedItems = pending.Flatten()
			p.metrics.RecordFailedBatchItems(len(outcome.FailedItems))
			return outcome
		}

		outcome.Attempts++
		next, err := p.store.BatchWrite(ctx, pending)
		if err != nil {
			kind := Classify(err, false)
			p.metrics.RecordBatchSubmission("error", 0)
			p.logger.Warn("Unprocessed item retry failed",
				zap.Int("attempt", attempt),
				zap.Int("pending", pending.Count()),
				zap.Stringer("kind", kind),
				zap.Error(err),
			)
			if kind == KindThrottled {
				continue
			}
			outcome.Error = err.Error()
			outcome.FailedItems = pending.Flatten()
			p.metrics.RecordFailedBatchItems(len(outcome.FailedItems))
			return outcome
		}

		p.metrics.RecordBatchSubmission("ok", next.Count())
		if next.IsEmpty() {
			outcome.Success = true
			p.logger.Debug("Unprocessed items written",
				zap.Int("attempt", attempt),
			)
			return outcome
		}

		p.logger.Warn("Items still unprocessed after retry",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Int("remaining", next.Count()),
		)
		pending = next
	}

	outcome.FailedItems = pending.Flatten()
	outcome.Error = fmt.Sprintf("%d items still unprocessed after %d retries", len(outcome.FailedItems), maxRetries)
	p.metrics.RecordFailedBatchItems(len(outcome.FailedItems))
	p.logger.Error("Unprocessed item retries exhausted",
		zap.Int("failed_items", len(outcome.FailedItems)),
		zap.Int("max_retries", maxRetries),
	)
	return outcome
}
