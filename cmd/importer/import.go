package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"classcast-backend/interfaces/http/rest/handlers"
	"classcast-backend/pkg/httpclient"

	"go.uber.org/zap"
)

const batchPath = "/api/v1/assignments/batch"

// maxPerRequest matches the server's per-request import limit.
const maxPerRequest = 1000

// Summary totals an import across requests.
type Summary struct {
	Requests  int
	Processed int
	Failed    int
	Errors    []string
}

// readAssignments accepts either a bare JSON array or an object with an
// "assignments" array.
func readAssignments(r io.Reader) ([]handlers.CreateAssignmentRequest, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}

	var list []handlers.CreateAssignmentRequest
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}

	var wrapped handlers.BatchAssignmentRequest
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}
	return wrapped.Assignments, nil
}

// importer posts assignments to the batch endpoint in chunks.
type importer struct {
	client    *httpclient.Client
	chunkSize int
	logger    *zap.Logger
}

// run sends list in chunks of at most chunkSize. Chunk i carries the request
// id "<requestID>-<i>". It stops at the first chunk the API rejects.
func (im *importer) run(ctx context.Context, list []handlers.CreateAssignmentRequest, requestID string) (Summary, error) {
	size := im.chunkSize
	if size <= 0 || size > maxPerRequest {
		size = maxPerRequest
	}

	var sum Summary
	for start, n := 0, 0; start < len(list); start, n = start+size, n+1 {
		end := min(start+size, len(list))
		chunkID := fmt.Sprintf("%s-%d", requestID, n)

		resp, err := httpclient.Post[handlers.BatchAssignmentResponse](ctx, im.client, batchPath, handlers.BatchAssignmentRequest{
			RequestID:   chunkID,
			Assignments: list[start:end],
		})
		if err != nil {
			return sum, fmt.Errorf("import chunk %s: %w", chunkID, err)
		}

		sum.Requests++
		sum.Processed += resp.ProcessedCount
		sum.Failed += resp.FailedCount
		sum.Errors = append(sum.Errors, resp.Errors...)

		im.logger.Info("Imported chunk",
			zap.String("request_id", chunkID),
			zap.Int("processed", resp.ProcessedCount),
			zap.Int("failed", resp.FailedCount),
		)
	}
	return sum, nil
}
