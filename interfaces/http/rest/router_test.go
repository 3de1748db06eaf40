package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	appassignments "classcast-backend/application/assignments"
	"classcast-backend/application/pipeline"
	"classcast-backend/domain/assignments"
	"classcast-backend/infrastructure/persistence/kvstore"
	"classcast-backend/interfaces/http/rest/handlers"
	apperrors "classcast-backend/pkg/errors"
	"classcast-backend/pkg/observability"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockAssignmentService struct {
	mock.Mock
}

func (m *MockAssignmentService) PerformAssignmentWrite(ctx context.Context, a assignments.Assignment) pipeline.WriteOutcome {
	return m.Called(ctx, a).Get(0).(pipeline.WriteOutcome)
}

func (m *MockAssignmentService) BatchWriteAssignments(ctx context.Context, list []assignments.Assignment, requestID string) pipeline.BatchOutcome {
	return m.Called(ctx, list, requestID).Get(0).(pipeline.BatchOutcome)
}

func (m *MockAssignmentService) GetAssignment(ctx context.Context, id string) (kvstore.Item, error) {
	args := m.Called(ctx, id)
	item, _ := args.Get(0).(kvstore.Item)
	return item, args.Error(1)
}

func newTestRouter(svc handlers.AssignmentService, ready ReadinessCheck) http.Handler {
	logger := zap.NewNop()
	errs := apperrors.NewErrorHandler(logger, false)
	h := handlers.NewAssignmentHandler(svc, errs, logger)
	return NewRouter(h, observability.NewCollector("test"), errs, ready, logger).Setup()
}

func validBody() map[string]any {
	return map[string]any{
		"courseId":       "course-1",
		"instructorId":   "inst-1",
		"title":          "Lab demo",
		"assignmentType": "video",
		"dueDate":        "2026-11-01T12:00:00Z",
		"maxScore":       100,
	}
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func TestCreateAssignment_Created(t *testing.T) {
	// Arrange
	svc := new(MockAssignmentService)
	svc.On("PerformAssignmentWrite", mock.Anything, mock.MatchedBy(func(a assignments.Assignment) bool {
		return a.CourseID == "course-1" && a.Type == assignments.TypeVideo
	})).Return(pipeline.WriteOutcome{
		Success:            true,
		PrimaryID:          "a-1",
		Attempts:           1,
		Record:             kvstore.Item{"createdAt": "2026-10-16T00:00:00Z"},
		SkippedSecondaries: []string{"instructorStats"},
	})
	router := newTestRouter(svc, nil)

	// Act
	rec := do(t, router, http.MethodPost, "/api/v1/assignments/", validBody())

	// Assert
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp handlers.CreateAssignmentResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "a-1", resp.AssignmentID)
	assert.Equal(t, []string{"instructorStats"}, resp.SkippedSecondaries)
	assert.Equal(t, "2026-10-16T00:00:00Z", resp.CreatedAt)
	svc.AssertExpectations(t)
}

func TestCreateAssignment_ValidationError(t *testing.T) {
	svc := new(MockAssignmentService)
	router := newTestRouter(svc, nil)
	body := validBody()
	body["assignmentType"] = "quiz"

	rec := do(t, router, http.MethodPost, "/api/v1/assignments/", body)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "assignmentType must be one of")
	svc.AssertNotCalled(t, "PerformAssignmentWrite", mock.Anything, mock.Anything)
}

func TestCreateAssignment_FailureStatuses(t *testing.T) {
	tests := []struct {
		name    string
		outcome pipeline.WriteOutcome
		status  int
		code    string
	}{
		{"throttled", pipeline.WriteOutcome{Kind: pipeline.KindThrottled, Attempts: 3, Error: "Failed to write assignment after 3 attempts"}, http.StatusTooManyRequests, "throttled"},
		{"duplicate", pipeline.WriteOutcome{Kind: pipeline.KindDuplicateID, Attempts: 3, Error: "duplicate id, retries exhausted"}, http.StatusConflict, "duplicate_id"},
		{"missing table", pipeline.WriteOutcome{Kind: pipeline.KindResourceNotFound, Attempts: 1, Error: "storage resource not found"}, http.StatusServiceUnavailable, "ResourceNotFound"},
		{"critical secondary", pipeline.WriteOutcome{
			PrimaryID: "a-1",
			Attempts:  1,
			Error:     "critical secondary operation courseAssignmentCount failed",
			SecondaryFailures: []pipeline.SecondaryFailure{
				{Name: "courseAssignmentCount", Table: "courses", Critical: true, Error: "condition failed"},
			},
		}, http.StatusInternalServerError, "critical_secondary_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockAssignmentService)
			svc.On("PerformAssignmentWrite", mock.Anything, mock.Anything).Return(tt.outcome)
			router := newTestRouter(svc, nil)

			rec := do(t, router, http.MethodPost, "/api/v1/assignments/", validBody())

			assert.Equal(t, tt.status, rec.Code)
			var resp apperrors.ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.code, resp.Code)
			assert.Equal(t, tt.outcome.Error, resp.Message)
		})
	}
}

func TestBatchCreateAssignments(t *testing.T) {
	// Arrange
	svc := new(MockAssignmentService)
	svc.On("BatchWriteAssignments", mock.Anything, mock.MatchedBy(func(l []assignments.Assignment) bool {
		return len(l) == 2
	}), "import-9").Return(pipeline.BatchOutcome{
		Success:        false,
		ProcessedCount: 1,
		Submissions:    1,
		FailedItems:    []kvstore.Item{{"assignmentId": "x"}},
		Errors:         []string{"assignment 1: title is required"},
	})
	router := newTestRouter(svc, nil)
	bad := validBody()
	delete(bad, "title")

	// Act
	rec := do(t, router, http.MethodPost, "/api/v1/assignments/batch", map[string]any{
		"requestId":   "import-9",
		"assignments": []any{validBody(), bad},
	})

	// Assert
	assert.Equal(t, http.StatusMultiStatus, rec.Code)
	var resp handlers.BatchAssignmentResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "import-9", resp.RequestID)
	assert.Equal(t, 1, resp.ProcessedCount)
	assert.Equal(t, 1, resp.FailedCount)
}

func TestBatchCreateAssignments_DefaultsToRequestID(t *testing.T) {
	svc := new(MockAssignmentService)
	svc.On("BatchWriteAssignments", mock.Anything, mock.Anything, mock.MatchedBy(func(id string) bool {
		return id != ""
	})).Return(pipeline.BatchOutcome{Success: true})
	router := newTestRouter(svc, nil)

	rec := do(t, router, http.MethodPost, "/api/v1/assignments/batch", map[string]any{"assignments": []any{}})

	assert.Equal(t, http.StatusOK, rec.Code)
	svc.AssertExpectations(t)
}

func TestGetAssignment(t *testing.T) {
	svc := new(MockAssignmentService)
	svc.On("GetAssignment", mock.Anything, "a-1").Return(kvstore.Item{"assignmentId": "a-1", "title": "Lab"}, nil)
	svc.On("GetAssignment", mock.Anything, "missing").Return(nil, appassignments.ErrNotFound)
	router := newTestRouter(svc, nil)

	found := do(t, router, http.MethodGet, "/api/v1/assignments/a-1", nil)
	missing := do(t, router, http.MethodGet, "/api/v1/assignments/missing", nil)

	assert.Equal(t, http.StatusOK, found.Code)
	assert.Contains(t, found.Body.String(), `"title":"Lab"`)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestHealthReadyAndMetrics(t *testing.T) {
	healthy := newTestRouter(new(MockAssignmentService), nil)
	unready := newTestRouter(new(MockAssignmentService), func(context.Context) error {
		return errors.New("table not reachable")
	})

	assert.Equal(t, http.StatusOK, do(t, healthy, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, healthy, http.MethodGet, "/ready", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, unready, http.MethodGet, "/ready", nil).Code)

	metrics := do(t, healthy, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(), "test_http_requests_total")
}
