package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	appassignments "classcast-backend/application/assignments"
	"classcast-backend/application/pipeline"
	"classcast-backend/domain/assignments"
	"classcast-backend/infrastructure/persistence/kvstore"
	apperrors "classcast-backend/pkg/errors"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// maxBatchAssignments bounds a single import request.
const maxBatchAssignments = 1000

// AssignmentService is the application service behind the handlers.
type AssignmentService interface {
	PerformAssignmentWrite(ctx context.Context, a assignments.Assignment) pipeline.WriteOutcome
	BatchWriteAssignments(ctx context.Context, list []assignments.Assignment, requestID string) pipeline.BatchOutcome
	GetAssignment(ctx context.Context, id string) (kvstore.Item, error)
}

// AssignmentHandler handles assignment HTTP requests
type AssignmentHandler struct {
	service AssignmentService
	errors  *apperrors.ErrorHandler
	logger  *zap.Logger
}

// NewAssignmentHandler creates a new assignment handler
func NewAssignmentHandler(service AssignmentService, errs *apperrors.ErrorHandler, logger *zap.Logger) *AssignmentHandler {
	return &AssignmentHandler{service: service, errors: errs, logger: logger}
}

// CreateAssignmentRequest represents the request body for creating an assignment
type CreateAssignmentRequest struct {
	CourseID       string    `json:"courseId" validate:"required,max=128"`
	SectionID      string    `json:"sectionId,omitempty" validate:"omitempty,max=128"`
	InstructorID   string    `json:"instructorId" validate:"required,max=128"`
	Title          string    `json:"title" validate:"required,min=1,max=200"`
	Description    string    `json:"description,omitempty" validate:"max=5000"`
	AssignmentType string    `json:"assignmentType" validate:"required,oneof=video text peer_review"`
	DueDate        time.Time `json:"dueDate" validate:"required"`
	MaxScore       int       `json:"maxScore" validate:"gte=0,lte=1000"`
	Status         string    `json:"status,omitempty" validate:"omitempty,oneof=draft published archived"`
}

func (r CreateAssignmentRequest) toDomain() assignments.Assignment {
	return assignments.Assignment{
		CourseID:     r.CourseID,
		SectionID:    r.SectionID,
		InstructorID: r.InstructorID,
		Title:        r.Title,
		Description:  r.Description,
		Type:         assignments.Type(r.AssignmentType),
		DueDate:      r.DueDate,
		MaxScore:     r.MaxScore,
		Status:       assignments.Status(r.Status),
	}
}

// BatchAssignmentRequest represents a bulk import
type BatchAssignmentRequest struct {
	RequestID   string                    `json:"requestId,omitempty"`
	Assignments []CreateAssignmentRequest `json:"assignments"`
}

// SecondaryFailureResponse describes a dependent update that failed.
type SecondaryFailureResponse struct {
	Operation string `json:"operation"`
	Table     string `json:"table"`
	Critical  bool   `json:"critical"`
	Error     string `json:"error"`
}

// CreateAssignmentResponse represents the response for creating an assignment
type CreateAssignmentResponse struct {
	AssignmentID       string                     `json:"assignmentId"`
	Attempts           int                        `json:"attempts"`
	SkippedSecondaries []string                   `json:"skippedSecondaries,omitempty"`
	SecondaryFailures  []SecondaryFailureResponse `json:"secondaryFailures,omitempty"`
	CreatedAt          string                     `json:"createdAt"`
}

// BatchAssignmentResponse represents the result of a bulk import
type BatchAssignmentResponse struct {
	Success        bool     `json:"success"`
	RequestID      string   `json:"requestId"`
	ProcessedCount int      `json:"processedCount"`
	FailedCount    int      `json:"failedCount"`
	Submissions    int      `json:"submissions"`
	Errors         []string `json:"errors,omitempty"`
}

// CreateAssignment handles POST /assignments
func (h *AssignmentHandler) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	var req CreateAssignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errors.Handle(w, r, apperrors.NewValidationError("Invalid request body: "+err.Error()))
		return
	}
	if err := assignments.ValidateStruct(req); err != nil {
		h.errors.Handle(w, r, apperrors.NewValidationError(err.Error()))
		return
	}

	outcome := h.service.PerformAssignmentWrite(r.Context(), req.toDomain())
	if !outcome.Success {
		h.errors.Handle(w, r, writeFailure(outcome))
		return
	}

	resp := CreateAssignmentResponse{
		AssignmentID:       outcome.PrimaryID,
		Attempts:           outcome.Attempts,
		SkippedSecondaries: outcome.SkippedSecondaries,
		SecondaryFailures:  secondaryFailures(outcome.SecondaryFailures),
	}
	if createdAt, ok := outcome.Record["createdAt"].(string); ok {
		resp.CreatedAt = createdAt
	}
	h.respondJSON(w, http.StatusCreated, resp)
}

// BatchCreateAssignments handles POST /assignments/batch
func (h *AssignmentHandler) BatchCreateAssignments(w http.ResponseWriter, r *http.Request) {
	var req BatchAssignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errors.Handle(w, r, apperrors.NewValidationError("Invalid request body: "+err.Error()))
		return
	}
	if len(req.Assignments) > maxBatchAssignments {
		h.errors.Handle(w, r, apperrors.NewValidationError(
			fmt.Sprintf("at most %d assignments per request", maxBatchAssignments)))
		return
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = middleware.GetReqID(r.Context())
	}

	list := make([]assignments.Assignment, len(req.Assignments))
	for i, a := range req.Assignments {
		list[i] = a.toDomain()
	}

	outcome := h.service.BatchWriteAssignments(r.Context(), list, requestID)
	status := http.StatusOK
	if !outcome.Success {
		status = http.StatusMultiStatus
	}
	h.respondJSON(w, status, BatchAssignmentResponse{
		Success:        outcome.Success,
		RequestID:      requestID,
		ProcessedCount: outcome.ProcessedCount,
		FailedCount:    len(outcome.FailedItems),
		Submissions:    outcome.Submissions,
		Errors:         outcome.Errors,
	})
}

// GetAssignment handles GET /assignments/{assignmentID}
func (h *AssignmentHandler) GetAssignment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "assignmentID")
	item, err := h.service.GetAssignment(r.Context(), id)
	if errors.Is(err, appassignments.ErrNotFound) {
		h.errors.Handle(w, r, apperrors.NewNotFoundError("assignment"))
		return
	}
	if err != nil {
		h.errors.Handle(w, r, apperrors.NewStorageError("failed to load assignment").WithCause(err))
		return
	}
	h.respondJSON(w, http.StatusOK, item)
}

// writeFailure maps a failed write outcome to its HTTP error.
func writeFailure(outcome pipeline.WriteOutcome) *apperrors.AppError {
	if outcome.Attempts == 0 {
		return apperrors.NewValidationError(outcome.Error)
	}
	if hasCriticalFailure(outcome.SecondaryFailures) {
		// The assignment is stored but a critical dependent update is not.
		return apperrors.NewStorageError(outcome.Error).
			WithCode("critical_secondary_failed").
			WithDetails(map[string]any{
				"assignmentId":      outcome.PrimaryID,
				"secondaryFailures": secondaryFailures(outcome.SecondaryFailures),
			})
	}

	details := map[string]any{"attempts": outcome.Attempts}
	switch outcome.Kind {
	case pipeline.KindDuplicateID:
		return apperrors.NewConflictError(outcome.Error).WithCode("duplicate_id").WithDetails(details)
	case pipeline.KindThrottled:
		return apperrors.NewRateLimitError(outcome.Error).WithCode("throttled").WithDetails(details)
	case pipeline.KindResourceNotFound, pipeline.KindAccessDenied:
		return apperrors.NewUnavailableError(outcome.Error).WithCode(outcome.Kind.String()).WithDetails(details)
	default:
		return apperrors.NewStorageError(outcome.Error).WithDetails(details)
	}
}

func hasCriticalFailure(failures []pipeline.SecondaryFailure) bool {
	for _, f := range failures {
		if f.Critical {
			return true
		}
	}
	return false
}

func secondaryFailures(in []pipeline.SecondaryFailure) []SecondaryFailureResponse {
	if len(in) == 0 {
		return nil
	}
	out := make([]SecondaryFailureResponse, len(in))
	for i, f := range in {
		out[i] = SecondaryFailureResponse{Operation: f.Name, Table: f.Table, Critical: f.Critical, Error: f.Error}
	}
	return out
}

func (h *AssignmentHandler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
