// Package assignments implements assignment creation on top of the write
// pipeline: the assignment insert, the denormalized course and instructor
// counters, the audit trail, and bulk import.
package assignments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"classcast-backend/application/pipeline"
	domain "classcast-backend/domain/assignments"
	"classcast-backend/domain/events"
	"classcast-backend/infrastructure/persistence/kvstore"
	"classcast-backend/pkg/notify"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotFound is returned when an assignment does not exist.
var ErrNotFound = errors.New("assignment not found")

// Tables names the tables the service writes to.
type Tables struct {
	Assignments     string
	Courses         string
	InstructorStats string
	AuditLog        string
}

// Config tunes the service.
type Config struct {
	Tables Tables
	// RequireCourseLink makes the course counter update critical.
	RequireCourseLink bool
	BatchSize         int
}

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(ctx context.Context, event events.DomainEvent) error
}

// BusinessMetrics records business-level counters.
type BusinessMetrics interface {
	RecordBusinessMetric(ctx context.Context, name string, value float64, dimensions map[string]string) error
}

// Writer is the part of the pipeline the service drives.
type Writer interface {
	ExecuteWrite(ctx context.Context, req pipeline.WriteRequest) pipeline.WriteOutcome
	BatchWrite(ctx context.Context, table string, items []kvstore.Item, batchSize int) pipeline.BatchOutcome
}

// Service creates assignments.
type Service struct {
	writer    Writer
	store     kvstore.Store
	publisher EventPublisher
	metrics   BusinessMetrics
	notifier  notify.Sink
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
}

// NewService creates the assignment service. publisher and metrics may be nil.
func NewService(writer Writer, store kvstore.Store, publisher EventPublisher, metrics BusinessMetrics, cfg Config, logger *zap.Logger) *Service {
	return &Service{
		writer:    writer,
		store:     store,
		publisher: publisher,
		metrics:   metrics,
		notifier:  notify.Discard,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// WithNotifier sets the sink the instructor is notified through after a
// successful create.
func (s *Service) WithNotifier(sink notify.Sink) *Service {
	if sink != nil {
		s.notifier = sink
	}
	return s
}

// PerformAssignmentWrite stores a new assignment and updates the course
// counter, the instructor stats and the audit log.
func (s *Service) PerformAssignmentWrite(ctx context.Context, a domain.Assignment) pipeline.WriteOutcome {
	if err := a.Validate(); err != nil {
		return pipeline.WriteOutcome{Error: err.Error()}
	}

	now := s.now()
	a.Stamp(s.newID(), now)
	nowStr := now.UTC().Format(time.RFC3339)

	req := pipeline.WriteRequest{
		Table:   s.cfg.Tables.Assignments,
		IDField: domain.IDField,
		Label:   "assignment",
		Record:  a.ToItem(),
		Secondary: []pipeline.SecondaryOperation{
			{
				Name:  "courseAssignmentCount",
				Table: s.cfg.Tables.Courses,
				Key:   kvstore.Key{"courseId": a.CourseID},
				Update: kvstore.Update{
					Add:           map[string]float64{"assignmentCount": 1},
					Set:           map[string]any{"updatedAt": nowStr},
					RequireExists: true,
				},
				Critical: s.cfg.RequireCourseLink,
			},
			{
				Name:  "instructorStats",
				Table: s.cfg.Tables.InstructorStats,
				Key:   kvstore.Key{"instructorId": a.InstructorID},
				Update: kvstore.Update{
					Add:           map[string]float64{"totalAssignments": 1},
					Set:           map[string]any{"lastAssignmentAt": nowStr},
					RequireExists: true,
				},
			},
			{
				Name:  "auditLog",
				Table: s.cfg.Tables.AuditLog,
				Key:   kvstore.Key{"logId": s.newID()},
				Update: kvstore.Update{
					Set: map[string]any{
						"action":       "assignment.create",
						"actorId":      a.InstructorID,
						"courseId":     a.CourseID,
						"timestamp":    nowStr,
						"resourceType": "assignment",
					},
				},
				PrimaryIDAttr: domain.IDField,
			},
		},
	}

	outcome := s.writer.ExecuteWrite(ctx, req)
	if !outcome.Success {
		s.logger.Warn("Assignment write failed",
			zap.String("course_id", a.CourseID),
			zap.String("error", outcome.Error),
			zap.Int("attempts", outcome.Attempts),
		)
		return outcome
	}

	a.AssignmentID = outcome.PrimaryID
	s.logger.Info("Assignment created",
		zap.String("assignment_id", a.AssignmentID),
		zap.String("course_id", a.CourseID),
		zap.Int("secondary_failures", len(outcome.SecondaryFailures)),
	)
	s.afterCreate(ctx, a, now)
	return outcome
}

// WriteAssignmentWithRetry inserts record under id with an explicit attempt
// budget and no secondary updates.
func (s *Service) WriteAssignmentWithRetry(ctx context.Context, record map[string]any, id string, maxAttempts int) pipeline.WriteOutcome {
	item := kvstore.Item(record).Clone()
	if item == nil {
		item = kvstore.Item{}
	}
	item[domain.IDField] = id

	return s.writer.ExecuteWrite(ctx, pipeline.WriteRequest{
		Table:       s.cfg.Tables.Assignments,
		IDField:     domain.IDField,
		Label:       "assignment",
		Record:      item,
		MaxAttempts: maxAttempts,
	})
}

// BatchWriteAssignments imports many assignments at once. Invalid assignments
// are reported failed and never sent to the store.
func (s *Service) BatchWriteAssignments(ctx context.Context, list []domain.Assignment, requestID string) pipeline.BatchOutcome {
	if len(list) == 0 {
		return pipeline.BatchOutcome{Success: true}
	}

	now := s.now()
	items := make([]kvstore.Item, 0, len(list))
	var rejected []kvstore.Item
	var errs []string

	for i, a := range list {
		a.RequestID = requestID
		a.Stamp(s.newID(), now)
		if err := a.Validate(); err != nil {
			rejected = append(rejected, a.ToItem())
			errs = append(errs, fmt.Sprintf("assignment %d: %v", i, err))
			continue
		}
		items = append(items, a.ToItem())
	}

	outcome := s.writer.BatchWrite(ctx, s.cfg.Tables.Assignments, items, s.cfg.BatchSize)
	if len(rejected) > 0 {
		outcome.Success = false
		outcome.FailedItems = append(rejected, outcome.FailedItems...)
		outcome.Errors = append(errs, outcome.Errors...)
	}

	s.logger.Info("Batch assignment import finished",
		zap.String("request_id", requestID),
		zap.Int("requested", len(list)),
		zap.Int("processed", outcome.ProcessedCount),
		zap.Int("failed", len(outcome.FailedItems)),
	)

	if outcome.ProcessedCount > 0 && s.metrics != nil {
		processed := float64(outcome.ProcessedCount)
		detached := context.WithoutCancel(ctx)
		notify.BestEffort(s.logger, "metrics.AssignmentsImported", func() error {
			return s.metrics.RecordBusinessMetric(detached, "AssignmentsImported", processed, nil)
		})
	}
	return outcome
}

// GetAssignment loads a stored assignment document.
func (s *Service) GetAssignment(ctx context.Context, id string) (kvstore.Item, error) {
	item, err := s.store.Get(ctx, s.cfg.Tables.Assignments, kvstore.Key{domain.IDField: id})
	if errors.Is(err, kvstore.ErrItemNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get assignment %s: %w", id, err)
	}
	return item, nil
}

func (s *Service) afterCreate(ctx context.Context, a domain.Assignment, now time.Time) {
	detached := context.WithoutCancel(ctx)

	if s.publisher != nil {
		event := domain.NewAssignmentCreated(a, now)
		notify.BestEffort(s.logger, "events.AssignmentCreated", func() error {
			return s.publisher.Publish(detached, event)
		})
	}

	if s.metrics != nil {
		dims := map[string]string{"CourseId": a.CourseID}
		notify.BestEffort(s.logger, "metrics.AssignmentsCreated", func() error {
			return s.metrics.RecordBusinessMetric(detached, "AssignmentsCreated", 1, dims)
		})
	}

	s.notifier.Notify(detached, notify.Notification{
		Type:     notify.TypeSuccess,
		Category: notify.CategoryGeneral,
		Title:    "Assignment created",
		Message:  a.Title,
		UserID:   a.InstructorID,
		Time:     now,
	})
}
