package assignments

import (
	"time"

	"classcast-backend/domain/events"
)

// EventAssignmentCreated is the detail type published when an assignment is stored.
const EventAssignmentCreated = "assignment.created"

// AssignmentCreated is raised after the primary write of an assignment succeeds.
type AssignmentCreated struct {
	events.BaseEvent
	CourseID     string `json:"course_id"`
	InstructorID string `json:"instructor_id"`
	Title        string `json:"title"`
}

// NewAssignmentCreated builds the event for a.
func NewAssignmentCreated(a Assignment, timestamp time.Time) AssignmentCreated {
	return AssignmentCreated{
		BaseEvent: events.BaseEvent{
			AggregateID: a.AssignmentID,
			EventType:   EventAssignmentCreated,
			Timestamp:   timestamp,
			Version:     1,
		},
		CourseID:     a.CourseID,
		InstructorID: a.InstructorID,
		Title:        a.Title,
	}
}
