// Package assignments holds the Assignment entity and its storage mapping.
package assignments

import "time"

// IDField is the primary key attribute of the assignments table.
const IDField = "assignmentId"

// Type is the kind of work an assignment asks for.
type Type string

const (
	TypeVideo      Type = "video"
	TypeText       Type = "text"
	TypePeerReview Type = "peer_review"
)

// Status is the publication state of an assignment.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusArchived  Status = "archived"
)

// Assignment is a piece of coursework created by an instructor.
type Assignment struct {
	AssignmentID string    `json:"assignmentId"`
	CourseID     string    `json:"courseId" validate:"required,max=128"`
	SectionID    string    `json:"sectionId,omitempty" validate:"omitempty,max=128"`
	InstructorID string    `json:"instructorId" validate:"required,max=128"`
	Title        string    `json:"title" validate:"required,min=1,max=200"`
	Description  string    `json:"description,omitempty" validate:"max=5000"`
	Type         Type      `json:"assignmentType" validate:"required,oneof=video text peer_review"`
	DueDate      time.Time `json:"dueDate" validate:"required"`
	MaxScore     int       `json:"maxScore" validate:"gte=0,lte=1000"`
	Status       Status    `json:"status" validate:"omitempty,oneof=draft published archived"`
	RequestID    string    `json:"requestId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Stamp fills in the server-owned fields of a new assignment.
func (a *Assignment) Stamp(id string, now time.Time) {
	if a.AssignmentID == "" {
		a.AssignmentID = id
	}
	if a.Status == "" {
		a.Status = StatusDraft
	}
	a.CreatedAt = now.UTC()
	a.UpdatedAt = now.UTC()
}

// ToItem maps the assignment to its stored document.
func (a Assignment) ToItem() map[string]any {
	item := map[string]any{
		IDField:          a.AssignmentID,
		"courseId":       a.CourseID,
		"instructorId":   a.InstructorID,
		"title":          a.Title,
		"assignmentType": string(a.Type),
		"dueDate":        a.DueDate.UTC().Format(time.RFC3339),
		"maxScore":       a.MaxScore,
		"status":         string(a.Status),
		"createdAt":      a.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt":      a.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if a.SectionID != "" {
		item["sectionId"] = a.SectionID
	}
	if a.Description != "" {
		item["description"] = a.Description
	}
	if a.RequestID != "" {
		item["requestId"] = a.RequestID
	}
	return item
}
