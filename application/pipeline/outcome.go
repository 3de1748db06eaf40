package pipeline

import (
	"classcast-backend/infrastructure/persistence/kvstore"
)

// WriteRequest is one logical write: a primary insert followed by ordered
// secondary updates.
type WriteRequest struct {
	Table   string
	IDField string
	// Label names the record in error messages, e.g. "assignment".
	Label     string
	Record    kvstore.Item
	Secondary []SecondaryOperation
	// MaxAttempts overrides the primary policy's attempt budget when positive.
	MaxAttempts int
}

// SecondaryOperation is a denormalized update applied after the primary write.
type SecondaryOperation struct {
	Name   string
	Table  string
	Key    kvstore.Key
	Update kvstore.Update
	// PrimaryIDAttr, when set, receives the final primary id in Update.Set.
	PrimaryIDAttr string
	// Critical failures make the whole write unsuccessful.
	Critical bool
}

// SecondaryFailure reports one failed secondary update.
type SecondaryFailure struct {
	Name     string
	Table    string
	Critical bool
	Kind     FailureKind
	Error    string
}

// WriteOutcome is the result of ExecuteWrite.
type WriteOutcome struct {
	Success   bool
	PrimaryID string
	// Record is the stored record, carrying a regenerated id if one was needed.
	Record   kvstore.Item
	Error    string
	Kind     FailureKind
	Attempts int

	SecondaryFailures  []SecondaryFailure
	SkippedSecondaries []string
}

// BatchOutcome is the result of BatchWrite.
type BatchOutcome struct {
	Success        bool
	ProcessedCount int
	// Submissions counts every batch request issued, retries included.
	Submissions int
	FailedItems []kvstore.Item
	Errors      []string
}

// RetryOutcome is the result of RetryUnprocessedItems.
type RetryOutcome struct {
	Success     bool
	FailedItems []kvstore.Item
	Attempts    int
	Error       string
}
