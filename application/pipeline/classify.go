package pipeline

import (
	"classcast-backend/infrastructure/persistence/kvstore"
)

// FailureKind is the pipeline's view of a failed store call.
type FailureKind int

const (
	KindUnknown FailureKind = iota
	// KindDuplicateID means the primary insert hit an existing id.
	KindDuplicateID
	KindThrottled
	KindResourceNotFound
	KindAccessDenied
	// KindTargetMissing means a secondary update found no item to update.
	KindTargetMissing
)

func (k FailureKind) String() string {
	switch k {
	case KindDuplicateID:
		return "DuplicateID"
	case KindThrottled:
		return "Throttled"
	case KindResourceNotFound:
		return "ResourceNotFound"
	case KindAccessDenied:
		return "AccessDenied"
	case KindTargetMissing:
		return "TargetMissing"
	default:
		return "Unknown"
	}
}

// Classify maps a store error to a FailureKind. A failed condition means a
// duplicate id on the primary insert and a vanished target on a secondary.
func Classify(err error, primary bool) FailureKind {
	switch kvstore.KindOf(err) {
	case kvstore.KindConditionFailed:
		if primary {
			return KindDuplicateID
		}
		return KindTargetMissing
	case kvstore.KindThrottled:
		return KindThrottled
	case kvstore.KindResourceNotFound:
		return KindResourceNotFound
	case kvstore.KindAccessDenied:
		return KindAccessDenied
	default:
		return KindUnknown
	}
}
