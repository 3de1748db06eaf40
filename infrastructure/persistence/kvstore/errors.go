package kvstore

import (
	"errors"
	"fmt"
)

// Kind is the store-neutral classification of a failed store call.
type Kind int

const (
	KindUnknown Kind = iota
	KindConditionFailed
	KindThrottled
	KindResourceNotFound
	KindAccessDenied
)

func (k Kind) String() string {
	switch k {
	case KindConditionFailed:
		return "ConditionFailed"
	case KindThrottled:
		return "Throttled"
	case KindResourceNotFound:
		return "ResourceNotFound"
	case KindAccessDenied:
		return "AccessDenied"
	default:
		return "Unknown"
	}
}

// Error is the only error type adapters return for failed store calls.
type Error struct {
	Kind  Kind
	Op    string
	Table string
	// Code is the vendor error code, kept for logging only.
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Table, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Table, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the classification carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// ClassifyCode maps a DynamoDB error code to a Kind.
func ClassifyCode(code string) Kind {
	switch code {
	case "ConditionalCheckFailedException":
		return KindConditionFailed
	case "ThrottlingException", "ProvisionedThroughputExceededException", "RequestLimitExceeded":
		return KindThrottled
	case "ResourceNotFoundException":
		return KindResourceNotFound
	case "AccessDeniedException", "UnrecognizedClientException":
		return KindAccessDenied
	default:
		return KindUnknown
	}
}

func newError(op, table string, kind Kind, err error) *Error {
	return &Error{Kind: kind, Op: op, Table: table, Err: err}
}
