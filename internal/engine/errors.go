package engine

import (
	"errors"
	"fmt"
)

// OutOfOrderError rejects an entry whose base version is not the target's
// current version. The target is left unchanged; the client must rebase.
type OutOfOrderError struct {
	Target  string
	Base    int64
	Current int64
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("out of order: target %s is at version %d, entry is based on %d", e.Target, e.Current, e.Base)
}

// IsOutOfOrder returns true if err is (or wraps) an OutOfOrderError.
func IsOutOfOrder(err error) bool {
	var oe *OutOfOrderError
	return errors.As(err, &oe)
}

// RuntimeError is an engine-level rejection that is not a version conflict.
type RuntimeError struct {
	Code    RuntimeErrorCode
	Message string
	Target  string
	Details map[string]string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeStopped: the engine stopped before the event was processed.
	ErrCodeStopped RuntimeErrorCode = "STOPPED"

	// ErrCodeDuplicateTarget: a submission names the same target twice.
	ErrCodeDuplicateTarget RuntimeErrorCode = "DUPLICATE_TARGET"

	// ErrCodeQuotaExceeded: a submission carries more entries than allowed.
	ErrCodeQuotaExceeded RuntimeErrorCode = "QUOTA_EXCEEDED"

	// ErrCodeInvalidTarget: a target name does not parse.
	ErrCodeInvalidTarget RuntimeErrorCode = "INVALID_TARGET"
)

func (e *RuntimeError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("%s: %s (target=%s)", e.Code, e.Message, e.Target)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrStopped is returned by Submit and CreateDocument after Stop.
var ErrStopped = &RuntimeError{Code: ErrCodeStopped, Message: "engine stopped"}

// IsStopped returns true if err is an ErrCodeStopped RuntimeError.
func IsStopped(err error) bool {
	return hasCode(err, ErrCodeStopped)
}

// IsQuotaError returns true if err is a quota RuntimeError.
func IsQuotaError(err error) bool {
	return hasCode(err, ErrCodeQuotaExceeded)
}

// IsDuplicateTarget returns true if err rejects a repeated target.
func IsDuplicateTarget(err error) bool {
	return hasCode(err, ErrCodeDuplicateTarget)
}

// IsInvalidTarget returns true if err rejects an unparseable target name.
func IsInvalidTarget(err error) bool {
	return hasCode(err, ErrCodeInvalidTarget)
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// NewQuotaError creates a RuntimeError for an oversized submission.
func NewQuotaError(clientID string, entries, limit int) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeQuotaExceeded,
		Message: fmt.Sprintf("submission has %d entries, limit is %d", entries, limit),
		Details: map[string]string{
			"client":      clientID,
			"entries":     fmt.Sprintf("%d", entries),
			"max_entries": fmt.Sprintf("%d", limit),
		},
	}
}
