package types

import (
	"errors"
	"fmt"
)

// ReasonCode is a machine-checkable classification for a failed repair step.
type ReasonCode string

// Reason codes surfaced to callers. Every failure in the engine maps to
// exactly one of these; none are swallowed.
const (
	ReasonUserRejected     ReasonCode = "USER_REJECTED"
	ReasonPolicyViolation  ReasonCode = "POLICY_VIOLATION"
	ReasonReplayOrExpired  ReasonCode = "REPLAY_OR_EXPIRED"
	ReasonNetworkUnavail   ReasonCode = "NETWORK_UNAVAILABLE"
	ReasonPartialExecution ReasonCode = "PARTIAL_EXECUTION"
	ReasonCircuitOpen      ReasonCode = "CIRCUIT_OPEN"
	ReasonInvalidInput     ReasonCode = "INVALID_INPUT"
)

// RepairError carries a reason code plus a human-readable explanation for a
// failed repair step.
type RepairError struct {
	Code      ReasonCode
	Message   string // Human-readable explanation
	AttemptID string // Repair attempt ID if available
	Err       error  // Underlying cause, if any
}

func (e *RepairError) Error() string {
	if e.AttemptID != "" {
		return fmt.Sprintf("repair %s failed: %s (%s)", e.AttemptID, e.Message, e.Code)
	}

	return fmt.Sprintf("repair failed: %s (%s)", e.Message, e.Code)
}

func (e *RepairError) Unwrap() error {
	return e.Err
}

// NewRepairError creates a RepairError with the given code and message.
func NewRepairError(code ReasonCode, format string, args ...any) *RepairError {
	return &RepairError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapRepairError wraps an underlying error with a reason code.
func WrapRepairError(code ReasonCode, err error, format string, args ...any) *RepairError {
	return &RepairError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// ReasonOf extracts the reason code from an error chain.
// Returns ("", false) if no RepairError is present.
func ReasonOf(err error) (ReasonCode, bool) {
	var re *RepairError
	if errors.As(err, &re) {
		return re.Code, true
	}

	return "", false
}

// HasReason reports whether err carries the given reason code.
func HasReason(err error, code ReasonCode) bool {
	got, ok := ReasonOf(err)
	return ok && got == code
}
