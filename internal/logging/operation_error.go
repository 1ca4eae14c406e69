package logging

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// OperationError ties a failure to the operation and monitoring session it
// happened in.
type OperationError struct {
	Operation string
	SessionID string
	Err       error
}

// NewOperationError returns nil when err is nil so it can wrap call results
// directly.
func NewOperationError(operation, sessionID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, SessionID: sessionID, Err: err}
}

func (e *OperationError) Error() string {
	switch {
	case e == nil || e.Err == nil:
		return ""
	case e.SessionID == "":
		return fmt.Sprintf("%s: %v", e.Operation, e.Err)
	default:
		return fmt.Sprintf("%s (session_id=%s): %v", e.Operation, e.SessionID, e.Err)
	}
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ErrorFields renders err for a structured log entry. The outermost
// OperationError in the chain contributes failed_operation and session_id.
func ErrorFields(err error) []zap.Field {
	fields := []zap.Field{zap.Error(err)}
	var opErr *OperationError
	if errors.As(err, &opErr) {
		fields = append(fields, zap.String("failed_operation", opErr.Operation))
		if opErr.SessionID != "" {
			fields = append(fields, zap.String("session_id", opErr.SessionID))
		}
	}
	return fields
}
