package protocol

import (
	"time"

	"github.com/verbatim-live/verbatim/internal/hubfault"
)

// AdminErrorFrom renders a classified fault as an admin-error frame.
// The wrapped cause stays server-side; only the stable message and the
// safe user message go on the wire.
func AdminErrorFrom(err error, now time.Time) AdminError {
	f := hubfault.From(err)
	frame := AdminError{
		Type:        TypeAdminError,
		ErrorCode:   string(f.Code),
		Message:     f.Message,
		UserMessage: f.UserMessage,
		Retryable:   f.Retryable,
		Details: ErrorDetails{
			SessionID:        f.Details.SessionID,
			AdminID:          f.Details.AdminID,
			Operation:        f.Details.Operation,
			ValidationErrors: f.Details.ValidationErrors,
		},
		Timestamp: Timestamp(now),
	}
	if f.RetryAfter > 0 {
		frame.RetryAfter = int64(f.RetryAfter.Seconds())
	}
	return frame
}

// ListenerErrorFrom renders a fault as the legacy listener error frame.
func ListenerErrorFrom(err error, now time.Time) ListenerError {
	f := hubfault.From(err)
	return ListenerError{
		Type:      TypeError,
		Code:      string(f.Code),
		Message:   f.UserMessage,
		Timestamp: Timestamp(now),
	}
}
