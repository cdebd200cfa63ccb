// Package hubfault defines the error taxonomy shared by every component.
// External provider errors are classified at the boundary (auth, tts);
// storage and registry errors are classified at the router. Nothing
// crosses a component boundary unclassified.
package hubfault

import (
	"errors"
	"fmt"
	"time"
)

// Code identifies one kind of failure in the taxonomy.
type Code string

const (
	// Authentication.
	CodeInvalidCredentials  Code = "invalid_credentials"
	CodeTokenExpired        Code = "token_expired"
	CodeTokenInvalid        Code = "token_invalid"
	CodeRefreshTokenExpired Code = "refresh_token_expired"
	CodeUserNotFound        Code = "user_not_found"
	CodeUserDisabled        Code = "user_disabled"
	CodeProviderUnavailable Code = "provider_unavailable"
	CodeRateLimited         Code = "rate_limited"
	CodeAccountLocked       Code = "account_locked"

	// Authorization.
	CodeAccessDenied            Code = "access_denied"
	CodeSessionNotOwned         Code = "session_not_owned"
	CodeInsufficientPermissions Code = "insufficient_permissions"
	CodeOperationNotAllowed     Code = "operation_not_allowed"

	// Session.
	CodeSessionNotFound      Code = "session_not_found"
	CodeSessionAlreadyExists Code = "session_already_exists"
	CodeSessionInvalidConfig Code = "session_invalid_config"
	CodeSessionCreateFailed  Code = "session_create_failed"
	CodeSessionUpdateFailed  Code = "session_update_failed"
	CodeSessionDeleteFailed  Code = "session_delete_failed"
	CodeSessionClientLimit   Code = "session_client_limit_reached"

	// Admin identity.
	CodeIdentityNotFound     Code = "identity_not_found"
	CodeIdentityCreateFailed Code = "identity_create_failed"
	CodeIdentityCorrupted    Code = "identity_corrupted_data"

	// System.
	CodeInternal        Code = "internal_error"
	CodeStorage         Code = "storage_error"
	CodeNetwork         Code = "network_error"
	CodeMaintenance     Code = "maintenance_mode"
	CodeConnectionLimit Code = "connection_limit_exceeded"

	// Validation.
	CodeInvalidInput     Code = "invalid_input"
	CodeMissingField     Code = "missing_required_field"
	CodeInvalidSessionID Code = "invalid_session_id"
	CodeInvalidLanguage  Code = "invalid_language"
	CodeInvalidConfig    Code = "invalid_config"
)

// Details carries the structured context attached to an admin-error frame.
type Details struct {
	SessionID        string   `json:"sessionId,omitempty"`
	AdminID          string   `json:"adminId,omitempty"`
	Operation        string   `json:"operation,omitempty"`
	ValidationErrors []string `json:"validationErrors,omitempty"`
}

// Fault is a classified error. Message is the stable technical phrase for
// server logs; UserMessage is safe to surface in end-user UI. The wrapped
// cause never leaves the server.
type Fault struct {
	Code        Code
	Message     string
	UserMessage string
	Retryable   bool
	RetryAfter  time.Duration
	Details     Details
	cause       error
}

func (f *Fault) Error() string {
	if f.cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Code, f.Message, f.cause)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

func (f *Fault) Unwrap() error { return f.cause }

// New builds a fault with the taxonomy defaults for code.
func New(code Code, message string) *Fault {
	return &Fault{
		Code:        code,
		Message:     message,
		UserMessage: defaultUserMessage(code),
		Retryable:   defaultRetryable(code),
	}
}

func (f *Fault) WithCause(err error) *Fault {
	f.cause = err
	return f
}

func (f *Fault) WithUserMessage(msg string) *Fault {
	f.UserMessage = msg
	return f
}

func (f *Fault) WithRetryAfter(d time.Duration) *Fault {
	f.Retryable = true
	f.RetryAfter = d
	return f
}

func (f *Fault) WithSession(sessionID string) *Fault {
	f.Details.SessionID = sessionID
	return f
}

func (f *Fault) WithAdmin(adminID string) *Fault {
	f.Details.AdminID = adminID
	return f
}

func (f *Fault) WithOperation(op string) *Fault {
	f.Details.Operation = op
	return f
}

func (f *Fault) WithValidationErrors(errs ...string) *Fault {
	f.Details.ValidationErrors = append(f.Details.ValidationErrors, errs...)
	return f
}

// From returns err as a *Fault, classifying unknown errors as internal.
func From(err error) *Fault {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return New(CodeInternal, "unclassified failure").WithCause(err)
}

// CodeOf extracts the taxonomy code, or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	return From(err).Code
}

// IsRetryable reports whether the operation may be retried automatically.
// Authorization and validation failures must never be retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return From(err).Retryable
}

func defaultRetryable(code Code) bool {
	switch code {
	case CodeRateLimited, CodeAccountLocked, CodeProviderUnavailable,
		CodeTokenExpired, CodeStorage, CodeNetwork, CodeMaintenance,
		CodeSessionCreateFailed, CodeSessionUpdateFailed, CodeSessionDeleteFailed:
		return true
	default:
		return false
	}
}

func defaultUserMessage(code Code) string {
	switch code {
	case CodeInvalidCredentials:
		return "Incorrect username or password."
	case CodeTokenExpired:
		return "Your session expired. Please sign in again."
	case CodeTokenInvalid:
		return "Your session is no longer valid. Please sign in again."
	case CodeRefreshTokenExpired:
		return "Your session expired. Please sign in again."
	case CodeUserNotFound:
		return "Incorrect username or password."
	case CodeUserDisabled:
		return "This account is disabled. Contact your administrator."
	case CodeProviderUnavailable:
		return "The sign-in service is temporarily unavailable. Try again shortly."
	case CodeRateLimited, CodeAccountLocked:
		return "Too many attempts. Please wait and try again."
	case CodeAccessDenied, CodeInsufficientPermissions, CodeOperationNotAllowed:
		return "You do not have permission to do that."
	case CodeSessionNotOwned:
		return "Only the session owner can do that."
	case CodeSessionNotFound:
		return "That session does not exist."
	case CodeSessionAlreadyExists:
		return "A session with that ID already exists."
	case CodeSessionClientLimit:
		return "This session is full."
	case CodeSessionInvalidConfig, CodeInvalidConfig:
		return "The session configuration is invalid."
	case CodeInvalidSessionID:
		return "The session ID format is invalid."
	case CodeInvalidLanguage:
		return "That language is not enabled for this session."
	case CodeInvalidInput, CodeMissingField:
		return "The request is invalid."
	case CodeMaintenance:
		return "The service is under maintenance. Try again shortly."
	case CodeConnectionLimit:
		return "The server is at capacity. Try again shortly."
	default:
		return "Something went wrong. Please try again."
	}
}
