package transcription

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a transcription failure. Adapters map their transport and
// engine errors onto these kinds at the boundary; callers never branch on raw
// transport errors.
type Kind string

const (
	// KindUnconfigured means the provider is missing required setup, such
	// as a model file or endpoint. Never retried.
	KindUnconfigured Kind = "unconfigured"
	// KindInvalidCredential means authentication failed. Never retried.
	KindInvalidCredential Kind = "invalid_credential"
	// KindQuotaExceeded means the provider rejected the call for billing or
	// rate reasons. Retryable with backoff.
	KindQuotaExceeded Kind = "quota_exceeded"
	// KindUnsupportedLanguage means the requested language is not accepted.
	// Never retried.
	KindUnsupportedLanguage Kind = "unsupported_language"
	// KindPayloadTooLarge means the audio exceeds the provider's size
	// ceiling. Never retried.
	KindPayloadTooLarge Kind = "payload_too_large"
	// KindUnreachable means the provider could not be contacted or returned
	// a server-side error. Retryable.
	KindUnreachable Kind = "unreachable"
	// KindProcessingFailed means the provider accepted the call but failed
	// internally. Retryable for remote providers only.
	KindProcessingFailed Kind = "processing_failed"
	// KindCancelled means the run was cancelled by the user. Terminal and
	// not surfaced as a failure banner.
	KindCancelled Kind = "cancelled"
)

// Error is a classified transcription failure.
type Error struct {
	Kind     Kind
	Provider string
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError creates a classified error.
func NewError(kind Kind, provider, message string) *Error {
	return &Error{Kind: kind, Provider: provider, Message: message}
}

// WrapError creates a classified error with a cause.
func WrapError(kind Kind, provider, message string, cause error) *Error {
	return &Error{Kind: kind, Provider: provider, Message: message, Cause: cause}
}

// KindOf extracts the Kind from an error chain. Unclassified errors report
// KindProcessingFailed; context cancellation reports KindCancelled.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindUnreachable
	}
	return KindProcessingFailed
}

// Retryable kinds for remote providers. Credential, payload, and language
// failures need user action; repeating the call cannot fix them.
var retryableKinds = map[Kind]bool{
	KindQuotaExceeded:    true,
	KindUnreachable:      true,
	KindProcessingFailed: true,
}

// IsRetryable reports whether an error classifies as transient for remote
// retry purposes.
func IsRetryable(err error) bool {
	return retryableKinds[KindOf(err)]
}

// Message returns the human-readable message of a classified error, or the
// plain error text otherwise.
func Message(err error) string {
	var te *Error
	if errors.As(err, &te) {
		return te.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
