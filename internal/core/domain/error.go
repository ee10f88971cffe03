package domain

import (
	"fmt"
	"time"
)

// ErrorKind identifies the category of a document processing failure.
type ErrorKind string

const (
	ErrorKindOCRFailed           ErrorKind = "OCR_FAILED"
	ErrorKindAIAnalysisFailed    ErrorKind = "AI_ANALYSIS_FAILED"
	ErrorKindFileTooLarge        ErrorKind = "FILE_TOO_LARGE"
	ErrorKindInvalidFileType     ErrorKind = "INVALID_FILE_TYPE"
	ErrorKindNetwork             ErrorKind = "NETWORK_ERROR"
	ErrorKindTimeout             ErrorKind = "TIMEOUT"
	ErrorKindRateLimit           ErrorKind = "API_RATE_LIMIT"
	ErrorKindInsufficientCredits ErrorKind = "INSUFFICIENT_CREDITS"
	ErrorKindUnknown             ErrorKind = "UNKNOWN"
)

// Severity ranks how loudly a failure should be surfaced to operators.
// It scales alerting only; it never changes retry eligibility.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	}
	return "unknown"
}

// DocumentError is an immutable description of one processing failure.
// It is created by the classifier and attached verbatim to the failed job,
// so operator-facing views can render it without re-deriving meaning.
type DocumentError struct {
	Kind                ErrorKind
	Severity            Severity
	UserMessage         string
	TechnicalDetails    string
	CanRetry            bool
	SuggestedRetryDelay time.Duration // zero means no suggestion
	Suggestions         []string

	cause error
}

// NewDocumentError builds a DocumentError wrapping the raw cause.
func NewDocumentError(kind ErrorKind, severity Severity, userMessage, details string, canRetry bool, cause error) *DocumentError {
	return &DocumentError{
		Kind:             kind,
		Severity:         severity,
		UserMessage:      userMessage,
		TechnicalDetails: details,
		CanRetry:         canRetry,
		cause:            cause,
	}
}

// WithRetryDelay returns a copy carrying a suggested retry delay.
func (e *DocumentError) WithRetryDelay(d time.Duration) *DocumentError {
	c := *e
	c.SuggestedRetryDelay = d
	return &c
}

// WithSuggestions returns a copy carrying the remediation list.
func (e *DocumentError) WithSuggestions(suggestions ...string) *DocumentError {
	c := *e
	c.Suggestions = suggestions
	return &c
}

func (e *DocumentError) Error() string {
	if e.TechnicalDetails != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.TechnicalDetails)
	}
	return string(e.Kind)
}

// Unwrap exposes the raw failure so callers can still match the
// underlying error (e.g. a circuit-open rejection) with errors.As.
func (e *DocumentError) Unwrap() error {
	return e.cause
}
