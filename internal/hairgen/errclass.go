package hairgen

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Code identifies one entry of the closed error taxonomy.
type Code string

const (
	CodeValidationImage     Code = "VALIDATION_IMAGE"
	CodeValidationStyle     Code = "VALIDATION_STYLE"
	CodeAuthUnauthorized    Code = "AUTH_UNAUTHORIZED"
	CodeWrongAccount        Code = "WRONG_ACCOUNT"
	CodeRateLimited         Code = "RATE_LIMITED"
	CodeProviderServerError Code = "PROVIDER_SERVER_ERROR"
	CodeEmptyOutput         Code = "EMPTY_OUTPUT"
	CodeNetworkError        Code = "NETWORK_ERROR"
	CodeTimeout             Code = "TIMEOUT"
	CodeCanceled            Code = "CANCELED"
	CodeUnknown             Code = "UNKNOWN"
)

// Severity ranks how urgently a failure needs operator or user attention.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ClassifiedError is the only error type the orchestrator surfaces across
// its public boundary. Diagnostic is for logs; the caller should present
// MessageKey through its own localization tables.
type ClassifiedError struct {
	Code       Code
	Severity   Severity
	Retryable  bool
	MessageKey string
	Service    string
	Diagnostic string
	Cause      error
}

func (e *ClassifiedError) Error() string {
	if e.Diagnostic != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Service, e.Diagnostic)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Service)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Cause
}

// messageKeys maps every taxonomy code to its localization key. Only the
// keys are owned here; the string tables live with the caller.
var messageKeys = map[Code]string{
	CodeValidationImage:     "error.validation_image",
	CodeValidationStyle:     "error.validation_style",
	CodeAuthUnauthorized:    "error.auth_unauthorized",
	CodeWrongAccount:        "error.wrong_account",
	CodeRateLimited:         "error.rate_limited",
	CodeProviderServerError: "error.provider_server",
	CodeEmptyOutput:         "error.empty_output",
	CodeNetworkError:        "error.network",
	CodeTimeout:             "error.timeout",
	CodeCanceled:            "error.canceled",
	CodeUnknown:             "error.unknown",
}

// MessageKeyFor returns the localization key for a taxonomy code.
func MessageKeyFor(code Code) string {
	if key, ok := messageKeys[code]; ok {
		return key
	}
	return messageKeys[CodeUnknown]
}

func newClassified(code Code, severity Severity, retryable bool, service, diagnostic string, cause error) *ClassifiedError {
	return &ClassifiedError{
		Code:       code,
		Severity:   severity,
		Retryable:  retryable,
		MessageKey: MessageKeyFor(code),
		Service:    service,
		Diagnostic: diagnostic,
		Cause:      cause,
	}
}

// Classifier maps raw failures onto the taxonomy. It is the single source
// of truth the retry policy consults for retryability. Secrets registered
// at construction are redacted from every diagnostic before it can reach a
// log line.
type Classifier struct {
	secrets []string
}

// NewClassifier registers the credential values that must never appear in
// diagnostics. Empty values are ignored.
func NewClassifier(secrets ...string) *Classifier {
	c := &Classifier{}
	for _, s := range secrets {
		if s = strings.TrimSpace(s); s != "" {
			c.secrets = append(c.secrets, s)
		}
	}
	return c
}

// Classify converts any error raised while driving a job into exactly one
// ClassifiedError. Already-classified errors pass through unchanged.
func (c *Classifier) Classify(err error, service string) *ClassifiedError {
	if err == nil {
		return nil
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}

	diagnostic := c.Redact(err.Error())

	if errors.Is(err, context.Canceled) {
		return newClassified(CodeCanceled, SeverityLow, false, service, diagnostic, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newClassified(CodeTimeout, SeverityLow, true, service, diagnostic, err)
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return c.classifyProvider(provErr, service, diagnostic)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return newClassified(CodeTimeout, SeverityLow, true, service, diagnostic, err)
		}
		return newClassified(CodeNetworkError, SeverityLow, true, service, diagnostic, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return newClassified(CodeTimeout, SeverityLow, true, service, diagnostic, err)
		}
		return newClassified(CodeNetworkError, SeverityLow, true, service, diagnostic, err)
	}

	lower := strings.ToLower(err.Error())
	switch {
	case containsAny(lower, "wrong account", "does not belong to"):
		return newClassified(CodeWrongAccount, SeverityCritical, false, service, diagnostic, err)
	case containsAny(lower, "unauthorized", "unauthenticated", "invalid api key", "invalid token"):
		return newClassified(CodeAuthUnauthorized, SeverityHigh, false, service, diagnostic, err)
	case containsAny(lower, "rate limit", "too many requests", "throttl"):
		return newClassified(CodeRateLimited, SeverityMedium, true, service, diagnostic, err)
	case containsAny(lower, "timeout", "timed out", "deadline exceeded"):
		return newClassified(CodeTimeout, SeverityLow, true, service, diagnostic, err)
	case containsAny(lower, "connection refused", "no such host", "connection reset", "broken pipe", "eof"):
		return newClassified(CodeNetworkError, SeverityLow, true, service, diagnostic, err)
	}

	return newClassified(CodeUnknown, SeverityMedium, false, service, diagnostic, err)
}

func (c *Classifier) classifyProvider(provErr *ProviderError, service, diagnostic string) *ClassifiedError {
	lower := strings.ToLower(provErr.Message)
	switch {
	case containsAny(lower, "wrong account", "does not belong to"):
		return newClassified(CodeWrongAccount, SeverityCritical, false, service, diagnostic, provErr)
	case provErr.StatusCode == 401 || provErr.StatusCode == 403:
		return newClassified(CodeAuthUnauthorized, SeverityHigh, false, service, diagnostic, provErr)
	case provErr.StatusCode == 429 || containsAny(lower, "rate limit", "too many requests"):
		return newClassified(CodeRateLimited, SeverityMedium, true, service, diagnostic, provErr)
	case provErr.StatusCode >= 500:
		return newClassified(CodeProviderServerError, SeverityMedium, true, service, diagnostic, provErr)
	case isVersionGone(provErr):
		// The fallback-version resubmit has already been spent by the
		// time this reaches classification.
		return newClassified(CodeProviderServerError, SeverityMedium, false, service, diagnostic, provErr)
	case provErr.StatusCode >= 400:
		return newClassified(CodeUnknown, SeverityMedium, false, service, diagnostic, provErr)
	}
	return newClassified(CodeUnknown, SeverityMedium, false, service, diagnostic, provErr)
}

// Redact strips registered credentials from text, keeping a short prefix so
// operators can still tell which key was in play.
func (c *Classifier) Redact(text string) string {
	for _, secret := range c.secrets {
		if !strings.Contains(text, secret) {
			continue
		}
		prefix := secret
		if len(prefix) > 4 {
			prefix = prefix[:4]
		}
		text = strings.ReplaceAll(text, secret, prefix+"***")
	}
	return text
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
