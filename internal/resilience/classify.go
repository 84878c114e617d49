package resilience

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Kind is the error taxonomy produced for every failed backend call.
type Kind string

const (
	KindAuthentication Kind = "authentication"
	KindRateLimit      Kind = "rate_limit"
	KindTransient      Kind = "transient"
	KindConfiguration  Kind = "configuration"
	KindClientError    Kind = "client_error"
	KindUnknown        Kind = "unknown"
)

// Classification is the tagged outcome of one failed backend call. The
// explicit Retryable field keeps retry policy independent of any exception
// semantics; the resilience layer consumes it immediately.
type Classification struct {
	Kind       Kind
	StatusCode int
	Retryable  bool
	RetryAfter time.Duration // zero when the backend supplied none
	Message    string
}

// ClassifiedError carries a Classification through an error return.
type ClassifiedError struct {
	Classification
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("backend call failed (%s, status %d): %s", e.Kind, e.StatusCode, e.Message)
}

// Body substrings that mark a 400/404 as a deployment/endpoint misconfiguration.
var configurationMarkers = []string{
	"deployment", "model_not_found", "unknown model", "does not exist",
	"endpoint", "api-version", "resource not found",
}

// Classify maps a backend HTTP failure to its taxonomy entry.
func Classify(status int, body []byte, header http.Header) Classification {
	msg := Redact(strings.TrimSpace(string(body)))
	lower := strings.ToLower(msg)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Classification{Kind: KindAuthentication, StatusCode: status, Message: msg}

	case status == http.StatusTooManyRequests:
		return Classification{
			Kind:       KindRateLimit,
			StatusCode: status,
			Retryable:  true,
			RetryAfter: parseRetryAfter(header),
			Message:    msg,
		}

	case status == http.StatusInternalServerError ||
		status == http.StatusBadGateway ||
		status == http.StatusServiceUnavailable ||
		status == http.StatusGatewayTimeout:
		return Classification{Kind: KindTransient, StatusCode: status, Retryable: true, Message: msg}

	case status == http.StatusBadRequest || status == http.StatusNotFound:
		for _, marker := range configurationMarkers {
			if strings.Contains(lower, marker) {
				return Classification{Kind: KindConfiguration, StatusCode: status, Message: msg}
			}
		}

		return Classification{Kind: KindClientError, StatusCode: status, Message: msg}

	case status >= 400 && status < 500:
		return Classification{Kind: KindClientError, StatusCode: status, Message: msg}

	default:
		return Classification{
			Kind:       KindUnknown,
			StatusCode: status,
			Retryable:  status >= 500,
			Message:    msg,
		}
	}
}

// ClassifyTransport maps a network-level failure (timeout, connection reset,
// DNS) to a retryable transient classification.
func ClassifyTransport(err error) Classification {
	return Classification{
		Kind:       KindTransient,
		StatusCode: http.StatusBadGateway,
		Retryable:  true,
		Message:    Redact(err.Error()),
	}
}

func parseRetryAfter(header http.Header) time.Duration {
	if header == nil {
		return 0
	}

	v := header.Get("Retry-After")
	if v == "" {
		return 0
	}

	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}

	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}

	return 0
}
