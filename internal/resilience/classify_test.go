package resilience

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify_StatusCodes(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		kind      Kind
		retryable bool
	}{
		{"unauthorized", 401, `{"error":"bad key"}`, KindAuthentication, false},
		{"forbidden", 403, "", KindAuthentication, false},
		{"rate limited", 429, "", KindRateLimit, true},
		{"internal error", 500, "", KindTransient, true},
		{"bad gateway", 502, "", KindTransient, true},
		{"unavailable", 503, "", KindTransient, true},
		{"gateway timeout", 504, "", KindTransient, true},
		{"bad request plain", 400, `{"error":"messages must not be empty"}`, KindClientError, false},
		{"bad request deployment", 400, `The API deployment for this resource does not exist`, KindConfiguration, false},
		{"not found resource", 404, `Resource not found`, KindConfiguration, false},
		{"not found plain", 404, `nothing here`, KindClientError, false},
		{"teapot", 418, "", KindClientError, false},
		{"unknown 5xx", 599, "", KindUnknown, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.status, []byte(tt.body), nil)
			assert.Equal(t, tt.kind, c.Kind)
			assert.Equal(t, tt.retryable, c.Retryable)
			assert.Equal(t, tt.status, c.StatusCode)
		})
	}
}

func TestClassify_RetryAfterHeader(t *testing.T) {
	header := http.Header{}
	header.Set("Retry-After", "7")

	c := Classify(429, nil, header)
	assert.Equal(t, 7*time.Second, c.RetryAfter)

	c = Classify(429, nil, http.Header{})
	assert.Zero(t, c.RetryAfter)
}

func TestClassify_RedactsCredentials(t *testing.T) {
	c := Classify(401, []byte(`invalid api key sk-abcdefghijklmnop provided`), nil)
	assert.NotContains(t, c.Message, "sk-abcdefghijklmnop")
	assert.Contains(t, c.Message, "[REDACTED]")
}

func TestClassifyTransport(t *testing.T) {
	c := ClassifyTransport(errors.New("dial tcp: connection refused"))
	assert.Equal(t, KindTransient, c.Kind)
	assert.True(t, c.Retryable)
	assert.Equal(t, http.StatusBadGateway, c.StatusCode)
}

func TestClassifiedError_Error(t *testing.T) {
	err := &ClassifiedError{Classification{Kind: KindRateLimit, StatusCode: 429, Message: "slow down"}}
	assert.Contains(t, err.Error(), "rate_limit")
	assert.Contains(t, err.Error(), "429")
}
