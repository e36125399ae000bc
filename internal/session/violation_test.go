package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectViolation(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		want        bool
	}{
		{"error code field", "application/json", `{"errorCode":"ERROR_SESSION_VIOLATION"}`, true},
		{"message field", "application/json;charset=UTF-8", `{"message":"SESSION_VIOLATION detected"}`, true},
		{"unicode-escaped structured field", "application/json", `{"error":"SESSION\u005fVIOLATION"}`, true},
		{"raw html", "text/html", `<p>ERROR_SESSION_VIOLATION</p>`, true},
		{"json array raw", "application/json", `[{"note":"SESSION_VIOLATION"}]`, true},
		{"clean json", "application/json", `{"token":"abc"}`, false},
		{"empty body", "application/json", ``, false},
		{"other error", "application/json", `{"errorCode":"E_TIMEOUT"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectViolation(DefaultMarker, tt.contentType, []byte(tt.body)))
		})
	}
}

func TestDetectViolation_EmptyMarkerNeverMatches(t *testing.T) {
	assert.False(t, DetectViolation("", "text/plain", []byte("anything")))
}

func TestErrorClassification(t *testing.T) {
	v := &ViolationError{Method: "GET", URL: "u", StatusCode: 401}
	assert.True(t, IsViolation(v))
	assert.False(t, IsTransport(v))

	te := &TransportError{Method: "GET", URL: "u", Err: assert.AnError}
	assert.True(t, IsTransport(te))
	assert.ErrorIs(t, te, assert.AnError)

	code, ok := StatusCode(&StatusError{Code: 504})
	assert.True(t, ok)
	assert.Equal(t, 504, code)
}
