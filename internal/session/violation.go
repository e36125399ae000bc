package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultMarker is the string the remote service puts in responses once the
// session identity is no longer accepted.
const DefaultMarker = "SESSION_VIOLATION"

var violationFields = []string{"errorCode", "error", "message"}

// DetectViolation reports whether a response body carries marker, either in
// one of the structured error fields of a JSON object or anywhere in the raw
// text. The structured check catches escaped JSON strings the raw scan misses.
func DetectViolation(marker, contentType string, body []byte) bool {
	if marker == "" || len(body) == 0 {
		return false
	}
	if strings.Contains(strings.ToLower(contentType), "json") {
		var obj map[string]any
		if err := json.Unmarshal(body, &obj); err == nil {
			for _, f := range violationFields {
				if v, ok := obj[f]; ok && v != nil && strings.Contains(fmt.Sprint(v), marker) {
					return true
				}
			}
		}
	}
	return bytes.Contains(body, []byte(marker))
}
