package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// RequestError is a non-2xx response from the remote service.
type RequestError struct {
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("request failed: %d %s: %s", e.Status, http.StatusText(e.Status), e.Message)
	}
	return fmt.Sprintf("request failed: %d %s", e.Status, http.StatusText(e.Status))
}

// newRequestError prefers the JSON "message" field of body over the raw text.
func newRequestError(status int, body []byte) *RequestError {
	var payload struct {
		Message string `json:"message"`
	}
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		msg = payload.Message
	}
	return &RequestError{Status: status, Message: msg}
}
