package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/nhle/insync/internal/model"
)

// RequestError is a non-2xx response from the InSync API. Message is the
// human-readable text shown to the user.
type RequestError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf(
		"api error (%d) on %s %s: %s",
		e.StatusCode, e.Method, e.Path, e.Message,
	)
}

// Unwrap lets errors.Is(err, model.ErrUnauthenticated) match 401 responses.
func (e *RequestError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return model.ErrUnauthenticated
	}
	return nil
}

// IsUnauthenticated reports whether err (or any error in its chain) means
// the session is missing or was rejected.
func IsUnauthenticated(err error) bool {
	return errors.Is(err, model.ErrUnauthenticated)
}

// Message returns the text to surface for err: the server-provided message
// for RequestErrors, the error string otherwise.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Message
	}
	return err.Error()
}

// errorBody covers the shapes the server uses for error payloads:
// {"message": "..."}, {"detail": "..."} and, for 422 validation failures,
// {"detail": [{"loc": [...], "msg": "...", "type": "..."}]}.
type errorBody struct {
	Message string          `json:"message"`
	Detail  json.RawMessage `json:"detail"`
}

type validationDetail struct {
	Msg string `json:"msg"`
}

// errorMessage picks the most specific human-readable message for a
// failed response, falling back to the HTTP status text.
func errorMessage(status int, body []byte) string {
	fallback := http.StatusText(status)
	if fallback == "" {
		fallback = fmt.Sprintf("HTTP %d", status)
	}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return fallback
	}

	msg := strings.TrimSpace(eb.Message)
	if msg == "" && len(eb.Detail) > 0 {
		var detail string
		if json.Unmarshal(eb.Detail, &detail) == nil {
			msg = strings.TrimSpace(detail)
		}
	}

	if status == http.StatusUnprocessableEntity && len(eb.Detail) > 0 {
		var details []validationDetail
		if json.Unmarshal(eb.Detail, &details) == nil && len(details) > 0 && details[0].Msg != "" {
			return details[0].Msg
		}
	}

	if msg == "" {
		return fallback
	}
	return msg
}
