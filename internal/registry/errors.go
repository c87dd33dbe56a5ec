package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrTransport wraps failures where no response was received from the registry
var ErrTransport = errors.New("registry unreachable")

// RemoteError is a rejection returned by the registry
type RemoteError struct {
	Status  int
	Message string

	// Fields holds per-field validation errors keyed by form field
	Fields map[string]string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("registry returned %d: %s", e.Status, e.Message)
}

// AsRemoteError unwraps a RemoteError from err
func AsRemoteError(err error) (*RemoteError, bool) {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote, true
	}
	return nil, false
}

type errorBody struct {
	Message string                     `json:"message"`
	Errors  map[string]json.RawMessage `json:"errors"`
}

func newRemoteError(status int, body []byte) *RemoteError {
	e := &RemoteError{Status: status}

	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		e.Message = parsed.Message
		if len(parsed.Errors) > 0 {
			e.Fields = make(map[string]string, len(parsed.Errors))
			for field, raw := range parsed.Errors {
				e.Fields[field] = fieldMessage(raw)
			}
		}
	}

	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

// fieldMessage accepts "msg", {"msg": "..."} or {"message": "..."}
func fieldMessage(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var obj struct {
		Msg     string `json:"msg"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Msg != "" {
			return obj.Msg
		}
		if obj.Message != "" {
			return obj.Message
		}
	}

	return strings.Trim(string(raw), `"`)
}
