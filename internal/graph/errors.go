package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// AuthError is returned when a bearer token cannot be acquired without user interaction.
// It is never retried here; the caller has to re-authenticate.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return "acquire token: " + e.Err.Error()
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// RemoteError is returned for any non-2xx response from the document API.
type RemoteError struct {
	Status  int
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %d: %s", e.Status, e.Message)
}

// NotResolvedError reports a dependent sub-resource (drive, parent, preview) that could not be resolved.
type NotResolvedError struct {
	Resource string
	ID       string
	Err      error
}

func (e *NotResolvedError) Error() string {
	msg := fmt.Sprintf("%s for %s could not be resolved", e.Resource, e.ID)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *NotResolvedError) Unwrap() error {
	return e.Err
}

// ValidationError is a local precondition failure caught before any network call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Required returns a ValidationError if value is blank.
func Required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: field, Message: "is required"}
	}
	return nil
}

// AsAuth checks if an error is an AuthError and returns it.
func AsAuth(err error) (*AuthError, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// AsRemote checks if an error is a RemoteError and returns it.
func AsRemote(err error) (*RemoteError, bool) {
	var re *RemoteError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// IsNotResolved reports whether err is a NotResolvedError.
func IsNotResolved(err error) bool {
	var nr *NotResolvedError
	return errors.As(err, &nr)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// errorEnvelope is the document API's error body.
type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

const maxErrorBody = 64 * 1024

// newRemoteError builds a RemoteError preferring the server's message, then the
// body text, then the status line.
func newRemoteError(resp *http.Response) *RemoteError {
	re := &RemoteError{Status: resp.StatusCode}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var env errorEnvelope
	if json.Unmarshal(data, &env) == nil && env.Error.Message != "" {
		re.Code = env.Error.Code
		re.Message = env.Error.Message
		return re
	}
	if text := strings.TrimSpace(string(data)); text != "" {
		re.Message = text
		return re
	}
	re.Message = resp.Status
	if re.Message == "" {
		re.Message = http.StatusText(resp.StatusCode)
	}
	return re
}
