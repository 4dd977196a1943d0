package api

import (
	"errors"
	"fmt"
)

// Kind classifies a failed backend call.
type Kind string

const (
	// KindTransport means no response reached the server (network, timeout).
	KindTransport Kind = "transport"
	// KindServer means the server answered with an HTTP error status.
	KindServer Kind = "server"
	// KindApplication means HTTP 200 with an application-level failure, or a
	// payload that does not match the endpoint schema.
	KindApplication Kind = "application"
	// KindValidation means the input was rejected before any request was sent.
	KindValidation Kind = "validation"
)

// Error is a structured backend call failure.
type Error struct {
	Kind       Kind
	Endpoint   string
	HTTPStatus int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.Kind, e.Endpoint, e.Err)
	case e.HTTPStatus != 0:
		return fmt.Sprintf("%s %s: http %d: %s", e.Kind, e.Endpoint, e.HTTPStatus, e.Message)
	default:
		return fmt.Sprintf("%s %s: %s", e.Kind, e.Endpoint, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// TransportError wraps a request that never produced a server response.
func TransportError(endpoint string, err error) *Error {
	return &Error{Kind: KindTransport, Endpoint: endpoint, Err: err}
}

// ServerError wraps an HTTP error status with its machine-readable body.
func ServerError(endpoint string, status int, message string) *Error {
	return &Error{Kind: KindServer, Endpoint: endpoint, HTTPStatus: status, Message: message}
}

// ApplicationError wraps an application-level failure on a 200 response.
func ApplicationError(endpoint, message string) *Error {
	return &Error{Kind: KindApplication, Endpoint: endpoint, Message: message}
}

// ValidationError reports input rejected before any request was sent.
func ValidationError(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// KindOf extracts the error kind, or an empty Kind for foreign errors.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

// UserMessage renders a human-readable one-liner for notifications.
func UserMessage(err error) string {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return err.Error()
	}
	switch apiErr.Kind {
	case KindTransport:
		return "Unable to reach the server. Please check your connection and try again."
	case KindServer, KindApplication:
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return "The service reported a problem. Please try again."
	case KindValidation:
		return apiErr.Message
	default:
		return err.Error()
	}
}
