package query

import "net/http"

// Kind classifies query failures.
type Kind string

const (
	KindInvalidRequest Kind = "invalid_request"
	KindQueryExecution Kind = "query_execution"
	KindResultShape    Kind = "result_shape"
)

// Error is returned by Run. Code is an HTTP style status.
type Error struct {
	Code    int
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

func executionError(err error) *Error {
	return &Error{
		Code:    http.StatusInternalServerError,
		Kind:    KindQueryExecution,
		Message: "Mongodb Query Error: " + err.Error(),
		Err:     err,
	}
}

func shapeError(reason string) *Error {
	return &Error{
		Code:    http.StatusInternalServerError,
		Kind:    KindResultShape,
		Message: "Unexpected Atlas Search return format: " + reason,
	}
}

func invalidRequest(msg string) *Error {
	return &Error{
		Code:    http.StatusBadRequest,
		Kind:    KindInvalidRequest,
		Message: msg,
	}
}
