package atlas

import (
	"fmt"
	"net/http"
)

// APIError is the normalized failure of a management API call.
type APIError struct {
	Code    int
	Message string
	Err     error
}

func (e *APIError) Error() string { return e.Message }

func (e *APIError) Unwrap() error { return e.Err }

// Fixed messages for upstream failures.
const (
	MsgBadRequest    = "Bad Mongodb Atlas Search API Request"
	MsgCommunication = "Communication Failure with Atlas Search API"
	MsgNotFound      = "Mongodb Atlas Search API Request Not Found Error"
	MsgUnknown       = "Failed to communicate with Mongo Atlas Search API"
)

// errorFromStatus maps an upstream status to an APIError. detail is the upstream
// error detail, used only for 400 responses.
func errorFromStatus(status int, detail string) *APIError {
	switch status {
	case http.StatusBadRequest:
		if detail == "" {
			detail = MsgBadRequest
		}
		return &APIError{Code: http.StatusBadRequest, Message: detail}
	case http.StatusInternalServerError:
		return &APIError{Code: http.StatusBadRequest, Message: MsgCommunication}
	case http.StatusNotFound:
		return &APIError{Code: http.StatusBadRequest, Message: MsgNotFound}
	default:
		return &APIError{Code: http.StatusInternalServerError, Message: MsgUnknown, Err: fmt.Errorf("unexpected status %d", status)}
	}
}

func transportError(err error) *APIError {
	return &APIError{Code: http.StatusInternalServerError, Message: MsgUnknown, Err: err}
}
