package galaxy

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	// Path is the request path.
	Path string

	// StatusCode is the HTTP status code.
	StatusCode int

	// Message is the server's error message, or the status text when the
	// body carried none.
	Message string

	// Code is the server's error code, zero when absent.
	Code int
}

func (e *StatusError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: %d %s (err_code %d)", e.Path, e.StatusCode, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %d %s", e.Path, e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// errorBody is the error document the server returns with failed requests.
type errorBody struct {
	ErrMsg  string `json:"err_msg"`
	ErrCode int    `json:"err_code"`
}

func newStatusError(path string, status int, body []byte) *StatusError {
	se := &StatusError{
		Path:       path,
		StatusCode: status,
		Message:    http.StatusText(status),
	}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.ErrMsg != "" {
		se.Message = eb.ErrMsg
		se.Code = eb.ErrCode
	}
	return se
}
