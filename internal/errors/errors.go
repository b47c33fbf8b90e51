package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

const (
	ErrCodeValidation ErrCode = "VALIDATION"
	ErrCodeNotFound   ErrCode = "NOT_FOUND"
	ErrCodeMethod     ErrCode = "METHOD_NOT_ALLOWED"
	ErrCodeInternal   ErrCode = "INTERNAL"
)

const MsgOnlyImages = "Only image files are allowed"

type ErrCode string

// ErrorInfo is the error body returned to API callers. Only Detail is
// rendered so responses stay {"detail": "..."}.
type ErrorInfo struct {
	HttpStatus int     `json:"-"`
	Code       ErrCode `json:"-"`
	Detail     string  `json:"detail"`
}

func (e ErrorInfo) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func NewValidationError(msg string) ErrorInfo {
	return ErrorInfo{HttpStatus: http.StatusBadRequest, Code: ErrCodeValidation, Detail: msg}
}

func NewContentTypeInvalidError() ErrorInfo {
	return NewValidationError(MsgOnlyImages)
}

func NewNotFoundError(path string) ErrorInfo {
	return ErrorInfo{HttpStatus: http.StatusNotFound, Code: ErrCodeNotFound, Detail: fmt.Sprintf("%s not found", path)}
}

func NewMethodNotAllowedError(method, path string) ErrorInfo {
	return ErrorInfo{HttpStatus: http.StatusMethodNotAllowed, Code: ErrCodeMethod, Detail: fmt.Sprintf("method %s not allowed on %s", method, path)}
}

func NewInternalError(err error) ErrorInfo {
	return ErrorInfo{HttpStatus: http.StatusInternalServerError, Code: ErrCodeInternal, Detail: fmt.Sprintf("Error processing image: %s", err.Error())}
}

// ResponseError writes err as JSON. Errors that are not an ErrorInfo are
// reported as internal errors. The returned error is the body write failure.
func ResponseError(w http.ResponseWriter, err error) error {
	info := ErrorInfo{}
	if !errors.As(err, &info) {
		info = NewInternalError(err)
	}
	return ResponseJSON(w, info.HttpStatus, info)
}

func ResponseJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}
