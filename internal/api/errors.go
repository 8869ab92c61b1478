package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/npezzotti/go-huddle/internal/server"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func NewBadRequestError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusBadRequest,
		Message:    lower(http.StatusText(http.StatusBadRequest)),
	}
}

func NewNotFoundError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusNotFound,
		Message:    lower(http.StatusText(http.StatusNotFound)),
	}
}

func NewInternalServerError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusInternalServerError,
		Message:    lower(http.StatusText(http.StatusInternalServerError)),
		Err:        err,
	}
}

func NewUnauthorizedError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusUnauthorized,
		Message:    lower(http.StatusText(http.StatusUnauthorized)),
	}
}

func NewForbiddenError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusForbidden,
		Message:    lower(http.StatusText(http.StatusForbidden)),
	}
}

func NewServiceUnavailableError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusServiceUnavailable,
		Message:    lower(http.StatusText(http.StatusServiceUnavailable)),
		Err:        err,
	}
}

// fromRoomError maps a coordinator error to its HTTP form.
func fromRoomError(err error) *ApiError {
	var re *server.RoomError
	if !errors.As(err, &re) {
		return NewInternalServerError(err)
	}

	switch re.Kind {
	case server.KindValidation:
		return &ApiError{StatusCode: http.StatusBadRequest, Message: re.Message, Err: err}
	case server.KindNotFound:
		return &ApiError{StatusCode: http.StatusNotFound, Message: re.Message, Err: err}
	case server.KindPermission:
		return &ApiError{StatusCode: http.StatusForbidden, Message: re.Message, Err: err}
	case server.KindConflict:
		return &ApiError{StatusCode: http.StatusConflict, Message: re.Message, Err: err}
	case server.KindCapacity:
		return &ApiError{StatusCode: http.StatusTooManyRequests, Message: re.Message, Err: err}
	default:
		return NewInternalServerError(err)
	}
}
