package api

import "errors"

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrInvalidImage   = errors.New("invalid_image")
)

type invalidRequestError struct {
	msg   string
	cause error
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return e.cause
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg, cause: ErrInvalidRequest}
}

func newInvalidImage(msg string) error {
	return invalidRequestError{msg: msg, cause: ErrInvalidImage}
}
