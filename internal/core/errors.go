package core

import "errors"

// Error codes surfaced to clients.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNicknameRequired = "nickname_required"
	ErrCodeStoreUnavailable = "store_unavailable"
)

var (
	ErrBadRequest        = errors.New("bad request")
	ErrNicknameRequired  = errors.New("nickname required")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrFanoutUnavailable = errors.New("fanout unavailable")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
	Err     error
}

func (e *CoreError) Error() string {
	return e.Message
}

func (e *CoreError) Unwrap() error {
	return e.Err
}

func coreError(code, msg string, err error) *CoreError {
	return &CoreError{Code: code, Message: msg, Err: err}
}

func badRequest(msg string) *CoreError {
	return coreError(ErrCodeBadRequest, msg, ErrBadRequest)
}

func nicknameRequired() *CoreError {
	return coreError(ErrCodeNicknameRequired, "set a nickname before sending messages", ErrNicknameRequired)
}

func storeUnavailable(err error) *CoreError {
	return coreError(ErrCodeStoreUnavailable, "message could not be stored, retry with the same client offset",
		errors.Join(ErrStoreUnavailable, err))
}
