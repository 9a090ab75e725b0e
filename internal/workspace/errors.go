package workspace

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorWorkspaceInitialization ErrorCode = "WORKSPACE_INITIALIZATION"
	ErrorChatRequest             ErrorCode = "CHAT_REQUEST"
	ErrorDatasetUploadFailed     ErrorCode = "DATASET_UPLOAD_FAILED"
	ErrorDatasetRegistration     ErrorCode = "DATASET_REGISTRATION"
	ErrorConnectorRegistration   ErrorCode = "CONNECTOR_REGISTRATION"
	ErrorInvalidInput            ErrorCode = "INVALID_INPUT"
)

// Error is returned by every Workspace operation. Err holds the underlying
// cause (transport error, status error, context error) when there is one.
type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("workspace: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("workspace: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// IsCode reports whether err is a workspace *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var wsErr *Error
	if !errors.As(err, &wsErr) {
		return false
	}
	return wsErr.Code == code
}

// UploadStatusError is the cause of ErrorDatasetUploadFailed when storage
// answered with a non-success status.
type UploadStatusError struct {
	StatusCode int
}

func (e *UploadStatusError) Error() string {
	return fmt.Sprintf("upload rejected with status %d", e.StatusCode)
}

func (e *UploadStatusError) HTTPStatusCode() int {
	return e.StatusCode
}
