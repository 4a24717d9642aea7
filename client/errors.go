package client

import (
	"errors"
	"fmt"
	"net/http"
)

// FailureMessage is what the user gets to see for any failed transfer
const FailureMessage = "Upload failed. Please try again."

var (
	ErrInvalidState       = errors.New("operation not allowed in the current state")
	ErrTransferInProgress = errors.New("a transfer is in progress")
	ErrNoClipGenerator    = errors.New("no clip generator configured")
	ErrNoVideoID          = errors.New("server did not return a video ID")
)

// TransferError describes a failed transfer. StatusCode is 0 when no response
// was received at all
type TransferError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *TransferError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("upload failed: HTTP %d: %s", e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("upload failed: HTTP %d", e.StatusCode)
	case e.Err != nil:
		return "upload failed: " + e.Err.Error()
	}

	return "upload failed"
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// Retryable is true for network errors, timeouts and server side failures.
// Client errors mean the server rejected the payload itself
func (e *TransferError) Retryable() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	}

	return e.StatusCode >= 500
}

// UserMessage hides the details, those are only meant for the logs
func (e *TransferError) UserMessage() string {
	return FailureMessage
}
