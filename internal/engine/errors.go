package engine

import (
	"errors"
	"fmt"
)

// RuntimeError is a run-level failure. Per-fixture failures never produce
// one; they are recorded in the manifest instead.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Namespace identifies the affected run context.
	Namespace string

	// ItemID is the fixture being processed, if any.
	ItemID int64

	// Err is the underlying cause.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeWorkListFailed indicates the fixture list could not be obtained.
	ErrCodeWorkListFailed RuntimeErrorCode = "WORK_LIST_FAILED"

	// ErrCodeManifestReadFailed indicates the manifest could not be read.
	ErrCodeManifestReadFailed RuntimeErrorCode = "MANIFEST_READ_FAILED"

	// ErrCodeManifestWriteFailed indicates an append was not made durable.
	ErrCodeManifestWriteFailed RuntimeErrorCode = "MANIFEST_WRITE_FAILED"

	// ErrCodePayloadCacheFailed indicates the fetched work list could not be
	// written to the local store.
	ErrCodePayloadCacheFailed RuntimeErrorCode = "PAYLOAD_CACHE_FAILED"

	// ErrCodeNamespaceLocked indicates another process owns the namespace.
	ErrCodeNamespaceLocked RuntimeErrorCode = "NAMESPACE_LOCKED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Namespace != "" && e.ItemID != 0 {
		msg = fmt.Sprintf("%s (namespace=%s, fixture=%d)", msg, e.Namespace, e.ItemID)
	} else if e.Namespace != "" {
		msg = fmt.Sprintf("%s (namespace=%s)", msg, e.Namespace)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsWorkListError returns true if the run failed to obtain its work list.
// Uses errors.As to handle wrapped errors.
func IsWorkListError(err error) bool {
	return hasCode(err, ErrCodeWorkListFailed)
}

// IsManifestError returns true if the run failed reading or appending to the
// manifest.
func IsManifestError(err error) bool {
	return hasCode(err, ErrCodeManifestReadFailed) || hasCode(err, ErrCodeManifestWriteFailed)
}

// IsLockedError returns true if another process owns the namespace.
func IsLockedError(err error) bool {
	return hasCode(err, ErrCodeNamespaceLocked)
}

func newWorkListError(namespace string, err error) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeWorkListFailed,
		Message:   "could not obtain the fixture list",
		Namespace: namespace,
		Err:       err,
	}
}

func newManifestWriteError(namespace string, itemID int64, err error) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeManifestWriteFailed,
		Message:   "manifest append failed",
		Namespace: namespace,
		ItemID:    itemID,
		Err:       err,
	}
}
