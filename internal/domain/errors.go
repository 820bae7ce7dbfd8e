package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrReportNotReady is the expected transient state while a report is still generating.
	ErrReportNotReady = errors.New("report not ready")
	// ErrPollExhausted is returned when polling runs out of attempts before a document appears.
	ErrPollExhausted = errors.New("report polling exhausted")
	// ErrReportTerminal is returned when an orchestrator step is invoked on a finished request.
	ErrReportTerminal = errors.New("report request already in terminal state")
)

// AuthError reports a failed refresh-token exchange. It is fatal to the call chain.
type AuthError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("token exchange failed: status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("token exchange failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// SigningError reports malformed signing input, which indicates a caller bug.
type SigningError struct {
	Field  string
	Reason string
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("cannot sign request: %s %s", e.Field, e.Reason)
}

// NetworkError reports a transport failure or a non-2xx upstream response.
type NetworkError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Body       string
	Err        error
}

func (e *NetworkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Method, e.Endpoint, e.Err)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Endpoint, e.StatusCode, e.Body)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ReportFatalError is returned when a report request transitions to FATAL.
type ReportFatalError struct {
	RequestID  string
	ReportType string
	Locale     Locale
	ReportID   string
	Reason     string
	Err        error
}

func (e *ReportFatalError) Error() string {
	msg := fmt.Sprintf("report %s (%s/%s, report id %q) failed: %s", e.RequestID, e.ReportType, e.Locale, e.ReportID, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ReportFatalError) Unwrap() error { return e.Err }

// ValidationError is a per-field failure. The row is skipped, the batch continues.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("field %s: %s (value %q)", e.Field, e.Reason, e.Value)
}

// DuplicateError marks a row whose dedup key was already seen in the batch.
type DuplicateError struct {
	Key       string
	RowNumber int
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("row %d: duplicate key %s", e.RowNumber, e.Key)
}

// PersistenceError reports a failed bulk insert. Nothing from the batch is committed.
type PersistenceError struct {
	Locale   Locale
	FileName string
	Records  int
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("bulk insert of %d records (%s, %s) failed: %v", e.Records, e.Locale, e.FileName, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
