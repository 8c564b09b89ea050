package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	accountdomain "mailcore-backend/internal/account/domain"
)

var (
	ErrProviderAuth        = errors.New("provider rejected credentials")
	ErrNeedsReconnection   = errors.New("account needs reconnection")
	ErrSyncInProgress      = errors.New("sync already in progress for account")
	ErrCursorConflict      = accountdomain.ErrCursorConflict
	ErrProviderNotReady    = errors.New("provider sync did not become ready")
	ErrInvalidContinuation = errors.New("invalid continuation token")
	ErrInvalidMessage      = errors.New("invalid provider message")
	ErrAccountNotFound     = accountdomain.ErrAccountNotFound
	ErrUnsupportedFolder   = errors.New("unsupported folder")
)

// ProviderError is a failed call against a mail provider
type ProviderError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError wraps err, tagging 401 responses with ErrProviderAuth
func NewProviderError(op string, status int, err error) *ProviderError {
	if status == http.StatusUnauthorized && !errors.Is(err, ErrProviderAuth) {
		if err == nil {
			err = ErrProviderAuth
		} else {
			err = fmt.Errorf("%w: %v", ErrProviderAuth, err)
		}
	}
	return &ProviderError{Op: op, StatusCode: status, Err: err}
}

// IsAuthError reports a provider 401
func IsAuthError(err error) bool {
	if errors.Is(err, ErrProviderAuth) {
		return true
	}
	var pe *ProviderError
	return errors.As(err, &pe) && pe.StatusCode == http.StatusUnauthorized
}

// SyncErrorKind classifies sync failures for callers and the HTTP layer
type SyncErrorKind string

const (
	SyncErrorNeedsReconnection SyncErrorKind = "needs_reconnection"
	SyncErrorTransient         SyncErrorKind = "transient"
	SyncErrorInProgress        SyncErrorKind = "in_progress"
	SyncErrorUnknown           SyncErrorKind = "unknown"
)

// ClassifySyncError maps a sync error to its kind
func ClassifySyncError(err error) SyncErrorKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrNeedsReconnection) || IsAuthError(err) {
		return SyncErrorNeedsReconnection
	}
	if errors.Is(err, ErrSyncInProgress) || errors.Is(err, ErrCursorConflict) {
		return SyncErrorInProgress
	}
	if errors.Is(err, ErrProviderNotReady) || errors.Is(err, context.DeadlineExceeded) {
		return SyncErrorTransient
	}
	var pe *ProviderError
	if errors.As(err, &pe) && (pe.StatusCode == http.StatusTooManyRequests || pe.StatusCode >= 500 || pe.StatusCode == 0) {
		return SyncErrorTransient
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return SyncErrorTransient
	}
	return SyncErrorUnknown
}

// HTTPStatus returns the response code for a sync error kind
func (k SyncErrorKind) HTTPStatus() int {
	switch k {
	case SyncErrorNeedsReconnection:
		return http.StatusUnauthorized
	case SyncErrorTransient:
		return http.StatusServiceUnavailable
	case SyncErrorInProgress:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
