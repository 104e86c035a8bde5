package app

import (
	"errors"
	"fmt"
	"net/http"

	"murmur/api/internal/store"
	"murmur/api/internal/syncer"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var (
	errScreenNotFound = domainError(http.StatusNotFound, "SCREEN_NOT_FOUND", "Screen not found", nil)
	errMissingUser    = domainError(http.StatusUnauthorized, "MISSING_USER", "X-User-ID header is required", nil)
)

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var writeErr *syncer.WriteError
	if errors.As(err, &writeErr) {
		return http.StatusBadGateway, "WRITE_FAILED", writeErr.Message, map[string]any{
			"action": writeErr.Action,
			"id":     writeErr.ID,
		}
	}
	switch {
	case errors.Is(err, syncer.ErrUnknownItem), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, syncer.ErrDuplicateItem):
		return http.StatusConflict, "DUPLICATE", "Item already exists", nil
	case errors.Is(err, syncer.ErrInvalidAction):
		return http.StatusBadRequest, "INVALID_ACTION", err.Error(), nil
	case errors.Is(err, syncer.ErrClosed):
		return http.StatusGone, "SCREEN_CLOSED", "Screen was unmounted", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
