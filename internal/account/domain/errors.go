package domain

import "errors"

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrCursorConflict  = errors.New("sync cursor advanced by another writer")
)
