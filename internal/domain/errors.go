package domain

import "errors"

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrAuth              = errors.New("authentication required")
	ErrRemoteSave        = errors.New("remote save failed")
)
