package repository

import "errors"

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientCredits is returned when a deduction would take a balance below zero.
	ErrInsufficientCredits = errors.New("insufficient credits")
)
