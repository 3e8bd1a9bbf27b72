package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound            = errors.New("entity not found")
	ErrAlreadyExists       = errors.New("entity already exists")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidTransition   = errors.New("invalid request state transition")
	ErrRateLimited         = errors.New("rate limit exceeded")
	ErrInvalidExecContext  = errors.New("invalid query execution context")
	ErrReadDatabaseRow     = errors.New("could not read database row")
)
