package domain

import "errors"

var (
	// ErrAuth marks a failed token exchange or a rejected bearer token.
	// It is fatal: a human has to authorize again.
	ErrAuth = errors.New("authentication failed")

	// ErrTransient marks a connection failure or unusable response from a
	// data endpoint. The caller retries after a fixed delay.
	ErrTransient = errors.New("transient failure")

	// ErrPersistence marks a failed write of the credential or cursor.
	ErrPersistence = errors.New("persistence failed")
)
