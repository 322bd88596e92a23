package domain

import "errors"

var (
	// ErrMessageNotFound is returned when a message id does not exist within
	// the requesting project's scope. Cross-tenant reads fail closed with this
	// same error so existence is never exposed.
	ErrMessageNotFound = errors.New("message not found")

	// ErrProjectNotFound is returned for unknown or inactive projects.
	ErrProjectNotFound = errors.New("project not found")

	// ErrUnknownChannel is returned when an envelope targets a channel the
	// gateway does not know about.
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrNoProviderForChannel is returned when a job targets a channel that
	// has no registered provider. This is a deployment defect, not retryable.
	ErrNoProviderForChannel = errors.New("no provider registered for channel")
)
