// Package faterr classifies provider failures into fatal (never retry) and
// transient (retry may succeed). Classification is pure policy; the delivery
// worker maps it onto the queue's ack semantics.
package faterr

import "errors"

// Classification is the retry policy verdict for a provider failure.
type Classification int

const (
	// Transient failures may succeed on retry. Unknown codes classify as
	// transient so the system fails open toward retrying.
	Transient Classification = iota
	// Fatal failures will never succeed on retry.
	Fatal
)

func (c Classification) String() string {
	if c == Fatal {
		return "fatal"
	}
	return "transient"
}

// fatalCodes are provider error codes that indicate a permanent condition.
var fatalCodes = map[string]struct{}{
	"invalid_recipient":    {},
	"unauthorized":         {},
	"not_found":            {},
	"permanently_rejected": {},
	"opted_out":            {},
	"expired_subscription": {},
	"invalid_payload":      {},
	"channel_not_supported": {},
}

// fatalHTTPStatuses are vendor HTTP statuses that indicate a permanent condition.
var fatalHTTPStatuses = map[int]struct{}{
	400: {},
	401: {},
	403: {},
	404: {},
	410: {},
	422: {},
}

// Classify maps a provider error code and/or HTTP status to a retry verdict.
// Zero values mean "unknown" and default to Transient.
func Classify(code string, httpStatus int) Classification {
	if code != "" {
		if _, ok := fatalCodes[code]; ok {
			return Fatal
		}
	}
	if httpStatus != 0 {
		if _, ok := fatalHTTPStatuses[httpStatus]; ok {
			return Fatal
		}
	}
	return Transient
}

// FatalError marks a wrapped error as non-retryable. Any layer can test for it
// with IsFatal without knowing the wrapped type.
type FatalError struct {
	Code string
	Err  error
}

func (e *FatalError) Error() string {
	if e.Err == nil {
		return "fatal: " + e.Code
	}
	if e.Code != "" {
		return "fatal [" + e.Code + "]: " + e.Err.Error()
	}
	return "fatal: " + e.Err.Error()
}

func (e *FatalError) Unwrap() error { return e.Err }

// NewFatal wraps err as fatal with an optional provider error code.
func NewFatal(code string, err error) *FatalError {
	return &FatalError{Code: code, Err: err}
}

// IsFatal reports whether err or anything it wraps is a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
