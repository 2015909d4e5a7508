package replication

import (
	"errors"
	"fmt"
)

// ErrType classifies sync failures.
type ErrType uint32

const (
	// Network errors are transient and retried.
	Network ErrType = iota
	// Validation errors are never retried.
	Validation
	// Consensus ...
	Consensus
	// RetryLimitExceeded is terminal for a batch.
	RetryLimitExceeded
	// StorageFailure errors roll back the current transaction.
	StorageFailure
)

func (t ErrType) String() string {
	switch t {
	case Network:
		return "Network"
	case Validation:
		return "Validation"
	case Consensus:
		return "Consensus"
	case RetryLimitExceeded:
		return "Retry Limit Exceeded"
	case StorageFailure:
		return "Storage"
	default:
		return "Unknown"
	}
}

// Err ...
type Err struct {
	Type  ErrType
	Peer  string
	Msg   string
	Cause error
}

func newErr(t ErrType, peer string, cause error, format string, args ...interface{}) *Err {
	return &Err{
		Type:  t,
		Peer:  peer,
		Msg:   fmt.Sprintf(format, args...),
		Cause: cause,
	}
}

func (e *Err) Error() string {
	msg := e.Type.String() + ", " + e.Msg
	if e.Peer != "" {
		msg = fmt.Sprintf("%s (peer %s)", msg, e.Peer)
	}
	if e.Cause != nil {
		msg = msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap ...
func (e *Err) Unwrap() error {
	return e.Cause
}

// Is reports whether err, or an error it wraps, is a replication Err of type
// t.
func Is(err error, t ErrType) bool {
	var e *Err
	if errors.As(err, &e) {
		return e.Type == t
	}
	return false
}
