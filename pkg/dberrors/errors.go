package dberrors

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("pitrdb: not found")
	ErrClosed       = errors.New("pitrdb: closed")
	ErrUnauthorized = errors.New("pitrdb: unauthorized")

	ErrInvalidArgument     = errors.New("pitrdb: invalid argument")
	ErrPreconditionFailed  = errors.New("pitrdb: precondition failed")
	ErrTargetAlreadyPassed = errors.New("pitrdb: target already passed")
	ErrRollbackRequired    = errors.New("pitrdb: rollback required")
	ErrApplyFailed         = errors.New("pitrdb: apply failed")

	ErrSourceUnavailable = errors.New("pitrdb: sync source unavailable")
	ErrConnectFailed     = errors.New("pitrdb: connect failed")
	ErrTransientStream   = errors.New("pitrdb: transient stream error")

	ErrCancelled = errors.New("pitrdb: cancelled")
)

// Kind classifies an error for retry and surfacing decisions.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindNotFound
	KindClosed
	KindUnauthorized
	KindInvalidArgument
	KindPreconditionFailed
	KindTargetAlreadyPassed
	KindRollbackRequired
	KindSourceUnavailable
	KindConnectFailed
	KindTransientStream
	KindCancelled
	KindApplyFailed
)

var kinds = []struct {
	kind Kind
	err  error
}{
	{KindCancelled, ErrCancelled},
	{KindInvalidArgument, ErrInvalidArgument},
	{KindPreconditionFailed, ErrPreconditionFailed},
	{KindTargetAlreadyPassed, ErrTargetAlreadyPassed},
	{KindRollbackRequired, ErrRollbackRequired},
	{KindApplyFailed, ErrApplyFailed},
	{KindSourceUnavailable, ErrSourceUnavailable},
	{KindConnectFailed, ErrConnectFailed},
	{KindTransientStream, ErrTransientStream},
	{KindNotFound, ErrNotFound},
	{KindClosed, ErrClosed},
	{KindUnauthorized, ErrUnauthorized},
}

// Newf returns an error that wraps kind and carries a formatted message.
func Newf(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// Wrap attaches kind to err unless err already has a kind of its own.
func Wrap(kind error, err error, msg string) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindUnknown {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return fmt.Errorf("%w: %s: %w", kind, msg, err)
}

// KindOf classifies err. Context cancellation and deadline expiry count as
// KindCancelled, anything unrecognised is KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}

// Fatal reports whether a recovery run must stop and surface an error of this kind.
func (k Kind) Fatal() bool {
	switch k {
	case KindInvalidArgument, KindPreconditionFailed, KindTargetAlreadyPassed,
		KindRollbackRequired, KindApplyFailed, KindCancelled:
		return true
	}
	return false
}

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindClosed:
		return "Closed"
	case KindUnauthorized:
		return "Unauthorized"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindPreconditionFailed:
		return "PreconditionFailed"
	case KindTargetAlreadyPassed:
		return "TargetAlreadyPassed"
	case KindRollbackRequired:
		return "RollbackRequired"
	case KindSourceUnavailable:
		return "SourceUnavailable"
	case KindConnectFailed:
		return "ConnectFailed"
	case KindTransientStream:
		return "TransientStreamError"
	case KindCancelled:
		return "Cancelled"
	case KindApplyFailed:
		return "ApplyFailed"
	}
	return "Unknown"
}
