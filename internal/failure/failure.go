package failure

import (
	"errors"
	"fmt"
)

// Kind classifies operation failures for retry and surfacing decisions.
type Kind string

const (
	// KindTransport is a store or network failure; the next refresh may succeed.
	KindTransport Kind = "transport"
	// KindRejected is a business rejection; retrying the same request is pointless.
	KindRejected Kind = "rejected"
	// KindOffline means dependent queries are disabled until connectivity returns.
	KindOffline Kind = "offline"
)

// ErrOffline is the root cause carried by offline failures.
var ErrOffline = errors.New("connectivity lost")

// Error tags wrapped cause with failure kind and failing operation.
// Params: kind, operation label and root cause.
// Returns: typed failure usable with errors.As.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error returns operation-prefixed message.
// Params: none.
// Returns: string representation.
func (e *Error) Error() string {
	cause := "unknown error"
	if e.Err != nil {
		cause = e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, cause)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Kind, cause)
}

// Unwrap exposes wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Permanent reports whether retrying cannot succeed.
// Params: none.
// Returns: true for rejected failures.
func (e *Error) Permanent() bool {
	return e.Kind == KindRejected
}

// Transport wraps error as transport failure.
// Params: operation label and cause.
// Returns: wrapped error or nil.
func Transport(op string, err error) error {
	return mark(KindTransport, op, err)
}

// Rejected wraps error as business rejection.
// Params: operation label and cause.
// Returns: wrapped error or nil.
func Rejected(op string, err error) error {
	return mark(KindRejected, op, err)
}

// Offline builds offline failure for operation.
// Params: operation label.
// Returns: failure wrapping ErrOffline.
func Offline(op string) error {
	return &Error{Kind: KindOffline, Op: op, Err: ErrOffline}
}

func mark(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts failure kind from error chain.
// Params: candidate error.
// Returns: kind and true when error carries a failure marker.
func KindOf(err error) (Kind, bool) {
	var tagged *Error
	if !errors.As(err, &tagged) {
		return "", false
	}
	return tagged.Kind, true
}

// Is reports whether error chain carries failure of given kind.
func Is(err error, kind Kind) bool {
	got, ok := KindOf(err)
	return ok && got == kind
}

// IsPermanent reports whether error is marked non-retryable.
// Params: candidate error.
// Returns: true when a permanent marker is present.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	type marker interface {
		Permanent() bool
	}
	var tagged marker
	if !errors.As(err, &tagged) {
		return false
	}
	return tagged.Permanent()
}
