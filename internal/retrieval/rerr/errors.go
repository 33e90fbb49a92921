// Package rerr defines the error taxonomy shared across the retrieval
// subsystem. Callers branch on Kind rather than string-matching messages.
package rerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies retrieval errors for propagation and HTTP mapping.
type Kind string

const (
	// KindConfiguration marks fatal misconfiguration (dimension mismatch,
	// subsystem disabled). Never retried.
	KindConfiguration Kind = "configuration"
	// KindExternal marks failures of external collaborators (embedding API,
	// rate-limit exhaustion). Retryable by the caller.
	KindExternal Kind = "external"
	// KindNotFound marks lookups of unknown ids.
	KindNotFound Kind = "not_found"
	// KindValidation marks requests rejected before any work begins.
	KindValidation Kind = "validation"
	// KindPartial marks batch operations that succeeded for some items.
	KindPartial Kind = "partial"
)

// Error is a kinded error with an optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorKind implements the kinder contract used by KindOf.
func (e *Error) ErrorKind() Kind { return e.Kind }

func Configuration(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConfiguration, Msg: fmt.Sprintf(format, args...)}
}

func External(format string, args ...interface{}) *Error {
	return &Error{Kind: KindExternal, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// ItemError records one failed item inside a batch operation. ID is set when
// the item has a stable identifier, Index is its position in the input.
type ItemError struct {
	ID    string
	Index int
	Err   error
}

// Partial reports a batch operation that succeeded for some items and failed
// for others. Successes are returned alongside it, never dropped.
type Partial struct {
	Op    string
	Items []ItemError
}

func (p *Partial) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d item(s) failed", p.Op, len(p.Items))
	if len(p.Items) > 0 {
		fmt.Fprintf(&b, ": %v", p.Items[0].Err)
	}
	return b.String()
}

// ErrorKind implements the kinder contract used by KindOf.
func (p *Partial) ErrorKind() Kind { return KindPartial }

// FailedIDs lists the ids of failed items, skipping items without one.
func (p *Partial) FailedIDs() []string {
	ids := make([]string, 0, len(p.Items))
	for _, it := range p.Items {
		if it.ID != "" {
			ids = append(ids, it.ID)
		}
	}
	return ids
}

type kinder interface{ ErrorKind() Kind }

// KindOf walks the error chain and returns the first kind found, or "" when
// the error carries none.
func KindOf(err error) Kind {
	for err != nil {
		if k, ok := err.(kinder); ok {
			return k.ErrorKind()
		}
		err = errors.Unwrap(err)
	}
	return ""
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool { return KindOf(err) == kind }
