// Package result provides the uniform outcome type every public CrossCloudKit
// API returns instead of throwing across a service boundary.
package result

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// Kind enumerates the error taxonomy of §7: a closed set of failure
// categories, each with a fixed HTTP-flavored status code.
type Kind int

const (
	// KindNone marks a successful Outcome; it has no associated status code.
	KindNone Kind = iota
	KindNotInitialized
	KindDisposed
	KindInvalidInput
	KindNotFound
	KindPreconditionFailed
	KindConflict
	KindCancelled
	KindBackendError
)

// StatusCode maps a Kind onto the HTTP-style status code from spec §6.
func (k Kind) StatusCode() int {
	switch k {
	case KindNone:
		return http.StatusOK
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindPreconditionFailed:
		return http.StatusPreconditionFailed
	case KindConflict:
		return http.StatusConflict
	case KindNotInitialized, KindDisposed:
		return http.StatusServiceUnavailable
	case KindCancelled:
		// Cancellation has no HTTP status mapping; callers should check
		// Kind directly rather than StatusCode for this case.
		return 0
	default:
		return http.StatusInternalServerError
	}
}

// None stands in for Outcome[T]'s T on operations that carry no payload,
// analogous to Rust's `()` or a C# `Task` (as opposed to `Task<T>`).
type None struct{}

// Outcome is the value every public CrossCloudKit operation returns.
// Constructors never panic; a zero Outcome is unsuccessful, with Kind
// KindNone and StatusCode 0.
type Outcome[T any] struct {
	IsSuccessful bool
	StatusCode   int
	Kind         Kind
	Data         T
	ErrorMessage string
}

// Ok wraps a successful result.
func Ok[T any](data T) Outcome[T] {
	return Outcome[T]{IsSuccessful: true, StatusCode: http.StatusOK, Data: data}
}

// Fail builds a failure Outcome for the given taxonomy Kind.
func Fail[T any](kind Kind, format string, args ...interface{}) Outcome[T] {
	msg := fmt.Sprintf(format, args...)
	return Outcome[T]{
		IsSuccessful: false,
		StatusCode:   kind.StatusCode(),
		Kind:         kind,
		ErrorMessage: msg,
	}
}

// Wrap converts a Go error into a failure Outcome of the given kind (a nil
// error gives a successful zero-value Outcome), preserving the pkg/errors
// cause chain in the message the way the teacher's jsp package surfaces
// wrapped I/O errors.
func Wrap[T any](kind Kind, err error) Outcome[T] {
	if err == nil {
		var zero T
		return Ok(zero)
	}
	return Fail[T](kind, "%v", errors.WithStack(err))
}

// Err renders the Outcome as a Go error, or nil if it succeeded. Useful at
// call sites that want to fold into a conventional `if err != nil` check.
func (o Outcome[T]) Err() error {
	if o.IsSuccessful {
		return nil
	}
	return errors.Errorf("%s (status %d)", o.ErrorMessage, o.StatusCode)
}
