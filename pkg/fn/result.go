// Package fn holds the small generic building blocks the ingestion pipeline
// is composed from: a Result type, composable stages, bounded fan-out and retry.
package fn

// Result[T] carries either a value or an error.
type Result[T any] struct {
	val T
	err error
}

// Ok creates a successful Result.
func Ok[T any](v T) Result[T] {
	return Result[T]{val: v}
}

// Err creates a failed Result. A nil err is treated as a failure with no cause
// and must not be passed.
func Err[T any](err error) Result[T] {
	return Result[T]{err: err}
}

// FromPair creates a Result from a (value, error) pair.
func FromPair[T any](v T, err error) Result[T] {
	if err != nil {
		return Err[T](err)
	}
	return Ok(v)
}

// IsOk reports whether the result carries a value.
func (r Result[T]) IsOk() bool { return r.err == nil }

// IsErr reports whether the result carries an error.
func (r Result[T]) IsErr() bool { return r.err != nil }

// Unwrap returns the value and error.
func (r Result[T]) Unwrap() (T, error) { return r.val, r.err }
