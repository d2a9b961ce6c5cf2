package saml

import "fmt"

// ErrorClass separates the two ways a rejected request is reported back.
// Validation errors have no trustworthy SP endpoint to answer to and become
// plain HTTP problem responses; Protocol errors are delivered to the SP as a
// signed SAML error response carrying a status code.
type ErrorClass int

const (
	ClassValidation ErrorClass = iota
	ClassProtocol
)

func (c ErrorClass) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// RequestError is the typed failure arm of request processing. StatusCode and
// SubStatusCode are only meaningful for ClassProtocol.
type RequestError struct {
	Class         ErrorClass
	StatusCode    string
	SubStatusCode string
	Message       string
}

func (e *RequestError) Error() string {
	if e.Class == ClassProtocol {
		if e.SubStatusCode != "" {
			return fmt.Sprintf("%s (%s/%s)", e.Message, e.StatusCode, e.SubStatusCode)
		}
		return fmt.Sprintf("%s (%s)", e.Message, e.StatusCode)
	}
	return e.Message
}

// ValidationError builds a ClassValidation error.
func ValidationError(format string, args ...interface{}) *RequestError {
	return &RequestError{
		Class:   ClassValidation,
		Message: fmt.Sprintf(format, args...),
	}
}

// ProtocolError builds a ClassProtocol error with a SAML status code and an
// optional sub-status code.
func ProtocolError(statusCode, subStatusCode, format string, args ...interface{}) *RequestError {
	return &RequestError{
		Class:         ClassProtocol,
		StatusCode:    statusCode,
		SubStatusCode: subStatusCode,
		Message:       fmt.Sprintf(format, args...),
	}
}

// Result is a tagged success-or-RequestError pair. Exactly one arm is set;
// constructing via Ok/Fail keeps the impossible both-set state unrepresentable.
type Result[T any] struct {
	value T
	err   *RequestError
}

// Ok wraps a success value.
func Ok[T any](v T) Result[T] {
	return Result[T]{value: v}
}

// Fail wraps a RequestError.
func Fail[T any](err *RequestError) Result[T] {
	return Result[T]{err: err}
}

// Succeeded reports whether the result holds a value.
func (r Result[T]) Succeeded() bool {
	return r.err == nil
}

// Value returns the success value; only meaningful when Succeeded.
func (r Result[T]) Value() T {
	return r.value
}

// Err returns the error arm, nil on success.
func (r Result[T]) Err() *RequestError {
	return r.err
}
