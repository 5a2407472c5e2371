package bridge

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidQoS       = errors.New("invalid qos")
	ErrInvalidTopic     = errors.New("invalid topic")
	ErrInvalidAttribute = errors.New("invalid attribute")
	ErrMissingPayload   = errors.New("publish requires a payload")
	ErrNilInput         = errors.New("nil input")
	// ErrPanic wraps a panic recovered inside a guarded step.
	ErrPanic = errors.New("panic during transformation")
)

// outcome is the result of one guarded step: a value or a fault.
type outcome[T any] struct {
	value T
	err   error
}

func (o outcome[T]) failed() bool { return o.err != nil }

// guard runs fn and turns both a returned error and a panic into a fault.
// Faults stop here; callers log them and decide what to emit.
func guard[T any](fn func() (T, error)) (o outcome[T]) {
	defer func() {
		if r := recover(); r != nil {
			if err, ok := r.(error); ok {
				o = outcome[T]{err: fmt.Errorf("%w: %w", ErrPanic, err)}
				return
			}
			o = outcome[T]{err: fmt.Errorf("%w: %v", ErrPanic, r)}
		}
	}()
	v, err := fn()
	return outcome[T]{value: v, err: err}
}
