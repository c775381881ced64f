package core

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Every error returned by this package matches exactly
// one of them with errors.Is.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrSerialization = errors.New("serialization error")
	ErrEvaluation    = errors.New("evaluation error")
)

// ConfigurationError reports invalid round parameters or inputs. It is always
// raised before any gate is evaluated.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%v: %s", ErrConfiguration, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// SerializationError reports a key blob, ciphertext or result that could not be
// decoded.
type SerializationError struct {
	What string
	Err  error
}

func (e *SerializationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %s", ErrSerialization, e.What)
	}
	return fmt.Sprintf("%v: %s: %v", ErrSerialization, e.What, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

func (e *SerializationError) Is(target error) bool { return target == ErrSerialization }

// EvaluationError reports a failed gate or a cancelled round. The round has no
// result and must be re-run from fresh ciphertexts.
type EvaluationError struct {
	Stage string
	Err   error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrEvaluation, e.Stage, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

func (e *EvaluationError) Is(target error) bool { return target == ErrEvaluation }

func configErrorf(format string, args ...any) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// NewSerializationError wraps err as a SerializationError.
func NewSerializationError(what string, err error) error {
	return &SerializationError{What: what, Err: err}
}
