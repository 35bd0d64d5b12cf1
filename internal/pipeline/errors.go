package pipeline

import (
	"errors"
	"fmt"
)

// ValidationError rejects bad start parameters synchronously; no job is
// created when one is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConfigurationError marks a collaborator as unusable (missing credentials,
// bad endpoint). It is fatal to the whole job and never retried.
type ConfigurationError struct {
	Collaborator string
	Reason       string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s not configured: %s", e.Collaborator, e.Reason)
}

// TransientError marks a retryable fetch failure. Exhausting the retry
// budget escalates it to a fatal job failure.
type TransientError struct {
	Source string
	Err    error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure fetching %s: %v", e.Source, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsConfiguration reports whether err is (or wraps) a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ErrJobNotFound is returned by the registry for unknown job IDs.
var ErrJobNotFound = errors.New("job not found")
