package agent

import (
	"errors"
	"fmt"
)

// ErrUninitialized is returned by Run on a session that was never initialized or was closed.
var ErrUninitialized = errors.New("agent not initialized")

// ConfigurationError reports an unusable session configuration. A session
// that fails with it never becomes ready.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// ModelInvocationError wraps a failure of the model provider. It is never
// retried by the loop.
type ModelInvocationError struct {
	Provider Provider
	Round    int
	Err      error
}

func (e *ModelInvocationError) Error() string {
	return fmt.Sprintf("model invocation failed (provider %s, round %d): %v", e.Provider, e.Round, e.Err)
}

func (e *ModelInvocationError) Unwrap() error {
	return e.Err
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

// IsModelInvocationError reports whether err is or wraps a ModelInvocationError
func IsModelInvocationError(err error) bool {
	var modelErr *ModelInvocationError
	return errors.As(err, &modelErr)
}
