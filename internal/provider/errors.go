package provider

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrOutputParse is returned by Decode when a response has no structured
// payload or the payload does not fit the target type.
var ErrOutputParse = errors.New("structured output could not be parsed")

// TimeoutError reports that a backend did not answer within the adapter
// budget. The call may still be running; its result is discarded.
type TimeoutError struct {
	Provider string
	Seconds  float64
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("generation timed out after %ss", strconv.FormatFloat(e.Seconds, 'f', -1, 64))
}

// ProviderError wraps any other adapter failure with the provider's display
// name.
type ProviderError struct {
	Provider string
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// WrapError converts err into a *ProviderError for provider name, leaving
// *TimeoutError and existing *ProviderError values untouched.
func WrapError(name string, err error) error {
	if err == nil {
		return nil
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		if te.Provider == "" {
			te.Provider = name
		}
		return te
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return &ProviderError{Provider: name, Message: err.Error(), Err: err}
}

// IsTimeout reports whether err is a *TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
