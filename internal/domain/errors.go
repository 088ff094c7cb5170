package domain

import "errors"

// TransientError marks an adapter or gateway failure as retryable
// (network/timeout class). Unwrapped errors are treated as permanent.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err so retry policies recognize it as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is in the retryable class.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
