package meta

import (
	"fmt"
	"regexp"
)

const (
	minTokenLen = 4
	maxTokenLen = 508
)

var tokenRe = regexp.MustCompile(`^[a-zA-Z0-9_\+/\.=%-]+$`)

// ValidationError is a configuration error annotated with the dotted
// field path at which it occurred.
type ValidationError struct {
	Context string
	Err     error
}

// Error error
func (v *ValidationError) Error() string {
	if v.Context == "" {
		return v.Err.Error()
	}

	return v.Context + ": " + v.Err.Error()
}

// NewValidationError returns a ValidationError with a formatted message
func NewValidationError(format string, args ...interface{}) error {
	return &ValidationError{
		Err: fmt.Errorf(format, args...),
	}
}

// ExtendContext prefixes the dotted field path of the validation error,
// passing through nil and non-validation errors unchanged.
func ExtendContext(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}

	prefix := fmt.Sprintf(format, args...)
	if v, ok := err.(*ValidationError); ok {
		if v.Context == "" {
			return &ValidationError{
				Context: prefix,
				Err:     v.Err,
			}
		}

		return &ValidationError{
			Context: prefix + "." + v.Context,
			Err:     v.Err,
		}
	}

	return &ValidationError{
		Context: prefix,
		Err:     err,
	}
}

// ValidateToken checks the value is a symbol-restricted token within
// the given length bounds.
func ValidateToken(value string, minLen, maxLen int) error {
	if l := len(value); l < minLen || l > maxLen {
		return NewValidationError("invalid length (%d; expected %d <= length <= %d)",
			l,
			minLen,
			maxLen)
	}

	if !tokenRe.MatchString(value) {
		return NewValidationError("not a valid token (%s)", value)
	}

	return nil
}
