package domain

import (
	"errors"
	"fmt"
)

// ErrValidation is wrapped by every validation failure
var ErrValidation = errors.New("validation failed")

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
