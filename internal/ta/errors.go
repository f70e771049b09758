package ta

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidParameter is returned by constructors for out-of-range parameters.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrLengthMismatch is returned by two-input batch transforms when the
	// high and low series differ in length.
	ErrLengthMismatch = errors.New("length mismatch")
	// ErrUnknownIndicator is returned for an unrecognized indicator kind. It
	// wraps ErrInvalidParameter.
	ErrUnknownIndicator = fmt.Errorf("%w: unknown indicator", ErrInvalidParameter)
)
