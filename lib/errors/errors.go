package errors

import (
	"errors"
	"fmt"
)

// Coder is implemented by errors carrying a numeric code that must cross
// an API boundary unchanged.
type Coder interface {
	ErrorCode() int
}

func Newf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func Wrapf(err error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", err, fmt.Sprintf(format, args...))
}

func Is(actual, expected error) bool {
	return errors.Is(actual, expected)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

// Code returns the code of the first Coder in err's chain.
// nil has code 0 and an error without a Coder has code -1.
func Code(err error) int {
	if err == nil {
		return 0
	}
	var c Coder
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return -1
}
