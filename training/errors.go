package training

import (
	"errors"
	"io"
	"log"
)

var (
	// ErrInvalidArgument is returned for inputs outside a function's domain
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrDivideByZero is returned when an average is requested over no samples
	ErrDivideByZero = errors.New("division by zero")
)

var logger = log.Default()

// SetLogger redirects the package's progress and early-stopping messages.
// Passing nil silences them.
func SetLogger(l *log.Logger) {
	if l == nil {
		l = log.New(io.Discard, "", 0)
	}
	logger = l
}
