package clk

import (
	"github.com/pkg/errors"
)

var (
	// ErrConfiguration is returned by New when the descriptor table can't be turned into a graph.
	ErrConfiguration = errors.New("invalid clock configuration")
	// ErrSearchExhausted means no hardware encoding approximates the requested rate.
	ErrSearchExhausted = errors.New("no feasible setting for requested rate")
	// ErrHardwareTimeout is only ever logged: a PLL that doesn't settle is still reported as set.
	ErrHardwareTimeout = errors.New("hardware did not settle")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrReadOnly        = errors.Wrap(ErrInvalidRequest, "clock is read-only")
	ErrNotFound        = errors.Wrap(ErrInvalidRequest, "no such clock")
)

func configErrorf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrConfiguration, format, args...)
}

func errorsf(sentinel error, format string, args ...interface{}) error {
	return errors.Wrapf(sentinel, format, args...)
}
