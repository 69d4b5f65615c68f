// Package probe implements ranked capability probing: an ordered list of
// strategies is tried one after another and the first one that acquires
// successfully is bound for the rest of the process lifetime.
package probe

import (
	"errors"
	"fmt"
)

// ErrNoCandidate is returned by First when every strategy failed (or the
// list was empty).
var ErrNoCandidate = errors.New("probe: no candidate succeeded")

// Strategy is one candidate. Acquire either returns a usable value or an
// error; on error it must leave nothing acquired behind (Release is used
// for that when Acquire got partway).
type Strategy[T any] struct {
	Name    string
	Acquire func() (T, error)
	// Release tears down a partial acquisition after Acquire failed.
	// Optional.
	Release func()
}

// Attempt records one failed candidate for logging.
type Attempt struct {
	Name string
	Err  error
}

// Result is what First bound.
type Result[T any] struct {
	Name     string
	Value    T
	Attempts []Attempt
}

// First tries strategies in order and returns the first success. onFail is
// called for every failed candidate (may be nil).
func First[T any](strategies []Strategy[T], onFail func(name string, err error)) (Result[T], error) {
	var res Result[T]
	errs := make([]error, 0, len(strategies))

	for _, s := range strategies {
		if s.Acquire == nil {
			continue
		}
		v, err := s.Acquire()
		if err == nil {
			res.Name = s.Name
			res.Value = v
			return res, nil
		}
		if s.Release != nil {
			s.Release()
		}
		res.Attempts = append(res.Attempts, Attempt{Name: s.Name, Err: err})
		errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		if onFail != nil {
			onFail(s.Name, err)
		}
	}

	if len(errs) == 0 {
		return res, ErrNoCandidate
	}
	return res, fmt.Errorf("%w: %w", ErrNoCandidate, errors.Join(errs...))
}
