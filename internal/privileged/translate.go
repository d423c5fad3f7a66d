package privileged

import (
	"context"
	"io"
	"io/fs"
	"net"
	"os"
	"sync"

	"github.com/restic/snaprepo/internal/errors"
)

// Translator maps errors returned from a privileged block to the error
// taxonomy. Backends register the native error types of their client
// libraries so that they are reported as I/O failures.
type Translator struct {
	m        sync.RWMutex
	matchers []func(error) bool
}

// Register adds a matcher for errors that are I/O failures.
func (t *Translator) Register(match func(error) bool) {
	t.m.Lock()
	defer t.m.Unlock()
	t.matchers = append(t.matchers, match)
}

func (t *Translator) registered(err error) bool {
	t.m.RLock()
	defer t.m.RUnlock()
	for _, match := range t.matchers {
		if match(err) {
			return true
		}
	}
	return false
}

// Translate returns err unchanged if it is nil, already classified or a
// context error. I/O failures are wrapped in an *errors.IOError, everything
// else in an *errors.ExecutionError.
func (t *Translator) Translate(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.IsClassified(err):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case isIOError(err), t.registered(err):
		return &errors.IOError{Op: op, Err: err}
	}
	return &errors.ExecutionError{Err: err}
}

func isIOError(err error) bool {
	var (
		pathErr    *fs.PathError
		linkErr    *os.LinkError
		syscallErr *os.SyscallError
		netErr     net.Error
	)

	switch {
	case errors.As(err, &pathErr), errors.As(err, &linkErr), errors.As(err, &syscallErr):
		return true
	case errors.As(err, &netErr):
		return true
	}

	for _, target := range []error{
		fs.ErrNotExist,
		fs.ErrExist,
		fs.ErrPermission,
		fs.ErrClosed,
		io.ErrUnexpectedEOF,
		io.ErrClosedPipe,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

var defaultTranslator = &Translator{}

// RegisterIOError registers match with the translator used by Do.
func RegisterIOError(match func(error) bool) {
	defaultTranslator.Register(match)
}

// Translate classifies err with the translator used by Do.
func Translate(op string, err error) error {
	return defaultTranslator.Translate(op, err)
}
