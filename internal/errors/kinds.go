package errors

import (
	"errors"
	"fmt"
)

// ErrInvalidName is returned when a blob or container name cannot be mapped
// to a remote path.
var ErrInvalidName = errors.New("invalid name")

// ConfigError reports an invalid repository setting or location. It is never
// worth retrying.
type ConfigError struct {
	Setting string
	Value   string
	Err     error
}

func (e *ConfigError) Error() string {
	switch {
	case e.Value != "" && e.Err != nil:
		return fmt.Sprintf("invalid %v %q: %v", e.Setting, e.Value, e.Err)
	case e.Value != "":
		return fmt.Sprintf("invalid %v %q", e.Setting, e.Value)
	case e.Err != nil:
		return fmt.Sprintf("invalid %v: %v", e.Setting, e.Err)
	}
	return fmt.Sprintf("invalid %v", e.Setting)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError returns a ConfigError for setting with the offending value.
func NewConfigError(setting, value string, err error) error {
	return WithStack(&ConfigError{Setting: setting, Value: value, Err: err})
}

// IOError is a failure reported by the remote filesystem or the transport
// used to reach it.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *IOError) Unwrap() error { return e.Err }

// ExecutionError wraps a failure of a privileged action that is neither an
// I/O failure nor one of the other kinds in this package.
type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string {
	return "privileged block exception: " + e.Err.Error()
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// WriteError is returned when storing a chunk of a blob fails. Chunks written
// before Chunk are left on the remote filesystem.
type WriteError struct {
	Blob  string
	Chunk int
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write blob %v chunk %d: %v", e.Blob, e.Chunk, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ReadError is returned when a chunk of a blob is missing or cannot be read.
type ReadError struct {
	Blob  string
	Chunk int
	Err   error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read blob %v chunk %d: %v", e.Blob, e.Chunk, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// DeleteError is returned when removing a chunk of a blob fails. Chunks
// before Chunk are already gone.
type DeleteError struct {
	Blob  string
	Chunk int
	Err   error
}

func (e *DeleteError) Error() string {
	return fmt.Sprintf("delete blob %v chunk %d: %v", e.Blob, e.Chunk, e.Err)
}

func (e *DeleteError) Unwrap() error { return e.Err }

func isKind[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}

// IsConfig reports whether err contains a ConfigError.
func IsConfig(err error) bool { return isKind[*ConfigError](err) }

// IsIO reports whether err contains an IOError.
func IsIO(err error) bool { return isKind[*IOError](err) }

// IsExecution reports whether err contains an ExecutionError.
func IsExecution(err error) bool { return isKind[*ExecutionError](err) }

// IsWrite reports whether err contains a WriteError.
func IsWrite(err error) bool { return isKind[*WriteError](err) }

// IsRead reports whether err contains a ReadError.
func IsRead(err error) bool { return isKind[*ReadError](err) }

// IsDelete reports whether err contains a DeleteError.
func IsDelete(err error) bool { return isKind[*DeleteError](err) }

// IsClassified reports whether err already belongs to one of the error kinds
// defined in this package.
func IsClassified(err error) bool {
	return IsConfig(err) || IsIO(err) || IsExecution(err) ||
		IsWrite(err) || IsRead(err) || IsDelete(err)
}
