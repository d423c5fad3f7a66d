package backend

import (
	"context"
	"io"
	"path"
	"strings"
)

// Backend gives access to a remote hierarchical filesystem below a fixed base
// path. All paths passed to a Backend are slash-separated and relative to
// that base path.
//
// Implementations must be safe for concurrent use. They never retry failed
// operations; callers that want retries wrap the whole operation.
type Backend interface {
	// Location returns a string that describes the location of the
	// filesystem, with credentials removed.
	Location() string

	// Connections returns the default maximum number of concurrent
	// operations for this backend.
	Connections() uint

	// Create creates the file at p and returns a writer for its content.
	// Missing parent directories are created. Create fails if p already
	// exists. Nothing is visible under p until Close returned without error.
	Create(ctx context.Context, p string) (FileWriter, error)

	// Open returns a reader for the content of the file at p.
	Open(ctx context.Context, p string) (io.ReadCloser, error)

	// Stat returns information about the file or directory at p.
	Stat(ctx context.Context, p string) (FileInfo, error)

	// List runs fn for each entry directly below dir. A missing dir yields
	// no entries. When fn returns an error, List stops and returns it.
	List(ctx context.Context, dir string, fn func(FileInfo) error) error

	// Remove removes the file at p.
	Remove(ctx context.Context, p string) error

	// RemoveAll removes dir and everything below it. A missing dir is not
	// an error.
	RemoveAll(ctx context.Context, dir string) error

	// IsNotExist returns true if the error was caused by a non-existing file.
	// The argument may be a wrapped error.
	IsNotExist(err error) bool

	// Close releases the connection to the remote filesystem.
	Close() error
}

// FileWriter writes the content of a file created by Backend.Create.
type FileWriter interface {
	io.Writer

	// Close stores the file under its final name.
	Close() error

	// Abort discards everything written so far, the file does not appear
	// under its final name. Abort may be called after a failed Close. It
	// does not depend on a context, so it also works after the context of
	// Create was cancelled.
	Abort() error
}

// FileInfo contains information about a file or directory in the backend.
type FileInfo struct {
	Name  string
	Size  int64
	IsDir bool
}

// Exists returns whether the file at p exists.
func Exists(ctx context.Context, be Backend, p string) (bool, error) {
	_, err := be.Stat(ctx, p)
	if err != nil && be.IsNotExist(err) {
		return false, nil
	}

	return err == nil, err
}

// Join joins path elements to a backend path. Leading and trailing slashes
// are dropped, so the result is always relative.
func Join(elem ...string) string {
	return strings.Trim(path.Join(elem...), "/")
}

// ApplyEnvironmenter fills in a backend configuration from the environment
type ApplyEnvironmenter interface {
	ApplyEnvironment(prefix string)
}

// ConfApplier is implemented by backend configurations that accept raw
// key/value properties from configuration files, e.g. Hadoop settings.
// Configurations without it receive the properties as options.
type ConfApplier interface {
	ApplyConf(conf map[string]string) error
}
