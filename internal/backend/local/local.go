package local

import (
	"context"
	"io"
	"os"
	"path"

	"github.com/spf13/afero"

	"github.com/restic/snaprepo/internal/backend"
	"github.com/restic/snaprepo/internal/backend/location"
	"github.com/restic/snaprepo/internal/debug"
	"github.com/restic/snaprepo/internal/errors"
)

const (
	fileMode = 0600
	dirMode  = 0700
)

// Local is a backend in a local directory.
type Local struct {
	Config
	fs afero.Fs
}

// ensure statically that *Local implements backend.Backend.
var _ backend.Backend = &Local{}

func NewFactory() location.Factory {
	return location.NewBackendFactory("file", ParseConfig, location.NoPassword, Open)
}

// Open opens the local backend as specified by config. The base directory
// is created if it does not exist yet.
func Open(_ context.Context, cfg Config) (*Local, error) {
	debug.Log("open local backend at %v", cfg.Path)

	base := afero.NewOsFs()
	if err := base.MkdirAll(cfg.Path, dirMode); err != nil {
		return nil, errors.WithStack(err)
	}

	return NewWithFs(afero.NewBasePathFs(base, cfg.Path), cfg), nil
}

// NewWithFs returns a backend that stores its files in fsys. Paths are
// relative to the root of fsys.
func NewWithFs(fsys afero.Fs, cfg Config) *Local {
	if cfg.Connections == 0 {
		cfg.Connections = NewConfig().Connections
	}
	return &Local{Config: cfg, fs: fsys}
}

func (b *Local) Connections() uint {
	return b.Config.Connections
}

// Location returns this backend's location (the directory name).
func (b *Local) Location() string {
	return b.Path
}

// IsNotExist returns true if the error is caused by a non existing file.
func (b *Local) IsNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}

func (b *Local) filename(p string) string {
	return "/" + backend.Join(p)
}

// Create writes the file at p to a temporary file in the same directory. The
// temporary file is renamed to p when the writer is closed, then synced to
// disk and made read-only.
func (b *Local) Create(ctx context.Context, p string) (backend.FileWriter, error) {
	debug.Log("Create %v", p)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := b.filename(p)
	if err := b.checkNotExist(name); err != nil {
		return nil, err
	}

	dir := path.Dir(name)
	tmpname := path.Base(name) + "-tmp-"
	f, err := afero.TempFile(b.fs, dir, tmpname)
	if b.IsNotExist(err) {
		debug.Log("error %v: creating dir", err)

		// error is caused by a missing directory, try to create it
		if mkdirErr := b.fs.MkdirAll(dir, dirMode); mkdirErr != nil {
			debug.Log("error creating dir %v: %v", dir, mkdirErr)
		} else {
			f, err = afero.TempFile(b.fs, dir, tmpname)
		}
	}

	if err != nil {
		return nil, errors.WithStack(err)
	}

	return &fileWriter{b: b, f: f, name: name}, nil
}

// checkNotExist returns an fs.ErrExist error if name is present.
func (b *Local) checkNotExist(name string) error {
	_, err := b.fs.Stat(name)
	switch {
	case err == nil:
		return &os.PathError{Op: "create", Path: name, Err: os.ErrExist}
	case b.IsNotExist(err):
		return nil
	}
	return errors.WithStack(err)
}

type fileWriter struct {
	b    *Local
	f    afero.File
	name string

	// renamed is set once the file is stored under its final name
	renamed bool
}

func (w *fileWriter) Write(p []byte) (int, error) {
	return w.f.Write(p)
}

// Close stores the file under its final name. Another file created for the
// same name in the meantime is not overwritten.
func (w *fileWriter) Close() error {
	if !w.b.NoSync {
		if err := w.f.Sync(); err != nil && !isSyncNotSupported(err) {
			return errors.WithStack(err)
		}
	}

	// Close, then rename. Windows doesn't like the reverse order.
	if err := w.f.Close(); err != nil {
		return errors.WithStack(err)
	}

	if err := w.b.checkNotExist(w.name); err != nil {
		return err
	}
	if err := w.b.fs.Rename(w.f.Name(), w.name); err != nil {
		return errors.WithStack(err)
	}
	w.renamed = true

	if !w.b.NoSync {
		if err := fsyncDir(w.b.fs, path.Dir(w.name)); err != nil {
			return errors.WithStack(err)
		}
	}

	// some filesystems don't allow the chmod call, e.g. exfat and network
	// file systems with certain mount options
	err := setFileReadonly(w.b.fs, w.name, fileMode)
	if err != nil && !os.IsPermission(err) {
		return errors.WithStack(err)
	}

	return nil
}

// Abort closes and removes the temporary file. A file that was already
// renamed is removed from its final name.
func (w *fileWriter) Abort() error {
	_ = w.f.Close() // Double Close is harmless.

	name := w.f.Name()
	if w.renamed {
		name = w.name
		_ = w.b.fs.Chmod(name, 0666)
	}

	err := w.b.fs.Remove(name)
	if err != nil && !w.b.IsNotExist(err) {
		return errors.WithStack(err)
	}
	return nil
}

// Open returns a reader for the file at p.
func (b *Local) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	debug.Log("Open %v", p)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := b.fs.Open(b.filename(p))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return f, nil
}

// Stat returns information about a file or directory.
func (b *Local) Stat(ctx context.Context, p string) (backend.FileInfo, error) {
	debug.Log("Stat %v", p)
	if err := ctx.Err(); err != nil {
		return backend.FileInfo{}, err
	}

	fi, err := b.fs.Stat(b.filename(p))
	if err != nil {
		return backend.FileInfo{}, errors.WithStack(err)
	}

	return backend.FileInfo{Name: fi.Name(), Size: fi.Size(), IsDir: fi.IsDir()}, nil
}

// List runs fn for each entry in dir. When an error occurs (or fn returns an
// error), List stops and returns it.
func (b *Local) List(ctx context.Context, dir string, fn func(backend.FileInfo) error) error {
	debug.Log("List %v", dir)

	entries, err := afero.ReadDir(b.fs, b.filename(dir))
	if b.IsNotExist(err) {
		debug.Log("ignoring non-existing directory")
		return ctx.Err()
	}
	if err != nil {
		return errors.WithStack(err)
	}

	for _, fi := range entries {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn(backend.FileInfo{
			Name:  fi.Name(),
			Size:  fi.Size(),
			IsDir: fi.IsDir(),
		})
		if err != nil {
			return err
		}
	}

	return ctx.Err()
}

// Remove removes the file at p.
func (b *Local) Remove(ctx context.Context, p string) error {
	debug.Log("Remove %v", p)
	if err := ctx.Err(); err != nil {
		return err
	}

	fn := b.filename(p)

	// reset read-only flag
	err := b.fs.Chmod(fn, 0666)
	if err != nil && !os.IsPermission(err) {
		return errors.WithStack(err)
	}

	return errors.WithStack(b.fs.Remove(fn))
}

// RemoveAll removes dir and all files below it.
func (b *Local) RemoveAll(ctx context.Context, dir string) error {
	debug.Log("RemoveAll %v", dir)
	if err := ctx.Err(); err != nil {
		return err
	}

	name := b.filename(dir)
	err := afero.Walk(b.fs, name, func(p string, fi os.FileInfo, err error) error {
		if err != nil || fi.IsDir() {
			return nil
		}
		_ = b.fs.Chmod(p, 0666)
		return nil
	})
	if err != nil && !b.IsNotExist(err) {
		return errors.WithStack(err)
	}

	return errors.WithStack(b.fs.RemoveAll(name))
}

// Close closes all open files.
func (b *Local) Close() error {
	debug.Log("Close()")
	// all open files are owned by the readers and writers handed out
	return nil
}
