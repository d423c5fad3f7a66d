package mem

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/restic/snaprepo/internal/backend"
	"github.com/restic/snaprepo/internal/backend/location"
	"github.com/restic/snaprepo/internal/debug"
	"github.com/restic/snaprepo/internal/errors"
)

// Config holds the base path of a memory backend, parsed from mem://path.
type Config struct {
	Path string
}

// ParseConfig parses a mem:// location.
func ParseConfig(s string) (*Config, error) {
	rest, ok := strings.CutPrefix(s, "mem://")
	if !ok {
		return nil, errors.New("invalid mem location, expected mem://path")
	}

	return &Config{Path: strings.Trim(path.Clean("/"+rest), "/")}, nil
}

// make sure that MemoryBackend implements backend.Backend
var _ backend.Backend = &MemoryBackend{}

// NewFactory creates a persistent mem backend: all backends opened through
// the factory share the same data.
func NewFactory() location.Factory {
	st := newStore()

	return location.NewBackendFactory(
		"mem",
		ParseConfig,
		location.NoPassword,
		func(_ context.Context, cfg Config) (*MemoryBackend, error) {
			return &MemoryBackend{store: st, prefix: cfg.Path}, nil
		},
	)
}

const connectionCount = 2

type store struct {
	data map[string][]byte
	m    sync.Mutex
}

func newStore() *store {
	return &store{data: make(map[string][]byte)}
}

// MemoryBackend is a backend that uses a map for storing all data in
// memory. This should only be used for tests.
type MemoryBackend struct {
	*store
	prefix string
	closed bool
}

// New returns a new backend that saves all data in a map in memory.
func New() *MemoryBackend {
	debug.Log("created new memory backend")
	return &MemoryBackend{store: newStore()}
}

func (be *MemoryBackend) key(p string) string {
	return backend.Join(be.prefix, p)
}

// isDir must be called with the lock held.
func (be *MemoryBackend) isDir(key string) bool {
	if key == "" {
		return true
	}
	for k := range be.data {
		if strings.HasPrefix(k, key+"/") {
			return true
		}
	}
	return false
}

func (be *MemoryBackend) check(ctx context.Context, op, p string) error {
	if be.closed {
		return &fs.PathError{Op: op, Path: p, Err: fs.ErrClosed}
	}
	return ctx.Err()
}

// IsNotExist returns true if the file does not exist.
func (be *MemoryBackend) IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// Create returns a writer that stores the file when closed.
func (be *MemoryBackend) Create(ctx context.Context, p string) (backend.FileWriter, error) {
	be.m.Lock()
	defer be.m.Unlock()

	if err := be.check(ctx, "create", p); err != nil {
		return nil, err
	}

	key := be.key(p)
	if _, ok := be.data[key]; ok || be.isDir(key) {
		return nil, &fs.PathError{Op: "create", Path: p, Err: fs.ErrExist}
	}

	for dir := path.Dir(key); dir != "."; dir = path.Dir(dir) {
		if _, ok := be.data[dir]; ok {
			return nil, &fs.PathError{Op: "create", Path: p, Err: syscall.ENOTDIR}
		}
	}

	return &memWriter{be: be, key: key, name: p}, nil
}

type memWriter struct {
	bytes.Buffer
	be     *MemoryBackend
	key    string
	name   string
	closed bool
}

func (wr *memWriter) Close() error {
	if wr.closed {
		return &fs.PathError{Op: "close", Path: wr.name, Err: fs.ErrClosed}
	}
	wr.closed = true

	wr.be.m.Lock()
	defer wr.be.m.Unlock()

	if _, ok := wr.be.data[wr.key]; ok {
		return &fs.PathError{Op: "create", Path: wr.name, Err: fs.ErrExist}
	}

	wr.be.data[wr.key] = bytes.Clone(wr.Bytes())
	wr.Reset()
	return nil
}

// Abort drops the buffered content. A file stored by Close stays in place,
// Close only fails before storing anything.
func (wr *memWriter) Abort() error {
	wr.closed = true
	wr.Reset()
	return nil
}

// Open returns a reader for the file at p.
func (be *MemoryBackend) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	be.m.Lock()
	defer be.m.Unlock()

	if err := be.check(ctx, "open", p); err != nil {
		return nil, err
	}

	buf, ok := be.data[be.key(p)]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: p, Err: fs.ErrNotExist}
	}

	return io.NopCloser(bytes.NewReader(buf)), nil
}

// Stat returns information about a file or directory in the backend.
func (be *MemoryBackend) Stat(ctx context.Context, p string) (backend.FileInfo, error) {
	be.m.Lock()
	defer be.m.Unlock()

	if err := be.check(ctx, "stat", p); err != nil {
		return backend.FileInfo{}, err
	}

	key := be.key(p)
	if buf, ok := be.data[key]; ok {
		return backend.FileInfo{Name: path.Base(key), Size: int64(len(buf))}, nil
	}

	if be.isDir(key) {
		return backend.FileInfo{Name: path.Base(key), IsDir: true}, nil
	}

	return backend.FileInfo{}, &fs.PathError{Op: "stat", Path: p, Err: fs.ErrNotExist}
}

// List runs fn for all entries directly below dir, sorted by name.
func (be *MemoryBackend) List(ctx context.Context, dir string, fn func(backend.FileInfo) error) error {
	entries := make(map[string]backend.FileInfo)

	be.m.Lock()
	if err := be.check(ctx, "list", dir); err != nil {
		be.m.Unlock()
		return err
	}

	prefix := be.key(dir)
	if prefix != "" {
		prefix += "/"
	}

	for k, buf := range be.data {
		rest, ok := strings.CutPrefix(k, prefix)
		if !ok {
			continue
		}

		name, _, isDir := strings.Cut(rest, "/")
		if isDir {
			entries[name] = backend.FileInfo{Name: name, IsDir: true}
			continue
		}
		entries[name] = backend.FileInfo{Name: name, Size: int64(len(buf))}
	}
	be.m.Unlock()

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := fn(entries[name]); err != nil {
			return err
		}
	}

	return ctx.Err()
}

// Remove deletes a file from the backend.
func (be *MemoryBackend) Remove(ctx context.Context, p string) error {
	be.m.Lock()
	defer be.m.Unlock()

	if err := be.check(ctx, "remove", p); err != nil {
		return err
	}

	key := be.key(p)
	if _, ok := be.data[key]; !ok {
		return &fs.PathError{Op: "remove", Path: p, Err: fs.ErrNotExist}
	}

	delete(be.data, key)
	return nil
}

// RemoveAll deletes dir and everything below it.
func (be *MemoryBackend) RemoveAll(ctx context.Context, dir string) error {
	be.m.Lock()
	defer be.m.Unlock()

	if err := be.check(ctx, "remove", dir); err != nil {
		return err
	}

	key := be.key(dir)
	for k := range be.data {
		if key == "" || k == key || strings.HasPrefix(k, key+"/") {
			delete(be.data, k)
		}
	}
	return nil
}

// Location returns the location of the backend.
func (be *MemoryBackend) Location() string {
	return "mem://" + be.prefix
}

func (be *MemoryBackend) Connections() uint {
	return connectionCount
}

// Close closes the backend. The data stays available to other backends
// opened through the same factory.
func (be *MemoryBackend) Close() error {
	be.m.Lock()
	defer be.m.Unlock()

	be.closed = true
	return nil
}
