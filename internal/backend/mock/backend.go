package mock

import (
	"context"
	"io"

	"github.com/restic/snaprepo/internal/backend"
	"github.com/restic/snaprepo/internal/backend/location"
	"github.com/restic/snaprepo/internal/errors"
)

// Backend implements a mock backend. Calls without a function set are
// passed to Inner, if Inner is nil they fail.
type Backend struct {
	Inner backend.Backend

	CloseFn       func() error
	IsNotExistFn  func(err error) bool
	CreateFn      func(ctx context.Context, p string) (backend.FileWriter, error)
	OpenFn        func(ctx context.Context, p string) (io.ReadCloser, error)
	StatFn        func(ctx context.Context, p string) (backend.FileInfo, error)
	ListFn        func(ctx context.Context, dir string, fn func(backend.FileInfo) error) error
	RemoveFn      func(ctx context.Context, p string) error
	RemoveAllFn   func(ctx context.Context, dir string) error
	ConnectionsFn func() uint
	LocationFn    func() string
}

// NewBackend returns a new mock Backend wrapping inner, which may be nil.
func NewBackend(inner backend.Backend) *Backend {
	return &Backend{Inner: inner}
}

// make sure that Backend implements backend.Backend
var _ backend.Backend = &Backend{}

var errNotImplemented = errors.New("not implemented")

// Close the backend.
func (m *Backend) Close() error {
	switch {
	case m.CloseFn != nil:
		return m.CloseFn()
	case m.Inner != nil:
		return m.Inner.Close()
	}
	return nil
}

func (m *Backend) Connections() uint {
	switch {
	case m.ConnectionsFn != nil:
		return m.ConnectionsFn()
	case m.Inner != nil:
		return m.Inner.Connections()
	}
	return 2
}

// Location returns a location string.
func (m *Backend) Location() string {
	switch {
	case m.LocationFn != nil:
		return m.LocationFn()
	case m.Inner != nil:
		return m.Inner.Location()
	}
	return "mock"
}

// IsNotExist returns true if the error is caused by a missing file.
func (m *Backend) IsNotExist(err error) bool {
	switch {
	case m.IsNotExistFn != nil:
		return m.IsNotExistFn(err)
	case m.Inner != nil:
		return m.Inner.IsNotExist(err)
	}
	return false
}

func (m *Backend) Create(ctx context.Context, p string) (backend.FileWriter, error) {
	switch {
	case m.CreateFn != nil:
		return m.CreateFn(ctx, p)
	case m.Inner != nil:
		return m.Inner.Create(ctx, p)
	}
	return nil, errNotImplemented
}

func (m *Backend) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	switch {
	case m.OpenFn != nil:
		return m.OpenFn(ctx, p)
	case m.Inner != nil:
		return m.Inner.Open(ctx, p)
	}
	return nil, errNotImplemented
}

// Stat an object in the backend.
func (m *Backend) Stat(ctx context.Context, p string) (backend.FileInfo, error) {
	switch {
	case m.StatFn != nil:
		return m.StatFn(ctx, p)
	case m.Inner != nil:
		return m.Inner.Stat(ctx, p)
	}
	return backend.FileInfo{}, errNotImplemented
}

// List runs fn for the entries below dir.
func (m *Backend) List(ctx context.Context, dir string, fn func(backend.FileInfo) error) error {
	switch {
	case m.ListFn != nil:
		return m.ListFn(ctx, dir, fn)
	case m.Inner != nil:
		return m.Inner.List(ctx, dir, fn)
	}
	return errNotImplemented
}

// Remove data from the backend.
func (m *Backend) Remove(ctx context.Context, p string) error {
	switch {
	case m.RemoveFn != nil:
		return m.RemoveFn(ctx, p)
	case m.Inner != nil:
		return m.Inner.Remove(ctx, p)
	}
	return errNotImplemented
}

func (m *Backend) RemoveAll(ctx context.Context, dir string) error {
	switch {
	case m.RemoveAllFn != nil:
		return m.RemoveAllFn(ctx, dir)
	case m.Inner != nil:
		return m.Inner.RemoveAll(ctx, dir)
	}
	return errNotImplemented
}

// Config is the configuration of the mock backend, it carries the location
// only.
type Config struct {
	Location string
}

// NewFactory returns a factory for the scheme "mock" that opens be for
// every location.
func NewFactory(be *Backend) location.Factory {
	return location.NewBackendFactory("mock",
		func(s string) (*Config, error) {
			return &Config{Location: s}, nil
		},
		location.NoPassword,
		func(_ context.Context, _ Config) (*Backend, error) {
			return be, nil
		},
	)
}
