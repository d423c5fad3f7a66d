package limiter

import (
	"context"
	"io"

	"github.com/restic/snaprepo/internal/backend"
)

// WrapBackendConstructor returns a constructor that wraps the backend
// returned by constructor in a rate limited backend when a limiter is set.
func WrapBackendConstructor[B backend.Backend, C any](constructor func(ctx context.Context, cfg C) (B, error)) func(ctx context.Context, cfg C, lim Limiter) (backend.Backend, error) {
	return func(ctx context.Context, cfg C, lim Limiter) (backend.Backend, error) {
		var be backend.Backend
		be, err := constructor(ctx, cfg)
		if err != nil {
			return nil, err
		}

		if lim != nil {
			be = LimitBackend(be, lim)
		}
		return be, nil
	}
}

// LimitBackend wraps a Backend and applies rate limiting to the content
// written through Create() and read through Open().
func LimitBackend(be backend.Backend, l Limiter) backend.Backend {
	return rateLimitedBackend{
		Backend: be,
		limiter: l,
	}
}

type rateLimitedBackend struct {
	backend.Backend
	limiter Limiter
}

type limitedFileWriter struct {
	backend.FileWriter
	wr io.Writer
}

func (w limitedFileWriter) Write(p []byte) (int, error) {
	return w.wr.Write(p)
}

func (r rateLimitedBackend) Create(ctx context.Context, p string) (backend.FileWriter, error) {
	wr, err := r.Backend.Create(ctx, p)
	if err != nil {
		return nil, err
	}

	return limitedFileWriter{
		FileWriter: wr,
		wr:         r.limiter.UpstreamWriter(wr),
	}, nil
}

type limitedReadCloser struct {
	io.Reader
	io.Closer
}

func (r rateLimitedBackend) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	rd, err := r.Backend.Open(ctx, p)
	if err != nil {
		return nil, err
	}

	return limitedReadCloser{
		Reader: r.limiter.Downstream(rd),
		Closer: rd,
	}, nil
}

var _ backend.Backend = (*rateLimitedBackend)(nil)
