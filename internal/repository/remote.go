package repository

import (
	"context"
	"io"

	"github.com/restic/snaprepo/internal/backend"
	"github.com/restic/snaprepo/internal/privileged"
)

// remoteWriter runs every call on a remote file inside the privileged scope.
type remoteWriter struct {
	ctx   context.Context
	scope privileged.Scope
	wr    backend.FileWriter
	n     int64

	aborted bool
}

func (w *remoteWriter) Write(p []byte) (int, error) {
	if w.aborted {
		return 0, io.ErrClosedPipe
	}
	n, err := privileged.Do(w.ctx, w.scope, "write", func(ctx context.Context) (int, error) {
		return w.wr.Write(p)
	})
	w.n += int64(n)
	return n, err
}

func (w *remoteWriter) Close() error {
	return privileged.Run(w.ctx, w.scope, "close", func(ctx context.Context) error {
		return w.wr.Close()
	})
}

// Abort discards the remote file. It runs even if the context of the
// writer is cancelled.
func (w *remoteWriter) Abort() error {
	w.aborted = true
	ctx := context.WithoutCancel(w.ctx)
	return privileged.Run(ctx, w.scope, "abort", func(ctx context.Context) error {
		return w.wr.Abort()
	})
}

// remoteReader is the reading counterpart of remoteWriter. io.EOF is passed
// through untranslated.
type remoteReader struct {
	ctx   context.Context
	scope privileged.Scope
	rd    io.ReadCloser
}

func (r *remoteReader) Read(p []byte) (int, error) {
	var eof bool
	n, err := privileged.Do(r.ctx, r.scope, "read", func(ctx context.Context) (int, error) {
		n, err := r.rd.Read(p)
		if err == io.EOF {
			eof = true
			err = nil
		}
		return n, err
	})
	if err == nil && eof {
		err = io.EOF
	}
	return n, err
}

func (r *remoteReader) Close() error {
	// closing must work on a cancelled context
	return privileged.Translate("close", r.rd.Close())
}
