package repository

import (
	"context"
	"io"

	"github.com/restic/snaprepo/internal/debug"
	"github.com/restic/snaprepo/internal/errors"
	"github.com/restic/snaprepo/internal/privileged"
)

// ChunkReader reads a blob by opening its chunk files one after another.
// Chunks are opened lazily, the first on the first call to Read.
//
// A ChunkReader is not safe for concurrent use.
type ChunkReader struct {
	ctx    context.Context
	c      *Container
	name   string
	chunks int

	next   int
	remote *remoteReader
	rd     io.Reader
	dec    io.ReadCloser

	err    error
	closed bool
}

func newChunkReader(ctx context.Context, c *Container, name string, chunks int) *ChunkReader {
	return &ChunkReader{
		ctx:    ctx,
		c:      c,
		name:   name,
		chunks: chunks,
	}
}

// Chunks returns the number of chunk files of the blob.
func (r *ChunkReader) Chunks() int {
	return r.chunks
}

func (r *ChunkReader) openChunk() error {
	p := r.c.chunkPath(r.name, r.next)
	debug.Log("open chunk %v", p)

	repo := r.c.repo
	rd, err := privileged.Do(r.ctx, repo.scope, "open", func(ctx context.Context) (io.ReadCloser, error) {
		return repo.be.Open(ctx, p)
	})
	if err != nil {
		return err
	}

	r.remote = &remoteReader{ctx: r.ctx, scope: repo.scope, rd: rd}
	r.rd = r.remote

	if repo.codec != nil {
		r.dec, err = repo.codec.NewReader(r.remote)
		if err != nil {
			return err
		}
		r.rd = r.dec
	}
	r.next++
	return nil
}

func (r *ChunkReader) closeChunk() error {
	if r.remote == nil {
		return nil
	}

	if r.dec != nil {
		_ = r.dec.Close()
		r.dec = nil
	}
	err := r.remote.Close()
	r.remote = nil
	r.rd = nil
	return err
}

func (r *ChunkReader) fail(chunk int, err error) error {
	_ = r.closeChunk()
	r.err = &errors.ReadError{Blob: r.name, Chunk: chunk, Err: err}
	return r.err
}

// Read reads from the current chunk and continues with the next one at the
// end of a chunk.
func (r *ChunkReader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	if r.closed {
		return 0, errors.New("read from closed blob")
	}

	for {
		if r.rd == nil {
			if r.next >= r.chunks {
				return 0, io.EOF
			}
			if err := r.openChunk(); err != nil {
				return 0, r.fail(r.next, err)
			}
		}

		n, err := r.rd.Read(p)
		switch {
		case err == io.EOF:
			if cerr := r.closeChunk(); cerr != nil {
				return n, r.fail(r.next-1, cerr)
			}
		case err != nil:
			return n, r.fail(r.next-1, err)
		}

		if n > 0 || len(p) == 0 {
			return n, nil
		}
	}
}

// Rewind restarts reading at the first chunk.
func (r *ChunkReader) Rewind() error {
	if r.closed {
		return errors.New("rewind of closed blob")
	}
	_ = r.closeChunk()
	r.next = 0
	r.err = nil
	return nil
}

// Close releases the chunk that is currently open.
func (r *ChunkReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.closeChunk()
}
