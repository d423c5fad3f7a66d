package repository

import (
	"context"
	"io"

	"github.com/cespare/xxhash/v2"

	"github.com/restic/snaprepo/internal/backend"
	"github.com/restic/snaprepo/internal/debug"
	"github.com/restic/snaprepo/internal/errors"
	"github.com/restic/snaprepo/internal/privileged"
)

// WriteStats describes a blob written by a ChunkWriter.
type WriteStats struct {
	Chunks      int
	Bytes       int64
	StoredBytes int64
	// Digest is the xxhash64 of the uncompressed content.
	Digest uint64
}

// ChunkWriter stores a blob as a sequence of chunk files. Data is written
// to name.part0 until the chunk size is reached, then to name.part1 and so
// on. Chunks are written strictly one after another.
//
// A ChunkWriter is not safe for concurrent use.
type ChunkWriter struct {
	ctx    context.Context
	c      *Container
	name   string
	length int64

	remote  *remoteWriter
	wr      io.Writer
	comp    io.WriteCloser
	chunk   int
	inChunk int64

	hash  *xxhash.Digest
	stats WriteStats
	err   error
	done  bool
}

func newChunkWriter(ctx context.Context, c *Container, name string, length int64) *ChunkWriter {
	return &ChunkWriter{
		ctx:    ctx,
		c:      c,
		name:   name,
		length: length,
		hash:   xxhash.New(),
	}
}

func (w *ChunkWriter) fail(err error) error {
	w.err = &errors.WriteError{Blob: w.name, Chunk: w.chunk, Err: err}
	w.abortChunk()
	return w.err
}

func (w *ChunkWriter) openChunk() error {
	p := w.c.chunkPath(w.name, w.chunk)
	debug.Log("create chunk %v", p)

	repo := w.c.repo
	wr, err := privileged.Do(w.ctx, repo.scope, "create", func(ctx context.Context) (backend.FileWriter, error) {
		return repo.be.Create(ctx, p)
	})
	if err != nil {
		return err
	}

	w.remote = &remoteWriter{ctx: w.ctx, scope: repo.scope, wr: wr}
	w.wr = w.remote
	w.inChunk = 0

	if repo.codec != nil {
		w.comp, err = repo.codec.NewWriter(w.remote)
		if err != nil {
			return err
		}
		w.wr = w.comp
	}
	return nil
}

func (w *ChunkWriter) closeChunk() error {
	if w.comp != nil {
		if err := w.comp.Close(); err != nil {
			return err
		}
		w.comp = nil
	}

	if err := w.remote.Close(); err != nil {
		return err
	}

	w.stats.Chunks++
	w.stats.StoredBytes += w.remote.n
	w.remote = nil
	w.wr = nil
	w.chunk++
	return nil
}

// abortChunk discards the chunk currently written, nothing of it appears
// under the chunk name. Completed chunks stay in place.
func (w *ChunkWriter) abortChunk() {
	if w.remote == nil {
		return
	}

	remote := w.remote
	w.remote = nil
	w.wr = nil

	if err := remote.Abort(); err != nil {
		debug.Log("discarding incomplete chunk %v failed: %v", w.c.chunkPath(w.name, w.chunk), err)
	}

	if w.comp != nil {
		// releases the encoder, its output goes to the discarded file
		_ = w.comp.Close()
		w.comp = nil
	}
}

// Write stores p, starting new chunk files as needed.
func (w *ChunkWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	if w.done {
		return 0, errors.New("write to closed blob")
	}

	if w.length >= 0 && w.stats.Bytes+int64(len(p)) > w.length {
		return 0, w.fail(errors.Errorf("blob is longer than the expected %d bytes", w.length))
	}

	chunkSize := int64(w.c.repo.cfg.ChunkSize)
	written := 0
	for len(p) > 0 {
		if w.wr == nil {
			if err := w.openChunk(); err != nil {
				return written, w.fail(err)
			}
		}

		n := len(p)
		if chunkSize > 0 && int64(n) > chunkSize-w.inChunk {
			n = int(chunkSize - w.inChunk)
		}

		m, err := w.wr.Write(p[:n])
		_, _ = w.hash.Write(p[:m])
		w.inChunk += int64(m)
		w.stats.Bytes += int64(m)
		written += m
		if err != nil {
			return written, w.fail(err)
		}

		if chunkSize > 0 && w.inChunk == chunkSize {
			if err := w.closeChunk(); err != nil {
				return written, w.fail(err)
			}
		}
		p = p[n:]
	}

	return written, nil
}

// ReadFrom copies rd into the blob in pieces of at most one chunk.
func (w *ChunkWriter) ReadFrom(rd io.Reader) (int64, error) {
	size := int64(w.c.repo.cfg.ChunkSize)
	if size <= 0 || size > maxCopyBuffer {
		size = maxCopyBuffer
	}
	pooled := getBuf()
	defer freeBuf(pooled)
	buf := (*pooled)[:size]

	var total int64
	for {
		n, err := io.ReadFull(rd, buf)
		if n > 0 {
			m, werr := w.Write(buf[:n])
			total += int64(m)
			if werr != nil {
				return total, werr
			}
		}

		switch {
		case err == io.EOF || err == io.ErrUnexpectedEOF:
			return total, nil
		case err != nil:
			return total, w.fail(errors.Wrap(err, "read source"))
		}
	}
}

// Close completes the last chunk. A blob without any data is stored as a
// single empty chunk.
func (w *ChunkWriter) Close() error {
	if w.err != nil {
		return w.err
	}
	if w.done {
		return nil
	}
	w.done = true

	if w.remote == nil && w.stats.Chunks == 0 {
		if err := w.openChunk(); err != nil {
			return w.fail(err)
		}
	}

	if w.remote != nil {
		if err := w.closeChunk(); err != nil {
			return w.fail(err)
		}
	}

	if w.length >= 0 && w.stats.Bytes != w.length {
		w.chunk = w.stats.Chunks - 1
		w.err = &errors.WriteError{Blob: w.name, Chunk: w.chunk,
			Err: errors.Errorf("blob has %d bytes, expected %d", w.stats.Bytes, w.length)}
		return w.err
	}

	w.stats.Digest = w.hash.Sum64()
	debug.Log("blob %v: %d bytes in %d chunks", w.name, w.stats.Bytes, w.stats.Chunks)
	return nil
}

// Stats returns the statistics of the blob. They are complete after Close
// returned without error.
func (w *ChunkWriter) Stats() WriteStats {
	return w.stats
}
