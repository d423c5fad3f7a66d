package repository

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/restic/snaprepo/internal/backend"
	"github.com/restic/snaprepo/internal/debug"
	"github.com/restic/snaprepo/internal/errors"
	"github.com/restic/snaprepo/internal/privileged"
)

// Container is a directory of blobs below the repository base path. The
// repository root is a container, too.
type Container struct {
	repo *Repository
	dir  string
}

// Path returns the path of the container relative to the repository base
// path. It is empty for the root container.
func (c *Container) Path() string {
	return c.dir
}

// Container returns the container below c named by segments. Nothing is
// created on the remote filesystem until a blob is written.
func (c *Container) Container(segments ...string) (*Container, error) {
	for _, seg := range segments {
		if err := validateSegment(seg); err != nil {
			return nil, errors.Wrapf(errors.ErrInvalidName, "container %q: %v", seg, err)
		}
	}

	return &Container{
		repo: c.repo,
		dir:  backend.Join(append([]string{c.dir}, segments...)...),
	}, nil
}

const chunkSuffix = ".part"

func (c *Container) chunkPath(name string, chunk int) string {
	return backend.Join(c.dir, fmt.Sprintf("%s%s%d", name, chunkSuffix, chunk))
}

// parseChunkName splits the name of a chunk file into blob name and chunk
// index.
func parseChunkName(filename string) (name string, chunk int, ok bool) {
	i := strings.LastIndex(filename, chunkSuffix)
	if i <= 0 {
		return "", 0, false
	}

	digits := filename[i+len(chunkSuffix):]
	if digits == "" || strings.Trim(digits, "0123456789") != "" {
		return "", 0, false
	}

	chunk, err := strconv.Atoi(digits)
	if err != nil {
		return "", 0, false
	}
	return filename[:i], chunk, true
}

func checkBlobName(name string) error {
	if err := validateSegment(name); err != nil {
		return errors.Wrapf(errors.ErrInvalidName, "blob %q: %v", name, err)
	}
	return nil
}

// list returns the entries directly below the container.
func (c *Container) list(ctx context.Context) ([]backend.FileInfo, error) {
	repo := c.repo
	return privileged.Do(ctx, repo.scope, "list", func(ctx context.Context) ([]backend.FileInfo, error) {
		var entries []backend.FileInfo
		err := repo.be.List(ctx, c.dir, func(fi backend.FileInfo) error {
			entries = append(entries, fi)
			return nil
		})
		return entries, err
	})
}

// chunkIndexes returns the sorted chunk indexes of blob name found in the
// container.
func (c *Container) chunkIndexes(ctx context.Context, name string) ([]int, error) {
	entries, err := c.list(ctx)
	if err != nil {
		return nil, err
	}

	var chunks []int
	for _, fi := range entries {
		if fi.IsDir {
			continue
		}
		if blob, chunk, ok := parseChunkName(fi.Name); ok && blob == name {
			chunks = append(chunks, chunk)
		}
	}
	sort.Ints(chunks)
	return chunks, nil
}

// CreateBlob returns a writer for a new blob. length is the number of bytes
// that will be written, or -1 if unknown. The blob is complete once Close
// returned without error.
func (c *Container) CreateBlob(ctx context.Context, name string, length int64) (*ChunkWriter, error) {
	if err := checkBlobName(name); err != nil {
		return nil, err
	}
	return newChunkWriter(ctx, c, name, length), nil
}

// WriteBlob stores the content of rd as blob name.
func (c *Container) WriteBlob(ctx context.Context, name string, rd io.Reader, length int64) (WriteStats, error) {
	wr, err := c.CreateBlob(ctx, name, length)
	if err != nil {
		return WriteStats{}, err
	}

	if _, err := wr.ReadFrom(rd); err != nil {
		return wr.Stats(), err
	}
	if err := wr.Close(); err != nil {
		return wr.Stats(), err
	}
	return wr.Stats(), nil
}

// OpenBlob returns a reader for blob name that consists of the given
// number of chunks. Nothing is read before the first call to Read.
func (c *Container) OpenBlob(ctx context.Context, name string, chunks int) (*ChunkReader, error) {
	if err := checkBlobName(name); err != nil {
		return nil, err
	}
	if chunks < 1 {
		return nil, errors.Errorf("blob %q: invalid number of chunks %d", name, chunks)
	}
	return newChunkReader(ctx, c, name, chunks), nil
}

// ReadBlob returns a reader for blob name. The number of chunks is taken
// from a listing of the container, a gap in the chunk sequence is reported
// when the reader reaches it.
func (c *Container) ReadBlob(ctx context.Context, name string) (*ChunkReader, error) {
	if err := checkBlobName(name); err != nil {
		return nil, err
	}

	chunks, err := c.chunkIndexes(ctx, name)
	if err != nil {
		return nil, &errors.ReadError{Blob: name, Chunk: 0, Err: err}
	}
	if len(chunks) == 0 {
		err := privileged.Translate("open", &fs.PathError{Op: "open", Path: c.chunkPath(name, 0), Err: fs.ErrNotExist})
		return nil, &errors.ReadError{Blob: name, Chunk: 0, Err: err}
	}

	return newChunkReader(ctx, c, name, chunks[len(chunks)-1]+1), nil
}

// BlobExists reports whether the first chunk of blob name exists.
func (c *Container) BlobExists(ctx context.Context, name string) (bool, error) {
	if err := checkBlobName(name); err != nil {
		return false, err
	}

	p := c.chunkPath(name, 0)
	repo := c.repo
	_, err := privileged.Do(ctx, repo.scope, "stat", func(ctx context.Context) (backend.FileInfo, error) {
		return repo.be.Stat(ctx, p)
	})
	switch {
	case err == nil:
		return true, nil
	case repo.be.IsNotExist(err):
		return false, nil
	}
	return false, err
}

// ListBlobs returns the sorted names of the blobs in the container whose
// name starts with prefix.
func (c *Container) ListBlobs(ctx context.Context, prefix string) ([]string, error) {
	entries, err := c.list(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	names := []string{}
	for _, fi := range entries {
		if fi.IsDir {
			continue
		}
		name, _, ok := parseChunkName(fi.Name)
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}

	sort.Strings(names)
	return names, nil
}

// DeleteBlob removes all chunks of blob name in ascending order. Deleting a
// missing blob succeeds. The first failure stops the delete, the chunks
// removed before are not restored.
func (c *Container) DeleteBlob(ctx context.Context, name string) error {
	if err := checkBlobName(name); err != nil {
		return err
	}

	chunks, err := c.chunkIndexes(ctx, name)
	if err != nil {
		return &errors.DeleteError{Blob: name, Chunk: 0, Err: err}
	}

	repo := c.repo
	for _, chunk := range chunks {
		p := c.chunkPath(name, chunk)
		err := privileged.Run(ctx, repo.scope, "remove", func(ctx context.Context) error {
			return repo.be.Remove(ctx, p)
		})
		if err != nil && !repo.be.IsNotExist(err) {
			return &errors.DeleteError{Blob: name, Chunk: chunk, Err: err}
		}
	}

	debug.Log("deleted blob %v with %d chunks", name, len(chunks))
	return nil
}

// ListContainers returns the sorted names of the containers directly below c.
func (c *Container) ListContainers(ctx context.Context) ([]string, error) {
	entries, err := c.list(ctx)
	if err != nil {
		return nil, err
	}

	names := []string{}
	for _, fi := range entries {
		if fi.IsDir {
			names = append(names, fi.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// DeleteContainer removes the container with all blobs and containers
// below it.
func (c *Container) DeleteContainer(ctx context.Context) error {
	repo := c.repo
	return privileged.Run(ctx, repo.scope, "remove", func(ctx context.Context) error {
		return repo.be.RemoveAll(ctx, c.dir)
	})
}
