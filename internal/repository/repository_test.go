package repository_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/cespare/xxhash/v2"

	"github.com/restic/snaprepo/internal/backend"
	"github.com/restic/snaprepo/internal/backend/location"
	"github.com/restic/snaprepo/internal/backend/mem"
	"github.com/restic/snaprepo/internal/backend/mock"
	"github.com/restic/snaprepo/internal/errors"
	"github.com/restic/snaprepo/internal/repository"
	rtest "github.com/restic/snaprepo/internal/test"
)

const testChunkSize = 1000

var testSizes = []int{0, testChunkSize - 1, testChunkSize, testChunkSize + 1, 10 * testChunkSize}

var compressionSettings = map[string][]string{
	"plain": {"compress=false"},
	"zstd":  {"compress=true", "codec=zstd"},
	"lz4":   {"compress=true", "codec=lz4"},
}

func expectedChunks(size int) int {
	if size == 0 {
		return 1
	}
	return (size + testChunkSize - 1) / testChunkSize
}

func readAll(t testing.TB, rd io.ReadCloser) []byte {
	t.Helper()
	buf, err := io.ReadAll(rd)
	rtest.OK(t, err)
	rtest.OK(t, rd.Close())
	return buf
}

func writeBlob(t testing.TB, c interface {
	WriteBlob(context.Context, string, io.Reader, int64) (repository.WriteStats, error)
}, name string, data []byte) repository.WriteStats {
	t.Helper()
	stats, err := c.WriteBlob(context.TODO(), name, bytes.NewReader(data), int64(len(data)))
	rtest.OK(t, err)
	return stats
}

func TestRoundTrip(t *testing.T) {
	for mode, settings := range compressionSettings {
		t.Run(mode, func(t *testing.T) {
			repo := repository.TestRepository(t, append(settings, fmt.Sprintf("chunk_size=%d", testChunkSize))...)

			for i, size := range testSizes {
				name := fmt.Sprintf("blob-%d", size)
				data := rtest.Random(i, size)

				stats := writeBlob(t, repo, name, data)
				rtest.Equals(t, expectedChunks(size), stats.Chunks)
				rtest.Equals(t, int64(size), stats.Bytes)
				rtest.Equals(t, xxhash.Sum64(data), stats.Digest)

				rd, err := repo.ReadBlob(context.TODO(), name)
				rtest.OK(t, err)
				rtest.Equals(t, stats.Chunks, rd.Chunks())
				rtest.EqualBytes(t, data, readAll(t, rd))
			}
		})
	}
}

func TestRoundTripUnlimitedChunkSize(t *testing.T) {
	repo := repository.TestRepository(t)
	data := rtest.Random(23, 3<<20)

	stats := writeBlob(t, repo, "large", data)
	rtest.Equals(t, 1, stats.Chunks)

	rd, err := repo.ReadBlob(context.TODO(), "large")
	rtest.OK(t, err)
	rtest.EqualBytes(t, data, readAll(t, rd))
}

func TestChunkFilesOnDisk(t *testing.T) {
	dir := rtest.TempDir(t)
	repo := repository.TestRepositoryWithRegistry(t, repository.TestRegistry(),
		"uri=file:///", "path="+filepath.ToSlash(dir), "chunk_size=1000")

	data := rtest.Random(5, 3*1000+7)
	writeBlob(t, repo, "foo", data)

	entries, err := os.ReadDir(dir)
	rtest.OK(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	rtest.Equals(t, []string{"foo.part0", "foo.part1", "foo.part2", "foo.part3"}, names)

	for i, name := range names {
		buf, err := os.ReadFile(filepath.Join(dir, name))
		rtest.OK(t, err)
		end := (i + 1) * 1000
		if end > len(data) {
			end = len(data)
		}
		rtest.EqualBytes(t, data[i*1000:end], buf)
	}

	last, err := os.Stat(filepath.Join(dir, "foo.part3"))
	rtest.OK(t, err)
	rtest.Equals(t, int64(7), last.Size())
}

func TestStreamingWriter(t *testing.T) {
	repo := repository.TestRepository(t, "chunk_size=10")
	data := rtest.Random(1, 95)

	wr, err := repo.CreateBlob(context.TODO(), "stream", -1)
	rtest.OK(t, err)

	// odd write sizes cross chunk boundaries
	for rest := data; len(rest) > 0; {
		n := 7
		if n > len(rest) {
			n = len(rest)
		}
		m, err := wr.Write(rest[:n])
		rtest.OK(t, err)
		rtest.Equals(t, n, m)
		rest = rest[n:]
	}
	rtest.OK(t, wr.Close())
	rtest.Equals(t, 10, wr.Stats().Chunks)

	rd, err := repo.OpenBlob(context.TODO(), "stream", 10)
	rtest.OK(t, err)
	rtest.EqualBytes(t, data, readAll(t, rd))
}

func TestListBlobs(t *testing.T) {
	repo := repository.TestRepository(t, "chunk_size=100")

	writeBlob(t, repo, "foo", rtest.Random(1, 350))
	writeBlob(t, repo, "bar", rtest.Random(2, 10))
	writeBlob(t, repo, "index-0", nil)

	names, err := repo.ListBlobs(context.TODO(), "")
	rtest.OK(t, err)
	rtest.Equals(t, []string{"bar", "foo", "index-0"}, names)

	names, err = repo.ListBlobs(context.TODO(), "index-")
	rtest.OK(t, err)
	rtest.Equals(t, []string{"index-0"}, names)

	names, err = repo.ListBlobs(context.TODO(), "nothing")
	rtest.OK(t, err)
	rtest.Equals(t, []string{}, names)
}

func TestDeleteBlob(t *testing.T) {
	repo := repository.TestRepository(t, "chunk_size=100")
	ctx := context.TODO()

	writeBlob(t, repo, "foo", rtest.Random(1, 350))
	writeBlob(t, repo, "foobar", rtest.Random(2, 50))

	ok, err := repo.BlobExists(ctx, "foo")
	rtest.OK(t, err)
	rtest.Assert(t, ok, "blob foo does not exist")

	rtest.OK(t, repo.DeleteBlob(ctx, "foo"))

	ok, err = repo.BlobExists(ctx, "foo")
	rtest.OK(t, err)
	rtest.Assert(t, !ok, "blob foo still exists")

	_, err = repo.ReadBlob(ctx, "foo")
	rtest.ErrorKind(t, err, errors.IsRead, "read")

	names, err := repo.ListBlobs(ctx, "")
	rtest.OK(t, err)
	rtest.Equals(t, []string{"foobar"}, names)

	// deleting a missing blob succeeds
	rtest.OK(t, repo.DeleteBlob(ctx, "foo"))
}

func TestDeleteBlobs(t *testing.T) {
	repo := repository.TestRepository(t, "chunk_size=10", "connections=2")
	ctx := context.TODO()

	var names []string
	for i := 0; i < 20; i++ {
		name := fmt.Sprintf("blob-%02d", i)
		names = append(names, name)
		writeBlob(t, repo, name, rtest.Random(i, 25))
	}

	rtest.OK(t, repo.DeleteBlobs(ctx, names[:15]))

	left, err := repo.ListBlobs(ctx, "")
	rtest.OK(t, err)
	rtest.Equals(t, names[15:], left)

	rtest.OK(t, repo.DeleteBlobs(ctx, nil))
}

func TestReadMissingBlob(t *testing.T) {
	repo := repository.TestRepository(t)

	_, err := repo.ReadBlob(context.TODO(), "missing")
	rtest.ErrorKind(t, err, errors.IsRead, "read")
	rtest.ErrorKind(t, err, errors.IsIO, "io")

	var readErr *errors.ReadError
	rtest.Assert(t, errors.As(err, &readErr), "not a ReadError: %v", err)
	rtest.Equals(t, 0, readErr.Chunk)
	rtest.Assert(t, errors.Is(err, fs.ErrNotExist), "error does not match fs.ErrNotExist: %v", err)
}

func TestOpenBlobMissingChunk(t *testing.T) {
	repo := repository.TestRepository(t, "chunk_size=10")
	writeBlob(t, repo, "foo", rtest.Random(1, 20))

	rd, err := repo.OpenBlob(context.TODO(), "foo", 3)
	rtest.OK(t, err)

	_, err = io.ReadAll(rd)
	var readErr *errors.ReadError
	rtest.Assert(t, errors.As(err, &readErr), "not a ReadError: %v", err)
	rtest.Equals(t, "foo", readErr.Blob)
	rtest.Equals(t, 2, readErr.Chunk)
	rtest.OK(t, rd.Close())

	_, err = repo.OpenBlob(context.TODO(), "foo", 0)
	rtest.Assert(t, err != nil, "expected error for zero chunks")
}

func TestRewind(t *testing.T) {
	repo := repository.TestRepository(t, "chunk_size=64", "compress=true")
	data := rtest.Random(3, 1000)
	writeBlob(t, repo, "foo", data)

	rd, err := repo.ReadBlob(context.TODO(), "foo")
	rtest.OK(t, err)

	buf := make([]byte, 300)
	_, err = io.ReadFull(rd, buf)
	rtest.OK(t, err)
	rtest.EqualBytes(t, data[:300], buf)

	rtest.OK(t, rd.Rewind())
	rtest.EqualBytes(t, data, readAll(t, rd))
}

func TestCompressionToggle(t *testing.T) {
	data := bytes.Repeat([]byte("snapshot metadata "), 500)

	for mode, settings := range compressionSettings {
		t.Run(mode, func(t *testing.T) {
			repo := repository.TestRepository(t, append(settings, "chunk_size=4k")...)
			stats := writeBlob(t, repo, "meta", data)

			if mode == "plain" {
				rtest.Equals(t, stats.Bytes, stats.StoredBytes)
			} else {
				rtest.Assert(t, stats.StoredBytes < stats.Bytes,
					"compressed size %d not smaller than %d", stats.StoredBytes, stats.Bytes)
			}

			rd, err := repo.ReadBlob(context.TODO(), "meta")
			rtest.OK(t, err)
			rtest.EqualBytes(t, data, readAll(t, rd))
		})
	}
}

func TestCreateExistingBlob(t *testing.T) {
	repo := repository.TestRepository(t)
	writeBlob(t, repo, "foo", []byte("first"))

	_, err := repo.WriteBlob(context.TODO(), "foo", strings.NewReader("second"), 6)
	var writeErr *errors.WriteError
	rtest.Assert(t, errors.As(err, &writeErr), "not a WriteError: %v", err)
	rtest.Equals(t, 0, writeErr.Chunk)
	rtest.Assert(t, errors.Is(err, fs.ErrExist), "error does not match fs.ErrExist: %v", err)

	rd, err := repo.ReadBlob(context.TODO(), "foo")
	rtest.OK(t, err)
	rtest.Equals(t, "first", string(readAll(t, rd)))
}

func TestLengthMismatch(t *testing.T) {
	repo := repository.TestRepository(t, "chunk_size=10")

	_, err := repo.WriteBlob(context.TODO(), "short", bytes.NewReader(rtest.Random(1, 15)), 20)
	rtest.ErrorKind(t, err, errors.IsWrite, "write")

	_, err = repo.WriteBlob(context.TODO(), "long", bytes.NewReader(rtest.Random(1, 25)), 20)
	rtest.ErrorKind(t, err, errors.IsWrite, "write")
}

func TestInvalidBlobNames(t *testing.T) {
	repo := repository.TestRepository(t)
	ctx := context.TODO()

	for _, name := range []string{"", "a/b", "..", "x:y", "~foo"} {
		_, err := repo.CreateBlob(ctx, name, 0)
		rtest.Assert(t, errors.Is(err, errors.ErrInvalidName), "CreateBlob(%q): wrong error %v", name, err)

		_, err = repo.ReadBlob(ctx, name)
		rtest.Assert(t, errors.Is(err, errors.ErrInvalidName), "ReadBlob(%q): wrong error %v", name, err)

		err = repo.DeleteBlob(ctx, name)
		rtest.Assert(t, errors.Is(err, errors.ErrInvalidName), "DeleteBlob(%q): wrong error %v", name, err)
	}
}

func TestContainers(t *testing.T) {
	repo := repository.TestRepository(t)
	ctx := context.TODO()

	idx, err := repo.Container("indices", "abc")
	rtest.OK(t, err)
	rtest.Equals(t, "indices/abc", idx.Path())

	writeBlob(t, idx, "snap-1.dat", []byte("shard"))
	writeBlob(t, repo, "index-0", []byte("root"))

	other, err := repo.Container("indices", "def")
	rtest.OK(t, err)
	writeBlob(t, other, "snap-1.dat", []byte("other shard"))

	indices, err := repo.Container("indices")
	rtest.OK(t, err)
	names, err := indices.ListContainers(ctx)
	rtest.OK(t, err)
	rtest.Equals(t, []string{"abc", "def"}, names)

	names, err = repo.ListContainers(ctx)
	rtest.OK(t, err)
	rtest.Equals(t, []string{"indices"}, names)

	names, err = idx.ListBlobs(ctx, "")
	rtest.OK(t, err)
	rtest.Equals(t, []string{"snap-1.dat"}, names)

	rtest.OK(t, idx.DeleteContainer(ctx))

	names, err = indices.ListContainers(ctx)
	rtest.OK(t, err)
	rtest.Equals(t, []string{"def"}, names)

	ok, err := repo.BlobExists(ctx, "index-0")
	rtest.OK(t, err)
	rtest.Assert(t, ok, "blob in root container was removed")

	_, err = repo.Container("indices", "a:b")
	rtest.Assert(t, errors.Is(err, errors.ErrInvalidName), "wrong error %v", err)
}

func TestVerify(t *testing.T) {
	for mode, settings := range compressionSettings {
		t.Run(mode, func(t *testing.T) {
			repo := repository.TestRepository(t, append(settings, "chunk_size=1000")...)
			rtest.OK(t, repo.Verify(context.TODO()))

			names, err := repo.ListContainers(context.TODO())
			rtest.OK(t, err)
			rtest.Equals(t, []string{}, names)
		})
	}
}

func TestOpenLocation(t *testing.T) {
	repo := repository.TestRepository(t, "chunk_size=1k")
	rtest.Equals(t, "mem:///repo", repo.Location())
	rtest.Equals(t, "repo", repo.Config().Path)
}

func TestOpenInvalidOptions(t *testing.T) {
	registry := repository.TestRegistry()

	for _, settings := range [][]string{
		{"uri=mem://", "path=repo", "conf.unknown=1"},
		{"uri=mem://", "path=repo", "mem.unknown=1"},
		{"uri=mem://", "path=repo", "nosuchbackend.x=1"},
		{"uri=mem://", "path=a@b$c#11:22"},
		{"uri=hdfs://nn:8020", "path=repo"},
	} {
		t.Run(strings.Join(settings, " "), func(t *testing.T) {
			cfg := repository.NewConfig()
			for _, s := range settings {
				key, value, _ := strings.Cut(s, "=")
				switch {
				case key == "uri":
					cfg.URI = value
				case key == "path":
					cfg.Path = value
				case strings.HasPrefix(key, "conf."):
					cfg.Conf = map[string]string{strings.TrimPrefix(key, "conf."): value}
				default:
					cfg.Backend = map[string]string{key: value}
				}
			}

			_, err := repository.Open(context.TODO(), registry, cfg)
			rtest.ErrorKind(t, err, errors.IsConfig, "config")
		})
	}
}

func TestOpenIgnoresOtherBackendOptions(t *testing.T) {
	repository.TestRepository(t, "file.nosync=true")
}

func TestCancelledContext(t *testing.T) {
	repo := repository.TestRepository(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.WriteBlob(ctx, "foo", strings.NewReader("data"), 4)
	rtest.Assert(t, errors.Is(err, context.Canceled), "wrong error %v", err)

	ok, err := repo.BlobExists(context.TODO(), "foo")
	rtest.OK(t, err)
	rtest.Assert(t, !ok, "blob was written despite cancelled context")
}

func TestCancelWhileWriting(t *testing.T) {
	for name, settings := range map[string][]string{
		"mem":  {"uri=mem://", "path=repo"},
		"file": {"uri=file:///"},
		"zstd": {"uri=mem://", "path=repo", "compress=true", "codec=zstd"},
	} {
		t.Run(name, func(t *testing.T) {
			var dir string
			if name == "file" {
				dir = rtest.TempDir(t)
				settings = append(settings, "path="+filepath.ToSlash(dir))
			}
			repo := repository.TestRepositoryWithRegistry(t, repository.TestRegistry(),
				append(settings, "chunk_size=1000")...)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			wr, err := repo.CreateBlob(ctx, "foo", -1)
			rtest.OK(t, err)
			_, err = wr.Write(rtest.Random(1, 500))
			rtest.OK(t, err)

			cancel()

			// the encoder may buffer the second write, then Close fails
			_, werr := wr.Write(rtest.Random(2, 100))
			cerr := wr.Close()
			rtest.Assert(t, cerr != nil, "Close() after cancel did not fail")
			err = werr
			if err == nil {
				err = cerr
			}
			rtest.Assert(t, errors.Is(err, context.Canceled), "wrong error %v", err)
			rtest.ErrorKind(t, err, errors.IsWrite, "write")

			ok, err := repo.BlobExists(context.TODO(), "foo")
			rtest.OK(t, err)
			rtest.Assert(t, !ok, "interrupted write left a blob behind")

			_, err = repo.ReadBlob(context.TODO(), "foo")
			rtest.ErrorKind(t, err, errors.IsRead, "read")

			names, err := repo.ListBlobs(context.TODO(), "")
			rtest.OK(t, err)
			rtest.Equals(t, []string{}, names)

			if dir != "" {
				entries, err := os.ReadDir(dir)
				rtest.OK(t, err)
				rtest.Equals(t, 0, len(entries))
			}
		})
	}
}

// newMockRepository returns a repository on a mock backend that passes all
// calls to an in-memory backend unless a function is set on the mock.
func newMockRepository(t testing.TB, settings ...string) (*repository.Repository, *mock.Backend) {
	m := mock.NewBackend(mem.New())
	registry := location.NewRegistry()
	registry.Register(mock.NewFactory(m))

	repo := repository.TestRepositoryWithRegistry(t, registry,
		append([]string{"uri=mock://test", "path=repo"}, settings...)...)
	return repo, m
}

func chunkNames(t testing.TB, be backend.Backend) []string {
	t.Helper()
	names, err := backend.ListNames(context.TODO(), be, "")
	rtest.OK(t, err)
	sort.Strings(names)
	return names
}

func TestWriteFailureKeepsCompletedChunks(t *testing.T) {
	repo, m := newMockRepository(t, "chunk_size=10")

	m.CreateFn = func(ctx context.Context, p string) (backend.FileWriter, error) {
		if p == "foo.part2" {
			return nil, &fs.PathError{Op: "create", Path: p, Err: fs.ErrPermission}
		}
		return m.Inner.Create(ctx, p)
	}

	_, err := repo.WriteBlob(context.TODO(), "foo", bytes.NewReader(rtest.Random(1, 45)), 45)

	var writeErr *errors.WriteError
	rtest.Assert(t, errors.As(err, &writeErr), "not a WriteError: %v", err)
	rtest.Equals(t, "foo", writeErr.Blob)
	rtest.Equals(t, 2, writeErr.Chunk)
	rtest.ErrorKind(t, err, errors.IsIO, "io")

	rtest.Equals(t, []string{"foo.part0", "foo.part1"}, chunkNames(t, m.Inner))
}

type failingWriter struct {
	backend.FileWriter
	after int

	closed, aborted bool
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.after <= 0 {
		return 0, errors.New("connection reset by peer")
	}
	w.after -= len(p)
	return w.FileWriter.Write(p)
}

func (w *failingWriter) Close() error {
	w.closed = true
	return w.FileWriter.Close()
}

func (w *failingWriter) Abort() error {
	w.aborted = true
	return w.FileWriter.Abort()
}

func TestWriteFailureRemovesIncompleteChunk(t *testing.T) {
	repo, m := newMockRepository(t, "chunk_size=10")

	var failing *failingWriter
	m.CreateFn = func(ctx context.Context, p string) (backend.FileWriter, error) {
		wr, err := m.Inner.Create(ctx, p)
		if err != nil || p != "foo.part1" {
			return wr, err
		}
		failing = &failingWriter{FileWriter: wr}
		return failing, nil
	}

	_, err := repo.WriteBlob(context.TODO(), "foo", bytes.NewReader(rtest.Random(1, 25)), -1)
	rtest.ErrorKind(t, err, errors.IsWrite, "write")
	rtest.ErrorKind(t, err, errors.IsExecution, "execution")

	rtest.Assert(t, failing.aborted, "incomplete chunk was not aborted")
	rtest.Assert(t, !failing.closed, "incomplete chunk was closed")
	rtest.Equals(t, []string{"foo.part0"}, chunkNames(t, m.Inner))
}

func TestDeleteFailureStops(t *testing.T) {
	repo, m := newMockRepository(t, "chunk_size=10")
	writeBlob(t, repo, "foo", rtest.Random(1, 30))

	m.RemoveFn = func(ctx context.Context, p string) error {
		if p == "foo.part1" {
			return &fs.PathError{Op: "remove", Path: p, Err: fs.ErrPermission}
		}
		return m.Inner.Remove(ctx, p)
	}

	err := repo.DeleteBlob(context.TODO(), "foo")

	var deleteErr *errors.DeleteError
	rtest.Assert(t, errors.As(err, &deleteErr), "not a DeleteError: %v", err)
	rtest.Equals(t, 1, deleteErr.Chunk)
	rtest.ErrorKind(t, err, errors.IsIO, "io")

	rtest.Equals(t, []string{"foo.part1", "foo.part2"}, chunkNames(t, m.Inner))

	ok, err := repo.BlobExists(context.TODO(), "foo")
	rtest.OK(t, err)
	rtest.Assert(t, !ok, "blob still exists")
}

func TestCorruptChunk(t *testing.T) {
	repo, m := newMockRepository(t, "chunk_size=100", "compress=true")
	writeBlob(t, repo, "foo", rtest.Random(1, 250))

	m.OpenFn = func(ctx context.Context, p string) (io.ReadCloser, error) {
		if p == "foo.part1" {
			return io.NopCloser(bytes.NewReader([]byte("not compressed data"))), nil
		}
		return m.Inner.Open(ctx, p)
	}

	rd, err := repo.ReadBlob(context.TODO(), "foo")
	rtest.OK(t, err)

	_, err = io.ReadAll(rd)
	var readErr *errors.ReadError
	rtest.Assert(t, errors.As(err, &readErr), "not a ReadError: %v", err)
	rtest.Equals(t, 1, readErr.Chunk)
	rtest.OK(t, rd.Close())
}

func TestConnectionLimit(t *testing.T) {
	repo, m := newMockRepository(t, "connections=1")

	var inside, maxInside int
	m.StatFn = func(ctx context.Context, p string) (backend.FileInfo, error) {
		inside++
		if inside > maxInside {
			maxInside = inside
		}
		defer func() { inside-- }()
		return m.Inner.Stat(ctx, p)
	}

	ctx := context.TODO()
	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			_, _ = repo.BlobExists(ctx, "foo")
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}

	rtest.Equals(t, 1, maxInside)
}
