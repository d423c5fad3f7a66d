package test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"

	"github.com/restic/snaprepo/internal/backend"
	"github.com/restic/snaprepo/internal/errors"
	"github.com/restic/snaprepo/internal/test"
)

func load(t testing.TB, be backend.Backend, p string) []byte {
	t.Helper()
	buf, err := backend.LoadAll(context.TODO(), be, p)
	if err != nil {
		t.Fatalf("LoadAll(%v) returned error: %+v", p, err)
	}
	return buf
}

func store(t testing.TB, be backend.Backend, p string, data []byte) {
	t.Helper()
	if err := backend.Save(context.TODO(), be, p, data); err != nil {
		t.Fatalf("Save(%v) returned error: %+v", p, err)
	}
}

func listAll(t testing.TB, be backend.Backend, dir string) []backend.FileInfo {
	t.Helper()
	var list []backend.FileInfo
	err := be.List(context.TODO(), dir, func(fi backend.FileInfo) error {
		list = append(list, fi)
		return nil
	})
	if err != nil {
		t.Fatalf("List(%v) returned error: %+v", dir, err)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// TestLocation tests that a location string is returned.
func (s *Suite[C]) TestLocation(t *testing.T) {
	be := s.open(t)
	defer s.close(t, be)

	l := be.Location()
	if l == "" {
		t.Fatalf("invalid location string %q", l)
	}
}

// TestConnections tests that the backend allows concurrent operations.
func (s *Suite[C]) TestConnections(t *testing.T) {
	be := s.open(t)
	defer s.close(t, be)

	if be.Connections() == 0 {
		t.Fatal("backend allows no connections")
	}
}

// TestCreateOpen stores files of different sizes and reads them back.
func (s *Suite[C]) TestCreateOpen(t *testing.T) {
	be := s.open(t)
	defer s.close(t, be)

	lengths := []int{0, 1, 4097, 1<<20 + 7}
	if !s.MinimalData {
		lengths = append(lengths, 1<<24+2123)
	}

	dir := testDir(t)
	for i, length := range lengths {
		p := backend.Join(dir, fmt.Sprintf("file-%d", i))
		data := test.Random(i, length)
		store(t, be, p, data)

		buf := load(t, be, p)
		if !bytes.Equal(data, buf) {
			t.Fatalf("wrong data returned for %v, want %d bytes, got %d", p, len(data), len(buf))
		}

		fi, err := be.Stat(context.TODO(), p)
		test.OK(t, err)
		test.Equals(t, int64(length), fi.Size)
		test.Assert(t, !fi.IsDir, "file %v is reported as directory", p)
	}
}

// TestCreateParents tests that Create makes missing parent directories.
func (s *Suite[C]) TestCreateParents(t *testing.T) {
	be := s.open(t)
	defer s.close(t, be)

	p := backend.Join(testDir(t), "a", "b", "c", "file")
	store(t, be, p, []byte("nested"))
	test.Equals(t, []byte("nested"), load(t, be, p))

	fi, err := be.Stat(context.TODO(), backend.Join(testDir(t), "a", "b"))
	test.OK(t, err)
	test.Assert(t, fi.IsDir, "parent is not reported as directory")
}

// TestCreateExclusive tests that Create does not overwrite existing files.
func (s *Suite[C]) TestCreateExclusive(t *testing.T) {
	be := s.open(t)
	defer s.close(t, be)

	p := backend.Join(testDir(t), "file")
	store(t, be, p, []byte("first"))

	wr, err := be.Create(context.TODO(), p)
	if err == nil {
		// some filesystems only notice the conflict when the file is completed
		_, _ = wr.Write([]byte("second"))
		err = wr.Close()
	}
	test.Assert(t, err != nil, "Create() of existing file did not fail")

	test.Equals(t, []byte("first"), load(t, be, p))
}

// TestCreateAbort tests that an aborted file never becomes visible.
func (s *Suite[C]) TestCreateAbort(t *testing.T) {
	be := s.open(t)
	defer s.close(t, be)

	dir := testDir(t)
	p := backend.Join(dir, "file")

	wr, err := be.Create(context.TODO(), p)
	test.OK(t, err)
	_, err = wr.Write(test.Random(1, 4097))
	test.OK(t, err)

	ok, err := backend.Exists(context.TODO(), be, p)
	test.OK(t, err)
	test.Assert(t, !ok, "file is visible before Close")

	test.OK(t, wr.Abort())

	ok, err = backend.Exists(context.TODO(), be, p)
	test.OK(t, err)
	test.Assert(t, !ok, "aborted file is visible")
	test.Equals(t, 0, len(listAll(t, be, dir)))

	// the name is free again
	store(t, be, p, []byte("data"))
	test.Equals(t, []byte("data"), load(t, be, p))
}

// TestCreateAbortCancelled tests that Abort works after the context passed
// to Create was cancelled.
func (s *Suite[C]) TestCreateAbortCancelled(t *testing.T) {
	be := s.open(t)
	defer s.close(t, be)

	dir := testDir(t)
	p := backend.Join(dir, "file")

	ctx, cancel := context.WithCancel(context.Background())
	wr, err := be.Create(ctx, p)
	test.OK(t, err)
	_, err = wr.Write([]byte("partial"))
	test.OK(t, err)

	cancel()
	test.OK(t, wr.Abort())

	ok, err := backend.Exists(context.TODO(), be, p)
	test.OK(t, err)
	test.Assert(t, !ok, "aborted file is visible")
	test.Equals(t, 0, len(listAll(t, be, dir)))
}

// TestNotExist tests operations on files that do not exist.
func (s *Suite[C]) TestNotExist(t *testing.T) {
	be := s.open(t)
	defer s.close(t, be)

	p := backend.Join(testDir(t), "missing")

	rd, err := be.Open(context.TODO(), p)
	if err == nil {
		// object stores may report a missing file on the first read
		_, err = io.ReadAll(rd)
		_ = rd.Close()
	}
	test.Assert(t, err != nil, "Open() of missing file did not fail")
	test.Assert(t, be.IsNotExist(err), "IsNotExist() did not recognize %v", err)

	_, err = be.Stat(context.TODO(), p)
	test.Assert(t, be.IsNotExist(err), "IsNotExist() did not recognize %v", err)
	test.Assert(t, be.IsNotExist(errors.Wrap(err, "wrapped")), "IsNotExist() did not recognize wrapped error")

	ok, err := backend.Exists(context.TODO(), be, p)
	test.OK(t, err)
	test.Assert(t, !ok, "missing file exists")

	test.Assert(t, !be.IsNotExist(errors.New("other error")), "IsNotExist() accepted an unrelated error")
}

// TestList tests that List reports files and directories below a dir.
func (s *Suite[C]) TestList(t *testing.T) {
	be := s.open(t)
	defer s.close(t, be)

	dir := testDir(t)
	want := []backend.FileInfo{
		{Name: "file1", Size: 10},
		{Name: "file2", Size: 0},
		{Name: "file3", Size: 3000},
		{Name: "sub", IsDir: true},
	}
	for i, fi := range want {
		if fi.IsDir {
			store(t, be, backend.Join(dir, fi.Name, "nested"), []byte("x"))
			continue
		}
		store(t, be, backend.Join(dir, fi.Name), test.Random(i, int(fi.Size)))
	}

	list := listAll(t, be, dir)
	for i := range list {
		if list[i].IsDir {
			// directory sizes are not defined
			list[i].Size = 0
		}
	}
	test.Equals(t, want, list)

	test.Equals(t, []backend.FileInfo{{Name: "nested", Size: 1}}, listAll(t, be, backend.Join(dir, "sub")))
	test.Equals(t, 0, len(listAll(t, be, backend.Join(dir, "missing"))))
}

// TestListCallbackError tests that List stops when fn returns an error.
func (s *Suite[C]) TestListCallbackError(t *testing.T) {
	be := s.open(t)
	defer s.close(t, be)

	dir := testDir(t)
	for i := 0; i < 3; i++ {
		store(t, be, backend.Join(dir, fmt.Sprintf("file%d", i)), []byte("data"))
	}

	errStop := errors.New("stop")
	calls := 0
	err := be.List(context.TODO(), dir, func(backend.FileInfo) error {
		calls++
		return errStop
	})
	test.Assert(t, errors.Is(err, errStop), "List() returned wrong error %v", err)
	test.Equals(t, 1, calls)
}

// TestListCancel tests that List honors a cancelled context.
func (s *Suite[C]) TestListCancel(t *testing.T) {
	be := s.open(t)
	defer s.close(t, be)

	dir := testDir(t)
	store(t, be, backend.Join(dir, "file"), []byte("data"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := be.List(ctx, dir, func(backend.FileInfo) error {
		return nil
	})
	test.Assert(t, err != nil, "List() with cancelled context did not fail")
}

// TestRemove tests that Remove deletes a single file.
func (s *Suite[C]) TestRemove(t *testing.T) {
	be := s.open(t)
	defer s.close(t, be)

	dir := testDir(t)
	store(t, be, backend.Join(dir, "keep"), []byte("keep"))
	store(t, be, backend.Join(dir, "remove"), []byte("remove"))

	test.OK(t, be.Remove(context.TODO(), backend.Join(dir, "remove")))

	_, err := be.Stat(context.TODO(), backend.Join(dir, "remove"))
	test.Assert(t, be.IsNotExist(err), "removed file still exists: %v", err)
	test.Equals(t, []byte("keep"), load(t, be, backend.Join(dir, "keep")))

	err = be.Remove(context.TODO(), backend.Join(dir, "remove"))
	test.Assert(t, be.IsNotExist(err), "Remove() of missing file returned %v", err)
}

// TestRemoveAll tests that RemoveAll deletes a directory tree.
func (s *Suite[C]) TestRemoveAll(t *testing.T) {
	be := s.open(t)
	defer s.close(t, be)

	dir := testDir(t)
	for _, p := range []string{"tree/a", "tree/b/c", "tree/b/d/e", "other/f"} {
		store(t, be, backend.Join(dir, p), []byte(p))
	}

	test.OK(t, be.RemoveAll(context.TODO(), backend.Join(dir, "tree")))

	test.Equals(t, []backend.FileInfo{{Name: "other", IsDir: true}}, dirsOnly(listAll(t, be, dir)))
	test.Equals(t, []byte("other/f"), load(t, be, backend.Join(dir, "other", "f")))

	test.OK(t, be.RemoveAll(context.TODO(), backend.Join(dir, "tree")))
	test.OK(t, be.RemoveAll(context.TODO(), backend.Join(dir, "missing")))
}

func dirsOnly(list []backend.FileInfo) []backend.FileInfo {
	var dirs []backend.FileInfo
	for _, fi := range list {
		if fi.IsDir {
			dirs = append(dirs, backend.FileInfo{Name: fi.Name, IsDir: true})
		}
	}
	return dirs
}

// TestConcurrent tests that the backend can be used from several goroutines.
func (s *Suite[C]) TestConcurrent(t *testing.T) {
	be := s.open(t)
	defer s.close(t, be)

	dir := testDir(t)
	const files = 20

	var wg sync.WaitGroup
	errs := make([]error, files)
	for i := 0; i < files; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := backend.Join(dir, fmt.Sprintf("file-%02d", i))
			data := test.Random(i, 1000+i)
			if err := backend.Save(context.TODO(), be, p, data); err != nil {
				errs[i] = err
				return
			}
			buf, err := backend.LoadAll(context.TODO(), be, p)
			if err == nil && !bytes.Equal(data, buf) {
				err = errors.Errorf("wrong data for %v", p)
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		test.OK(t, err)
	}
	test.Equals(t, files, len(listAll(t, be, dir)))
}

// TestClose tests that a closed backend refuses further operations.
func (s *Suite[C]) TestClose(t *testing.T) {
	be := s.open(t)
	test.OK(t, be.Close())

	_, err := be.Stat(context.TODO(), backend.Join(testDir(t), "file"))
	test.Assert(t, err != nil, "Stat() on closed backend did not fail")
}
