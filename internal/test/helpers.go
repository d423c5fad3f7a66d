package test

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/restic/snaprepo/internal/errors"
)

// Assert fails the test if the condition is false.
func Assert(tb testing.TB, condition bool, msg string, v ...interface{}) {
	tb.Helper()
	if !condition {
		_, file, line, _ := runtime.Caller(1)
		fmt.Printf("\033[31m%s:%d: "+msg+"\033[39m\n\n", append([]interface{}{filepath.Base(file), line}, v...)...)
		tb.FailNow()
	}
}

// OK fails the test if an err is not nil.
func OK(tb testing.TB, err error) {
	tb.Helper()
	if err != nil {
		_, file, line, _ := runtime.Caller(1)
		fmt.Printf("\033[31m%s:%d: unexpected error: %+v\033[39m\n\n", filepath.Base(file), line, err)
		tb.FailNow()
	}
}

// Equals fails the test if exp is not equal to act.
func Equals(tb testing.TB, exp, act interface{}) {
	tb.Helper()
	if !reflect.DeepEqual(exp, act) {
		_, file, line, _ := runtime.Caller(1)
		fmt.Printf("\033[31m%s:%d:\n\n\texp: %#v\n\n\tgot: %#v\033[39m\n\n", filepath.Base(file), line, exp, act)
		tb.FailNow()
	}
}

// EqualsDiff fails the test with a readable diff if exp and act differ.
func EqualsDiff(tb testing.TB, exp, act interface{}) {
	tb.Helper()
	if diff := cmp.Diff(exp, act); diff != "" {
		tb.Fatalf("unexpected difference (-want +got):\n%s", diff)
	}
}

// EqualBytes fails the test if the two byte slices differ. Only lengths and
// the first differing offset are printed.
func EqualBytes(tb testing.TB, exp, act []byte) {
	tb.Helper()
	if bytes.Equal(exp, act) {
		return
	}

	n := min(len(exp), len(act))
	off := n
	for i := 0; i < n; i++ {
		if exp[i] != act[i] {
			off = i
			break
		}
	}
	tb.Fatalf("data differs: want %d bytes, got %d bytes, first difference at offset %d", len(exp), len(act), off)
}

// ErrorKind fails the test unless check reports true for err.
func ErrorKind(tb testing.TB, err error, check func(error) bool, kind string) {
	tb.Helper()
	if err == nil {
		tb.Fatalf("expected %v error, got nil", kind)
	}
	if !check(err) {
		tb.Fatalf("expected %v error, got %T: %v", kind, errors.Unwrap(err), err)
	}
}

// Random returns count bytes of pseudo-random data derived from the seed.
func Random(seed, count int) []byte {
	p := make([]byte, count)
	rnd := rand.New(rand.NewSource(int64(seed)))
	_, _ = rnd.Read(p)
	return p
}

// RemoveAll removes path and everything below it, ignoring a missing path.
func RemoveAll(t testing.TB, path string) {
	err := os.RemoveAll(path)
	if errors.Is(err, os.ErrNotExist) {
		err = nil
	}
	OK(t, err)
}

// TempDir returns a temporary directory that is removed by t.Cleanup,
// except if TestCleanupTempDirs is set to false.
func TempDir(t testing.TB) string {
	tempdir, err := os.MkdirTemp(TestTempDir, "snaprepo-test-")
	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() {
		if !TestCleanupTempDirs {
			t.Logf("leaving temporary directory %v used for test", tempdir)
			return
		}

		RemoveAll(t, tempdir)
	})
	return tempdir
}
