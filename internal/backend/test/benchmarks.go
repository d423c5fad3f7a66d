package test

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/restic/snaprepo/internal/backend"
	"github.com/restic/snaprepo/internal/test"
)

const benchmarkLength = 1<<24 + 2123

func saveRandomFile(t testing.TB, be backend.Backend, p string, length int) []byte {
	data := test.Random(23, length)
	if err := backend.Save(context.TODO(), be, p, data); err != nil {
		t.Fatalf("Save() error: %+v", err)
	}
	return data
}

func remove(t testing.TB, be backend.Backend, p string) {
	if err := be.Remove(context.TODO(), p); err != nil {
		t.Fatalf("Remove() returned error: %v", err)
	}
}

// BenchmarkOpen benchmarks the Open() method of a backend by reading a
// complete file.
func (s *Suite[C]) BenchmarkOpen(t *testing.B) {
	be := s.open(t)
	defer s.close(t, be)

	p := backend.Join(testDir(t), "file")
	data := saveRandomFile(t, be, p, benchmarkLength)
	defer remove(t, be, p)

	buf := make([]byte, benchmarkLength)

	t.SetBytes(int64(benchmarkLength))
	t.ResetTimer()

	for i := 0; i < t.N; i++ {
		rd, err := be.Open(context.TODO(), p)
		if err != nil {
			t.Fatal(err)
		}
		n, err := io.ReadFull(rd, buf)
		cerr := rd.Close()

		t.StopTimer()
		switch {
		case err != nil:
			t.Fatal(err)
		case cerr != nil:
			t.Fatal(cerr)
		case n != benchmarkLength:
			t.Fatalf("wrong number of bytes read: want %v, got %v", benchmarkLength, n)
		case !bytes.Equal(data, buf):
			t.Fatalf("wrong bytes returned")
		}
		t.StartTimer()
	}
}

// BenchmarkCreate benchmarks the Create() method of a backend.
func (s *Suite[C]) BenchmarkCreate(t *testing.B) {
	be := s.open(t)
	defer s.close(t, be)

	p := backend.Join(testDir(t), "file")
	data := test.Random(23, benchmarkLength)

	t.SetBytes(int64(benchmarkLength))
	t.ResetTimer()

	for i := 0; i < t.N; i++ {
		if err := backend.Save(context.TODO(), be, p, data); err != nil {
			t.Fatal(err)
		}

		if err := be.Remove(context.TODO(), p); err != nil {
			t.Fatal(err)
		}
	}
}

// BenchmarkStat benchmarks the Stat() method of a backend.
func (s *Suite[C]) BenchmarkStat(t *testing.B) {
	be := s.open(t)
	defer s.close(t, be)

	p := backend.Join(testDir(t), "file")
	saveRandomFile(t, be, p, 1234)
	defer remove(t, be, p)

	t.ResetTimer()

	for i := 0; i < t.N; i++ {
		fi, err := be.Stat(context.TODO(), p)
		if err != nil {
			t.Fatal(err)
		}
		if fi.Size != 1234 {
			t.Fatalf("wrong size: want 1234, got %v", fi.Size)
		}
	}
}
