package backend_test

import (
	"context"
	"testing"

	"github.com/restic/snaprepo/internal/backend"
	"github.com/restic/snaprepo/internal/backend/mem"
	rtest "github.com/restic/snaprepo/internal/test"
)

func TestJoin(t *testing.T) {
	for _, test := range []struct {
		elem []string
		want string
	}{
		{[]string{""}, ""},
		{[]string{"/", "foo"}, "foo"},
		{[]string{"indices", "0", "__blob.part0"}, "indices/0/__blob.part0"},
		{[]string{"", "snap-1.dat.part3"}, "snap-1.dat.part3"},
		{[]string{"a/", "/b/"}, "a/b"},
	} {
		rtest.Equals(t, test.want, backend.Join(test.elem...))
	}
}

func TestSaveLoadAll(t *testing.T) {
	ctx := context.TODO()
	be := mem.New()
	defer func() { rtest.OK(t, be.Close()) }()

	data := rtest.Random(23, 1234)
	rtest.OK(t, backend.Save(ctx, be, "a/b/c", data))

	buf, err := backend.LoadAll(ctx, be, "a/b/c")
	rtest.OK(t, err)
	rtest.EqualBytes(t, data, buf)

	ok, err := backend.Exists(ctx, be, "a/b/c")
	rtest.OK(t, err)
	rtest.Assert(t, ok, "file a/b/c does not exist")

	ok, err = backend.Exists(ctx, be, "a/b/missing")
	rtest.OK(t, err)
	rtest.Assert(t, !ok, "missing file reported as existing")

	names, err := backend.ListNames(ctx, be, "a")
	rtest.OK(t, err)
	rtest.Equals(t, []string{"b"}, names)
}
