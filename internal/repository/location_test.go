package repository

import (
	"strings"
	"testing"

	"github.com/restic/snaprepo/internal/errors"
	rtest "github.com/restic/snaprepo/internal/test"
)

func TestResolve(t *testing.T) {
	registry := TestRegistry()

	var tests = []struct {
		uri, path string
		want      string
	}{
		{"mem://", "repo", "mem:///repo"},
		{"mem://", "/user/es/repo", "mem:///user/es/repo"},
		{"mem:///base", "repo/sub", "mem:///base/repo/sub"},
		{"mem:///base/", "/repo/", "mem:///base/repo"},
		{"file:///", "/tmp/repo", "file:///tmp/repo"},
		{"file:///tmp", "snap shots", "file:///tmp/snap%20shots"},
		{"mem://", "ünïcode/ok-_.+=", "mem:///%C3%BCn%C3%AFcode/ok-_.+="},
	}

	for _, test := range tests {
		t.Run(test.uri+" "+test.path, func(t *testing.T) {
			loc, err := Resolve(registry, test.uri, test.path)
			rtest.OK(t, err)
			rtest.Equals(t, test.want, loc.String())
		})
	}
}

func TestResolveInvalidPath(t *testing.T) {
	registry := TestRegistry()

	var tests = []struct {
		path    string
		segment string
	}{
		{"a@b$c#11:22", "a@b$c#11:22"},
		{"repo/a:b", "a:b"},
		{"repo/#x", "#x"},
		{"$HOME/repo", "$HOME"},
		{"repo/user@host", "user@host"},
		{"~/repo", "~"},
		{"repo/~backup", "~backup"},
		{"repo/../other", ".."},
		{"./repo", "."},
		{"repo/a\x01b", "a\x01b"},
		{"repo/\xff", "\xff"},
	}

	for _, test := range tests {
		t.Run(test.path, func(t *testing.T) {
			_, err := Resolve(registry, "mem://", test.path)
			rtest.ErrorKind(t, err, errors.IsConfig, "config")
			rtest.Assert(t, strings.Contains(err.Error(), "segment"), "error %q does not name the segment", err)
		})
	}
}

func TestResolveTildeInsideSegment(t *testing.T) {
	loc, err := Resolve(TestRegistry(), "mem://", "repo/back~up")
	rtest.OK(t, err)
	rtest.Equals(t, "mem:///repo/back~up", loc.String())
}

func TestResolveInvalid(t *testing.T) {
	registry := TestRegistry()

	for _, test := range []struct{ uri, path string }{
		{"foo://bar", "repo"},
		{"hdfs://nn:8020", "repo"},
		{"mem", "repo"},
		{"", "repo"},
		{"mem://", ""},
		{"mem://", "  "},
		{"mem://?x=y", "repo"},
	} {
		t.Run(test.uri+" "+test.path, func(t *testing.T) {
			_, err := Resolve(registry, test.uri, test.path)
			rtest.ErrorKind(t, err, errors.IsConfig, "config")
		})
	}
}

func TestParseChunkName(t *testing.T) {
	var tests = []struct {
		filename string
		name     string
		chunk    int
		ok       bool
	}{
		{"foo.part0", "foo", 0, true},
		{"foo.part12", "foo", 12, true},
		{"snap-1.dat.part3", "snap-1.dat", 3, true},
		{"a.part1.part2", "a.part1", 2, true},
		{"foo.part", "", 0, false},
		{"foo.part-1", "", 0, false},
		{"foo.partx", "", 0, false},
		{".part0", "", 0, false},
		{"foo", "", 0, false},
	}

	for _, test := range tests {
		name, chunk, ok := parseChunkName(test.filename)
		rtest.Equals(t, test.ok, ok)
		rtest.Equals(t, test.name, name)
		rtest.Equals(t, test.chunk, chunk)
	}
}
