package options

import (
	"fmt"
	"reflect"
	"regexp"
	"testing"
	"time"

	"github.com/restic/snaprepo/internal/errors"
)

var optsTests = []struct {
	input  []string
	output Options
}{
	{
		[]string{"chunk_size=100k", "compress=true ", "k="},
		Options{
			"chunk_size": "100k",
			"compress":   "true",
			"k":          "",
		},
	},
	{
		[]string{"Connections=23", "compress", "k=thing with spaces"},
		Options{
			"connections": "23",
			"compress":    "",
			"k":           "thing with spaces",
		},
	},
	{
		[]string{"k=thing with spaces", "k2=more spaces = not evil"},
		Options{
			"k":  "thing with spaces",
			"k2": "more spaces = not evil",
		},
	},
	{
		[]string{"x=1", "uri=hdfs://nn:8020", "y=2", "uri=hdfs://nn:8020"},
		Options{
			"x":   "1",
			"y":   "2",
			"uri": "hdfs://nn:8020",
		},
	},
}

func TestParseOptions(t *testing.T) {
	for i, test := range optsTests {
		t.Run(fmt.Sprintf("test-%v", i), func(t *testing.T) {
			opts, err := Parse(test.input)
			if err != nil {
				t.Fatalf("unable to parse options: %v", err)
			}

			if !reflect.DeepEqual(opts, test.output) {
				t.Fatalf("wrong result, want:\n  %#v\ngot:\n  %#v", test.output, opts)
			}
		})
	}
}

func TestParsePreserveCase(t *testing.T) {
	PreserveCase("hadoop")
	defer delete(rawNamespaces, "hadoop")

	opts, err := Parse([]string{"HADOOP.fs.defaultFS=hdfs://nn", "Path=/Repo"})
	if err != nil {
		t.Fatal(err)
	}

	want := Options{
		"hadoop.fs.defaultFS": "hdfs://nn",
		"path":                "/Repo",
	}
	if !reflect.DeepEqual(opts, want) {
		t.Fatalf("wrong result, want:\n  %#v\ngot:\n  %#v", want, opts)
	}
}

var invalidOptsTests = []struct {
	input []string
	err   string
}{
	{
		[]string{"=bar", "bar=baz", "k="},
		`invalid option "=bar": empty key is not a valid option`,
	},
	{
		[]string{"x=1", "foo=bar", "y=2", "foo=baz"},
		`invalid option "foo": key present more than once`,
	},
}

func TestParseInvalidOptions(t *testing.T) {
	for _, test := range invalidOptsTests {
		t.Run(test.err, func(t *testing.T) {
			_, err := Parse(test.input)
			if err == nil {
				t.Fatalf("expected error (%v) not found, err is nil", test.err)
			}

			if err.Error() != test.err {
				t.Fatalf("expected error %q, got %q", test.err, err.Error())
			}

			if !errors.IsConfig(err) {
				t.Fatalf("expected config error, got %T", err)
			}
		})
	}
}

var extractTests = []struct {
	input  Options
	ns     string
	output Options
}{
	{
		input: Options{
			"foo.bar:":     "baz",
			"s3.timeout":   "10s",
			"sftp.timeout": "5s",
			"global":       "foobar",
		},
		ns: "s3",
		output: Options{
			"timeout": "10s",
		},
	},
	{
		input: Options{
			"conf.dfs.replication": "2",
			"conf.fs.es-hdfs.impl": "org.example.FS",
			"chunk_size":           "1m",
		},
		ns: "conf.",
		output: Options{
			"dfs.replication": "2",
			"fs.es-hdfs.impl": "org.example.FS",
		},
	},
}

func TestOptionsExtract(t *testing.T) {
	for _, test := range extractTests {
		t.Run(test.ns, func(t *testing.T) {
			opts := test.input.Extract(test.ns)

			if !reflect.DeepEqual(opts, test.output) {
				t.Fatalf("wrong result, want:\n  %#v\ngot:\n  %#v", test.output, opts)
			}
		})
	}
}

func TestOptionsWithoutMerge(t *testing.T) {
	o := Options{"conf.a": "1", "path": "/x", "chunk_size": "1k"}

	rest := o.Without("conf")
	want := Options{"path": "/x", "chunk_size": "1k"}
	if !reflect.DeepEqual(rest, want) {
		t.Fatalf("wrong result, want:\n  %#v\ngot:\n  %#v", want, rest)
	}

	merged := rest.Merge(Options{"path": "/y"})
	if merged["path"] != "/y" || rest["path"] != "/x" {
		t.Fatalf("merge modified the receiver or lost the override: %v %v", rest, merged)
	}
}

// Target is used for Apply() tests
type Target struct {
	Name      string        `option:"name"`
	ID        int           `option:"id"`
	Timeout   time.Duration `option:"timeout"`
	ChunkSize Size          `option:"chunk_size"`
	Compress  bool          `option:"compress"`
	Other     string
}

var setTests = []struct {
	input  Options
	output Target
}{
	{
		Options{
			"name": "foobar",
		},
		Target{
			Name: "foobar",
		},
	},
	{
		Options{
			"name": "foobar",
			"id":   "1234",
		},
		Target{
			Name: "foobar",
			ID:   1234,
		},
	},
	{
		Options{
			"timeout": "10m3s",
		},
		Target{
			Timeout: time.Duration(10*time.Minute + 3*time.Second),
		},
	},
	{
		Options{
			"chunk_size": "100k",
			"compress":   "true",
		},
		Target{
			ChunkSize: 100 * 1024,
			Compress:  true,
		},
	},
}

func TestOptionsApply(t *testing.T) {
	for i, test := range setTests {
		t.Run(fmt.Sprintf("test-%d", i), func(t *testing.T) {
			var dst Target
			err := test.input.Apply("", &dst)
			if err != nil {
				t.Fatal(err)
			}

			if dst != test.output {
				t.Fatalf("wrong result, want:\n  %#v\ngot:\n  %#v", test.output, dst)
			}
		})
	}
}

var invalidSetTests = []struct {
	input     Options
	namespace string
	err       string
}{
	{
		Options{
			"first_name": "foobar",
		},
		"ns",
		`invalid option "ns.first_name": option is not known`,
	},
	{
		Options{
			"id": "foobar",
		},
		"ns",
		`strconv.ParseInt: parsing "foobar": invalid syntax`,
	},
	{
		Options{
			"timeout": "2134",
		},
		"ns",
		`time: missing unit in duration "?2134"?`,
	},
	{
		Options{
			"chunk_size": "ten",
		},
		"ns",
		`invalid option ns.chunk_size "ten"`,
	},
}

func TestOptionsApplyInvalid(t *testing.T) {
	for i, test := range invalidSetTests {
		t.Run(fmt.Sprintf("test-%d", i), func(t *testing.T) {
			var dst Target
			err := test.input.Apply(test.namespace, &dst)
			if err == nil {
				t.Fatalf("expected error %v not found", test.err)
			}

			if !errors.IsConfig(err) {
				t.Fatalf("expected config error, got %v", err)
			}

			matched, merr := regexp.MatchString(test.err, err.Error())
			if merr != nil {
				t.Fatal(merr)
			}

			if !matched {
				t.Fatalf("expected error to match %q, got %q", test.err, err.Error())
			}
		})
	}
}

func TestParseSize(t *testing.T) {
	for _, test := range []struct {
		in   string
		want Size
	}{
		{"0", 0},
		{"1000", 1000},
		{"100k", 100 * 1024},
		{"1000k", 1000 * 1024},
		{"64mb", 64 * 1024 * 1024},
		{"1g", 1 << 30},
	} {
		t.Run(test.in, func(t *testing.T) {
			got, err := ParseSize(test.in)
			if err != nil {
				t.Fatal(err)
			}
			if got != test.want {
				t.Fatalf("want %d, got %d", test.want, got)
			}
		})
	}

	for _, in := range []string{"", "-1", "lots"} {
		if _, err := ParseSize(in); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}

func TestListOptions(t *testing.T) {
	var tests = []struct {
		cfg  interface{}
		opts []Help
	}{
		{
			struct {
				Foo string `option:"foo" help:"bar text help"`
			}{},
			[]Help{
				{Name: "foo", Text: "bar text help"},
			},
		},
		{
			struct {
				Foo string `option:"foo" help:"bar text help"`
				Bar string `option:"bar" help:"bar text help"`
				Baz string
			}{},
			[]Help{
				{Name: "foo", Text: "bar text help"},
				{Name: "bar", Text: "bar text help"},
			},
		},
	}

	for _, test := range tests {
		t.Run("", func(t *testing.T) {
			opts := listOptions(test.cfg)
			if !reflect.DeepEqual(opts, test.opts) {
				t.Fatalf("wrong opts, want:\n  %v\ngot:\n  %v", test.opts, opts)
			}
		})
	}
}

func TestAppendAllOptions(t *testing.T) {
	var opts []Help
	opts = appendAllOptions(opts, "sftp", struct {
		Foo string `option:"foo" help:"bar text help2"`
		Bar string `option:"bar" help:"bar text help"`
	}{})
	opts = appendAllOptions(opts, "hdfs", struct {
		Foo string `option:"foo" help:"bar text help"`
	}{})

	want := []Help{
		{Namespace: "hdfs", Name: "foo", Text: "bar text help"},
		{Namespace: "sftp", Name: "bar", Text: "bar text help"},
		{Namespace: "sftp", Name: "foo", Text: "bar text help2"},
	}
	if !reflect.DeepEqual(opts, want) {
		t.Fatalf("wrong list, want:\n  %v\ngot:\n  %v", want, opts)
	}
}
