package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/restic/snaprepo/internal/backend/hdfs"
	"github.com/restic/snaprepo/internal/backend/local"
	"github.com/restic/snaprepo/internal/backend/location"
	"github.com/restic/snaprepo/internal/backend/mem"
	"github.com/restic/snaprepo/internal/backend/s3"
	"github.com/restic/snaprepo/internal/backend/sftp"
	"github.com/restic/snaprepo/internal/debug"
	"github.com/restic/snaprepo/internal/errors"
	"github.com/restic/snaprepo/internal/options"
	"github.com/restic/snaprepo/internal/repository"
)

var version = "0.1.0-dev (compiled manually)"

// GlobalOptions hold all global options for snaprepo.
type GlobalOptions struct {
	ConfigFile   string
	URI          string
	Path         string
	Container    string
	Options      []string
	Quiet        bool
	Verbose      int
	RetryMaxTime time.Duration

	stdout io.Writer
	stderr io.Writer

	backends *location.Registry

	// verbosity is set as follows:
	//  0 means: don't print any messages except errors, this is used when --quiet is specified
	//  1 is the default: print essential messages
	//  2 means: print more messages, this is used when --verbose is specified
	verbosity uint

	settings options.Options
}

func (opts *GlobalOptions) AddFlags(f *pflag.FlagSet) {
	f.StringVar(&opts.ConfigFile, "config", "", "read repository settings from YAML `file` (default: $SNAPREPO_CONFIG)")
	f.StringVar(&opts.URI, "uri", "", "remote filesystem `uri`, e.g. hdfs://namenode:8020 (overrides the uri setting)")
	f.StringVar(&opts.Path, "path", "", "base `path` of the repository (overrides the path setting)")
	f.StringVarP(&opts.Container, "container", "c", "", "work on the blobs of `container` below the base path, segments separated by /")
	f.StringArrayVarP(&opts.Options, "option", "o", []string{}, "set repository setting (`key=value`, can be specified multiple times)")
	f.BoolVarP(&opts.Quiet, "quiet", "q", false, "only print errors")
	f.CountVarP(&opts.Verbose, "verbose", "v", "be verbose")
	f.DurationVar(&opts.RetryMaxTime, "retry-max-time", 2*time.Minute, "retry failed remote operations for at most `duration` (0 disables retries)")

	opts.ConfigFile = os.Getenv("SNAPREPO_CONFIG")
}

// PreRun checks the flags and loads the repository settings.
func (opts *GlobalOptions) PreRun() error {
	opts.verbosity = 1
	if opts.Quiet && opts.Verbose > 0 {
		return errors.Fatal("--quiet and --verbose cannot be specified at the same time")
	}

	switch {
	case opts.Verbose > 0:
		opts.verbosity = 2
	case opts.Quiet:
		opts.verbosity = 0
	}

	settings, err := loadSettings(opts.ConfigFile)
	if err != nil {
		return err
	}

	flagSettings, err := options.Parse(opts.Options)
	if err != nil {
		return err
	}
	settings = settings.Merge(flagSettings)

	if opts.URI != "" {
		settings["uri"] = opts.URI
	}
	if opts.Path != "" {
		settings["path"] = opts.Path
	}

	opts.settings = settings
	return nil
}

var globalOptions = GlobalOptions{
	stdout:   os.Stdout,
	stderr:   os.Stderr,
	backends: collectBackends(),
}

func collectBackends() *location.Registry {
	backends := location.NewRegistry()
	backends.Register(hdfs.NewFactory())
	backends.Register(local.NewFactory())
	backends.Register(mem.NewFactory())
	backends.Register(s3.NewFactory())
	backends.Register(sftp.NewFactory())
	return backends
}

// OpenRepository opens the repository described by the settings. Opening is
// retried like any other remote operation.
func OpenRepository(ctx context.Context, gopts GlobalOptions) (*repository.Repository, error) {
	cfg, err := repository.ParseConfig(gopts.settings)
	if err != nil {
		return nil, err
	}

	var repo *repository.Repository
	err = retry(ctx, gopts, "open repository", func() error {
		var err error
		repo, err = repository.Open(ctx, gopts.backends, cfg)
		return err
	})
	if err != nil {
		return nil, err
	}

	Verbosef("opened repository at %v\n", repo.Location())
	return repo, nil
}

// openContainer returns the container selected by --container.
func openContainer(repo *repository.Repository, gopts GlobalOptions) (*repository.Container, error) {
	if gopts.Container == "" {
		return repo.Root(), nil
	}

	c, err := repo.Container(strings.Split(strings.Trim(gopts.Container, "/"), "/")...)
	if err != nil {
		return nil, errors.Fatalf("invalid container %q: %v", gopts.Container, err)
	}
	return c, nil
}

// Printf writes the message to the configured stdout stream unless --quiet
// is set.
func Printf(format string, args ...interface{}) {
	if globalOptions.verbosity == 0 {
		return
	}
	_, err := fmt.Fprintf(globalOptions.stdout, format, args...)
	if err != nil {
		Warnf("unable to write to stdout: %v\n", err)
	}
}

// Verbosef calls Printf to write the message when --verbose is set.
func Verbosef(format string, args ...interface{}) {
	if globalOptions.verbosity >= 2 {
		Printf(format, args...)
	}
}

// Warnf writes the message to the configured stderr stream.
func Warnf(format string, args ...interface{}) {
	_, err := fmt.Fprintf(globalOptions.stderr, format, args...)
	if err != nil {
		debug.Log("unable to write to stderr: %v", err)
	}
}
