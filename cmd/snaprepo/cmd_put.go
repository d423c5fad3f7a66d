package main

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/restic/snaprepo/internal/errors"
	"github.com/restic/snaprepo/internal/repository"
)

func newPutCommand() *cobra.Command {
	var opts PutOptions

	cmd := &cobra.Command{
		Use:   "put [flags] NAME [FILE]",
		Short: "Store a blob",
		Long: `
The "put" command stores the content of FILE, or stdin if no FILE is given, as
blob NAME. With --dir, every regular file in the directory is stored as a blob
named like the file, several files are uploaded concurrently.

A blob that is already present is not overwritten. If an upload fails, the
chunks written so far are removed before the next attempt.

EXIT STATUS
===========

Exit status is 0 if the command was successful.
Exit status is 1 if there was any error.
Exit status is 2 if the repository settings are invalid.
`,
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPut(cmd.Context(), opts, globalOptions, args)
		},
	}

	opts.AddFlags(cmd.Flags())
	return cmd
}

// PutOptions collects all options for the put command.
type PutOptions struct {
	Dir string
}

func (opts *PutOptions) AddFlags(f *pflag.FlagSet) {
	f.StringVar(&opts.Dir, "dir", "", "store all files in `directory`")
}

func runPut(ctx context.Context, opts PutOptions, gopts GlobalOptions, args []string) error {
	switch {
	case opts.Dir != "" && len(args) > 0:
		return errors.Fatal("--dir cannot be combined with a blob name")
	case opts.Dir == "" && (len(args) == 0 || len(args) > 2):
		return errors.Fatal("put needs a blob name and at most one file")
	}

	repo, err := OpenRepository(ctx, gopts)
	if err != nil {
		return err
	}
	defer func() { _ = repo.Close() }()

	c, err := openContainer(repo, gopts)
	if err != nil {
		return err
	}

	if opts.Dir != "" {
		return putDir(ctx, gopts, c, opts.Dir, int(repo.Connections()))
	}

	if len(args) == 1 {
		// stdin cannot be read again, so there is no retry
		gopts.RetryMaxTime = 0
		return putBlob(ctx, gopts, c, args[0], func() (io.ReadCloser, int64, error) {
			return io.NopCloser(os.Stdin), -1, nil
		})
	}
	return putFile(ctx, gopts, c, args[0], args[1])
}

func putDir(ctx context.Context, gopts GlobalOptions, c *repository.Container, dir string, workers int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Fatalf("unable to read directory: %v", err)
	}

	wg, ctx := errgroup.WithContext(ctx)
	wg.SetLimit(max(workers, 1))

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			Verbosef("skipping %v\n", entry.Name())
			continue
		}

		name := entry.Name()
		wg.Go(func() error {
			return putFile(ctx, gopts, c, name, filepath.Join(dir, name))
		})
	}
	return wg.Wait()
}

func putFile(ctx context.Context, gopts GlobalOptions, c *repository.Container, name, filename string) error {
	return putBlob(ctx, gopts, c, name, func() (io.ReadCloser, int64, error) {
		f, err := os.Open(filename)
		if err != nil {
			return nil, 0, errors.Fatalf("unable to open file: %v", err)
		}

		fi, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return nil, 0, errors.Fatalf("unable to stat file: %v", err)
		}
		return f, fi.Size(), nil
	})
}

// putBlob stores the data returned by source as blob name. source is called
// again for every attempt.
func putBlob(ctx context.Context, gopts GlobalOptions, c *repository.Container, name string, source func() (io.ReadCloser, int64, error)) error {
	var stats repository.WriteStats
	attempt := 0

	err := retry(ctx, gopts, "put "+name, func() error {
		if attempt > 0 {
			if err := c.DeleteBlob(ctx, name); err != nil {
				return err
			}
		}
		attempt++

		rd, length, err := source()
		if err != nil {
			return err
		}
		defer func() { _ = rd.Close() }()

		stats, err = c.WriteBlob(ctx, name, rd, length)
		return err
	})
	if err != nil {
		return err
	}

	Printf("stored %v: %s in %d chunks (%s stored), xxhash %016x\n", name,
		units.BytesSize(float64(stats.Bytes)), stats.Chunks,
		units.BytesSize(float64(stats.StoredBytes)), stats.Digest)
	return nil
}
