package main

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/restic/snaprepo/internal/errors"
)

func newGetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get [flags] NAME [FILE]",
		Short: "Read a blob",
		Long: `
The "get" command writes the content of blob NAME to FILE, or to stdout if no
FILE is given. Only downloads to a file are retried.

EXIT STATUS
===========

Exit status is 0 if the command was successful.
Exit status is 1 if there was any error.
Exit status is 2 if the repository settings are invalid.
`,
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd.Context(), globalOptions, args)
		},
	}
	return cmd
}

func runGet(ctx context.Context, gopts GlobalOptions, args []string) error {
	if len(args) == 0 || len(args) > 2 {
		return errors.Fatal("get needs a blob name and at most one file")
	}
	name := args[0]

	repo, err := OpenRepository(ctx, gopts)
	if err != nil {
		return err
	}
	defer func() { _ = repo.Close() }()

	c, err := openContainer(repo, gopts)
	if err != nil {
		return err
	}

	var out *os.File
	if len(args) == 2 {
		out, err = os.Create(args[1])
		if err != nil {
			return errors.Fatalf("unable to create file: %v", err)
		}
	} else {
		out = os.Stdout
		gopts.RetryMaxTime = 0
	}

	var n int64
	err = retry(ctx, gopts, "get "+name, func() error {
		if out != os.Stdout {
			if err := out.Truncate(0); err != nil {
				return errors.Fatalf("unable to truncate file: %v", err)
			}
			if _, err := out.Seek(0, io.SeekStart); err != nil {
				return errors.Fatalf("unable to seek file: %v", err)
			}
		}

		rd, err := c.ReadBlob(ctx, name)
		if err != nil {
			return err
		}
		defer func() { _ = rd.Close() }()

		n, err = io.Copy(out, rd)
		return err
	})

	if out != os.Stdout {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = errors.Fatalf("unable to close file: %v", cerr)
		}
		if err == nil {
			Verbosef("wrote %d bytes to %v\n", n, args[1])
		}
	}
	return err
}
