package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/restic/snaprepo/internal/errors"
)

func newLsCommand() *cobra.Command {
	var opts LsOptions

	cmd := &cobra.Command{
		Use:   "ls [flags] [PREFIX]",
		Short: "List blobs",
		Long: `
The "ls" command lists the names of the blobs in the container that start with
PREFIX, sorted by name. With --containers, the containers below the container
are listed instead.

EXIT STATUS
===========

Exit status is 0 if the command was successful.
Exit status is 1 if there was any error.
Exit status is 2 if the repository settings are invalid.
`,
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLs(cmd.Context(), opts, globalOptions, args)
		},
	}

	opts.AddFlags(cmd.Flags())
	return cmd
}

// LsOptions collects all options for the ls command.
type LsOptions struct {
	Containers bool
}

func (opts *LsOptions) AddFlags(f *pflag.FlagSet) {
	f.BoolVar(&opts.Containers, "containers", false, "list containers instead of blobs")
}

func runLs(ctx context.Context, opts LsOptions, gopts GlobalOptions, args []string) error {
	if len(args) > 1 {
		return errors.Fatal("ls takes at most one prefix")
	}
	if opts.Containers && len(args) > 0 {
		return errors.Fatal("--containers cannot be combined with a prefix")
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

	var names []string
	err = retry(ctx, gopts, "list", func() error {
		var err error
		if opts.Containers {
			names, err = c.ListContainers(ctx)
			return err
		}

		prefix := ""
		if len(args) > 0 {
			prefix = args[0]
		}
		names, err = c.ListBlobs(ctx, prefix)
		return err
	})
	if err != nil {
		return err
	}

	for _, name := range names {
		Printf("%v\n", name)
	}
	return nil
}
