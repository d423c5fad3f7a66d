package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/restic/snaprepo/internal/errors"
)

func newRmCommand() *cobra.Command {
	var opts RmOptions

	cmd := &cobra.Command{
		Use:   "rm [flags] NAME...",
		Short: "Remove blobs",
		Long: `
The "rm" command removes the given blobs with all their chunks. Removing a blob
that does not exist succeeds. With --container-itself, the container selected
by --container is removed with everything below it.

EXIT STATUS
===========

Exit status is 0 if the command was successful.
Exit status is 1 if there was any error.
Exit status is 2 if the repository settings are invalid.
`,
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRm(cmd.Context(), opts, globalOptions, args)
		},
	}

	opts.AddFlags(cmd.Flags())
	return cmd
}

// RmOptions collects all options for the rm command.
type RmOptions struct {
	ContainerItself bool
}

func (opts *RmOptions) AddFlags(f *pflag.FlagSet) {
	f.BoolVar(&opts.ContainerItself, "container-itself", false, "remove the container selected by --container")
}

func runRm(ctx context.Context, opts RmOptions, gopts GlobalOptions, args []string) error {
	switch {
	case opts.ContainerItself && gopts.Container == "":
		return errors.Fatal("--container-itself needs --container")
	case opts.ContainerItself && len(args) > 0:
		return errors.Fatal("--container-itself cannot be combined with blob names")
	case !opts.ContainerItself && len(args) == 0:
		return errors.Fatal("no blobs given")
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

	if opts.ContainerItself {
		err = retry(ctx, gopts, "remove container", func() error {
			return c.DeleteContainer(ctx)
		})
		if err == nil {
			Verbosef("removed container %v\n", c.Path())
		}
		return err
	}

	err = retry(ctx, gopts, "remove", func() error {
		return c.DeleteBlobs(ctx, args)
	})
	if err != nil {
		return err
	}

	Verbosef("removed %d blobs\n", len(args))
	return nil
}
