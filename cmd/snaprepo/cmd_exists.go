package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/restic/snaprepo/internal/errors"
)

// errBlobNotExist is returned by the exists command to set the exit code.
var errBlobNotExist = errors.New("blob does not exist")

func newExistsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exists [flags] NAME",
		Short: "Check whether a blob exists",
		Long: `
The "exists" command checks whether blob NAME is present.

EXIT STATUS
===========

Exit status is 0 if the blob exists.
Exit status is 1 if there was any error.
Exit status is 2 if the repository settings are invalid.
Exit status is 3 if the blob does not exist.
`,
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExists(cmd.Context(), globalOptions, args)
		},
	}
	return cmd
}

func runExists(ctx context.Context, gopts GlobalOptions, args []string) error {
	if len(args) != 1 {
		return errors.Fatal("exists needs exactly one blob name")
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

	var ok bool
	err = retry(ctx, gopts, "exists", func() error {
		var err error
		ok, err = c.BlobExists(ctx, args[0])
		return err
	})
	if err != nil {
		return err
	}

	if !ok {
		Verbosef("blob %v does not exist\n", args[0])
		return errBlobNotExist
	}
	Verbosef("blob %v exists\n", args[0])
	return nil
}
