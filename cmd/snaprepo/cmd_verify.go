package main

import (
	"context"

	"github.com/spf13/cobra"
)

func newVerifyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that the repository is readable and writable",
		Long: `
The "verify" command writes a test blob into a temporary container, reads it
back, compares the content and removes the container again.

EXIT STATUS
===========

Exit status is 0 if the command was successful.
Exit status is 1 if there was any error.
Exit status is 2 if the repository settings are invalid.
`,
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runVerify(cmd.Context(), globalOptions)
		},
	}
	return cmd
}

func runVerify(ctx context.Context, gopts GlobalOptions) error {
	repo, err := OpenRepository(ctx, gopts)
	if err != nil {
		return err
	}
	defer func() { _ = repo.Close() }()

	err = retry(ctx, gopts, "verify", func() error {
		return repo.Verify(ctx)
	})
	if err != nil {
		return err
	}

	Printf("repository at %v verified\n", repo.Location())
	return nil
}
