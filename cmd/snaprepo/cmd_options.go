package main

import (
	"github.com/spf13/cobra"

	"github.com/restic/snaprepo/internal/options"
)

func newOptionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "options",
		Short: "Print list of repository settings",
		Long: `
The "options" command prints the repository settings and the backend options
that can be given with -o key=value.

EXIT STATUS
===========

Exit status is 0 if the command was successful.
Exit status is 1 if there was any error.
`,
		DisableAutoGenTag: true,
		Run: func(_ *cobra.Command, _ []string) {
			printOptions(options.List())
		},
	}
	return cmd
}

func optionName(opt options.Help) string {
	if opt.Namespace == "" {
		return opt.Name
	}
	return opt.Namespace + "." + opt.Name
}

func printOptions(list []options.Help) {
	Printf("All Repository Settings:\n")
	var maxLen int
	for _, opt := range list {
		if l := len(optionName(opt)); l > maxLen {
			maxLen = l
		}
	}
	for _, opt := range list {
		Printf("  %*s  %s\n", -maxLen, optionName(opt), opt.Text)
	}
}
