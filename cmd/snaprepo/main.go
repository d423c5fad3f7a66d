package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/restic/snaprepo/internal/debug"
	"github.com/restic/snaprepo/internal/errors"
)

func init() {
	// don't import `go.uber.org/automaxprocs` to disable the log output
	_, _ = maxprocs.Set()
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snaprepo",
		Short: "Store and retrieve chunked blobs on a remote filesystem",
		Long: `
snaprepo stores named blobs as sequences of chunk files below a base path on a
remote filesystem (hdfs, sftp, s3, file). Chunks are optionally compressed.

Repository settings are read from the file given by --config, from
environment variables named SNAPREPO_<SETTING> and from -o key=value, later
sources win.
`,
		SilenceErrors:     true,
		SilenceUsage:      true,
		DisableAutoGenTag: true,

		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return globalOptions.PreRun()
		},
	}

	globalOptions.AddFlags(cmd.PersistentFlags())

	cmd.CompletionOptions.DisableDefaultCmd = true

	cmd.AddCommand(
		newPutCommand(),
		newGetCommand(),
		newLsCommand(),
		newRmCommand(),
		newExistsCommand(),
		newVerifyCommand(),
		newOptionsCommand(),
		newVersionCommand(),
	)

	return cmd
}

func main() {
	// install custom global logger into a buffer, if an error occurs
	// we can show the logs
	logBuffer := bytes.NewBuffer(nil)
	log.SetOutput(logBuffer)

	debug.Log("main %#v", os.Args)
	debug.Log("snaprepo %s compiled with %v on %v/%v",
		version, runtime.Version(), runtime.GOOS, runtime.GOARCH)

	ctx := createGlobalContext()
	err := newRootCommand().ExecuteContext(ctx)
	if err == nil {
		err = ctx.Err()
	}

	var exitMessage string
	switch {
	case err == errBlobNotExist:
	case errors.IsFatal(err):
		exitMessage = err.Error()
	case errors.IsConfig(err):
		exitMessage = fmt.Sprintf("Fatal: %v", err)
	case err != nil:
		exitMessage = fmt.Sprintf("%+v", err)

		if logBuffer.Len() > 0 {
			exitMessage += "also, the following messages were logged by a library:\n"
			sc := bufio.NewScanner(logBuffer)
			for sc.Scan() {
				exitMessage += fmt.Sprintln(sc.Text())
			}
		}
	}

	var exitCode int
	switch {
	case err == nil:
		exitCode = 0
	case err == errBlobNotExist:
		exitCode = 3
	case errors.IsConfig(err):
		exitCode = 2
	case errors.Is(err, context.Canceled):
		exitCode = 130
	default:
		exitCode = 1
	}

	if exitMessage != "" {
		_, _ = fmt.Fprintln(globalOptions.stderr, exitMessage)
	}
	Exit(exitCode)
}
