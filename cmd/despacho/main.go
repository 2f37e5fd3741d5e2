// Package main provides the despacho CLI entrypoint.
//
// Usage:
//
//	despacho <command> [subcommand] [options]
//
// Exit codes:
//   - 0: success
//   - 1: remote or local failure
//   - 2: invalid configuration or flags
//   - 3: bulk write stopped after committing some chunks
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/despacho/cli/cmd"
	"github.com/pithecene-io/despacho/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	if err := newApp(os.Stderr).Run(os.Args); err != nil {
		// ExitErrHandler already exited for cli.ExitCoder errors.
		os.Exit(1)
	}
}

func newApp(errOut io.Writer) *cli.App {
	return &cli.App{
		Name:      "despacho",
		Usage:     "Delivery operations data layer CLI",
		Version:   fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ErrWriter: errOut,
		ExitErrHandler: func(c *cli.Context, err error) {
			if code, ok := exitCode(errOut, err); ok {
				os.Exit(code)
			}
		},
		Commands: []*cli.Command{
			cmd.ListCommand(),
			cmd.ImportCommand(),
			cmd.WatchCommand(),
			cmd.StatusCommand(),
			cmd.CloseDayCommand(),
			cmd.VersionCommand(commit),
		},
	}
}

// exitCode reports the process exit code for err and prints its message.
// A cli.Exit("", N) prints nothing. ok is false for a nil error.
func exitCode(w io.Writer, err error) (code int, ok bool) {
	if err == nil {
		return 0, false
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(w, msg)
		}
		return code, true
	}

	fmt.Fprintf(w, "Error: %v\n", err)
	return 1, true
}
