// Package cmd provides CLI commands for the despacho binary.
package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/despacho/cli/tui"
)

// Exit codes.
const (
	exitSuccess = 0
	// exitFailure covers remote and local failures.
	exitFailure = 1
	// exitConfig covers unreadable or invalid configuration.
	exitConfig = 2
	// exitPartial means a bulk write committed some chunks but not all.
	exitPartial = 3
)

// Shared output flags.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	// Only valid for watch and status.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (watch, status only)",
	}
)

// Session flags override the matching config file values.
var (
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to despacho.yaml",
		EnvVars: []string{"DESPACHO_CONFIG"},
	}

	RemoteBackendFlag = &cli.StringFlag{
		Name:  "remote-backend",
		Usage: "Remote store: http, memory",
	}

	RemoteURLFlag = &cli.StringFlag{
		Name:    "remote-url",
		Usage:   "Base URL of the remote document store",
		EnvVars: []string{"DESPACHO_REMOTE_URL"},
	}

	RemoteTokenFlag = &cli.StringFlag{
		Name:    "remote-token",
		Usage:   "Bearer token for the remote document store",
		EnvVars: []string{"DESPACHO_REMOTE_TOKEN"},
	}

	LocalBackendFlag = &cli.StringFlag{
		Name:  "local-backend",
		Usage: "Durable local store: fs, s3, memory",
	}

	LocalPathFlag = &cli.StringFlag{
		Name:  "local-path",
		Usage: "Local store directory (fs) or bucket/prefix (s3)",
	}
)

// OutputFlags returns the shared output flags. --tui is included everywhere
// so that unsupported commands give an explicit error instead of a generic
// "flag not defined".
func OutputFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// SessionFlags returns the flags that shape a data session.
func SessionFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		RemoteBackendFlag,
		RemoteURLFlag,
		RemoteTokenFlag,
		LocalBackendFlag,
		LocalPathFlag,
		VerboseFlag,
	}
}

// CommandFlags returns output and session flags plus extra.
func CommandFlags(extra ...cli.Flag) []cli.Flag {
	flags := append(OutputFlags(), SessionFlags()...)
	return append(flags, extra...)
}

// rejectTUI fails with a usage error when --tui is given to a command
// without a TUI view.
func rejectTUI(c *cli.Context, view string) error {
	if !c.Bool("tui") {
		return nil
	}
	if err := tui.Check(view); err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	return nil
}
