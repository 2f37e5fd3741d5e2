package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/despacho/cli/render"
	"github.com/pithecene-io/despacho/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version            string `json:"version"`
	Commit             string `json:"commit"`
	LocalFormatVersion int    `json:"local_format_version"`
}

// VersionCommand returns the version command. It opens no session.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show version information",
		Flags:  OutputFlags(),
		Action: versionAction(commit),
	}
}

func versionAction(commit string) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}
		if err := rejectTUI(c, "version"); err != nil {
			return err
		}
		return r.Render(VersionResponse{
			Version:            types.Version,
			Commit:             commit,
			LocalFormatVersion: types.LocalFormatVersion,
		})
	}
}
