package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/despacho/batch"
	"github.com/pithecene-io/despacho/cli/render"
	"github.com/pithecene-io/despacho/sheet"
	"github.com/pithecene-io/despacho/types"
)

// ImportResponse summarizes one import.
type ImportResponse struct {
	File      string `json:"file"`
	Rows      int    `json:"rows"`
	Committed int    `json:"committed"`
	KeyedBy   string `json:"keyed_by,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ImportCommand returns the import command with subcommands.
func ImportCommand() *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Bulk-import entities from a spreadsheet",
		Subcommands: []*cli.Command{
			importClientsCommand(),
		},
	}
}

func importClientsCommand() *cli.Command {
	return &cli.Command{
		Name:  "clients",
		Usage: "Import clients from an .xlsx or .xls file",
		Flags: CommandFlags(
			&cli.StringFlag{
				Name:     "file",
				Usage:    "Spreadsheet to read",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "key-by",
				Usage: "Column used as idempotency key so re-runs overwrite: phone, email, none",
				Value: "phone",
			},
		),
		Action: importClientsAction,
	}
}

func importClientsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if err := rejectTUI(c, "import clients"); err != nil {
		return err
	}
	key, err := clientKey(c.String("key-by"))
	if err != nil {
		return cli.Exit(err.Error(), exitConfig)
	}

	path := c.String("file")
	f, err := os.Open(path)
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot open %s: %v", path, err), exitFailure)
	}
	defer func() { _ = f.Close() }()

	clients, err := sheet.ReadClients(f, filepath.Base(path))
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot read %s: %v", path, err), exitFailure)
	}

	e, err := openEnv(c, r, nil)
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	ctx, cancel := signalContext(c)
	defer cancel()

	n, importErr := e.session.Clients.ImportBulk(ctx, clients, key, r.Progress)
	resp := ImportResponse{
		File:      path,
		Rows:      len(clients),
		Committed: n,
	}
	if key != nil {
		resp.KeyedBy = c.String("key-by")
	}
	if importErr != nil {
		resp.Error = importErr.Error()
	}
	if err := r.Render(resp); err != nil {
		return err
	}

	var chunkErr *batch.ChunkError
	switch {
	case importErr == nil:
		return nil
	case errors.As(importErr, &chunkErr) && chunkErr.Committed > 0:
		return cli.Exit("", exitPartial)
	default:
		return cli.Exit("", exitFailure)
	}
}

// clientKey picks the idempotency key for imported clients.
func clientKey(by string) (func(types.Client) string, error) {
	switch strings.ToLower(by) {
	case "phone":
		return func(c types.Client) string { return strings.TrimSpace(c.Phone) }, nil
	case "email":
		return func(c types.Client) string { return strings.ToLower(strings.TrimSpace(c.Email)) }, nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("invalid --key-by %q (must be phone, email or none)", by)
	}
}
