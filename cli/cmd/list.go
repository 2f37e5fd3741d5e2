package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/despacho/cache"
	"github.com/pithecene-io/despacho/cli/render"
	"github.com/pithecene-io/despacho/service"
)

// listWarningThreshold is the number of items above which we warn about using --limit.
const listWarningThreshold = 100

var limitFlag = &cli.IntFlag{
	Name:  "limit",
	Usage: "Maximum number of rows to print (0 = no limit)",
}

// ListCommand returns the list command with subcommands.
// clients, orders and couriers are served through the cache, so a failed
// fetch may still print the local copy.
func ListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List entities (clients, orders, couriers, shifts, closings)",
		Subcommands: []*cli.Command{
			listCachedCommand("clients", func(ctx context.Context, s *service.Session, limit int) listing {
				return listingOf(s.Clients.Lookup(ctx), limit)
			}),
			listCachedCommand("orders", func(ctx context.Context, s *service.Session, limit int) listing {
				return listingOf(s.Orders.Lookup(ctx), limit)
			}),
			listCachedCommand("couriers", func(ctx context.Context, s *service.Session, limit int) listing {
				return listingOf(s.Couriers.Lookup(ctx), limit)
			}),
			listShiftsCommand(),
			listClosingsCommand(),
		},
	}
}

// listing is a type-erased cache read, cut to the requested limit.
type listing struct {
	items  any
	total  int
	source cache.Source
}

func listingOf[T any](res cache.Result[T], limit int) listing {
	items := res.Items
	if items == nil {
		items = []T{}
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return listing{items: items, total: len(res.Items), source: res.Source}
}

func listCachedCommand(name string, read func(context.Context, *service.Session, int) listing) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: "List " + name,
		Flags: CommandFlags(limitFlag),
		Action: func(c *cli.Context) error {
			r, e, err := openListing(c)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			res := read(c.Context, e.session, c.Int("limit"))
			warnLarge(c, res.total)
			if err := r.Render(res.items); err != nil {
				return err
			}
			if res.source == cache.SourceEmpty {
				// The load error was already reported as a notification.
				return cli.Exit("", exitFailure)
			}
			return nil
		},
	}
}

func listShiftsCommand() *cli.Command {
	return &cli.Command{
		Name:  "shifts",
		Usage: "List one courier's shifts, newest first",
		Flags: CommandFlags(&cli.StringFlag{
			Name:     "courier",
			Usage:    "Courier id",
			Required: true,
		}),
		Action: func(c *cli.Context) error {
			r, e, err := openListing(c)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			shifts, err := e.session.ListShifts(c.Context, c.String("courier"))
			if err != nil {
				return cli.Exit(fmt.Sprintf("list shifts: %v", err), exitFailure)
			}
			return r.Render(shifts)
		},
	}
}

func listClosingsCommand() *cli.Command {
	return &cli.Command{
		Name:  "closings",
		Usage: "List daily closings, newest first",
		Flags: CommandFlags(&cli.IntFlag{
			Name:  "limit",
			Usage: "Maximum number of closings",
			Value: 30,
		}),
		Action: func(c *cli.Context) error {
			r, e, err := openListing(c)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			closings, err := e.session.ListClosings(c.Context, c.Int("limit"))
			if err != nil {
				return cli.Exit(fmt.Sprintf("list closings: %v", err), exitFailure)
			}
			return r.Render(closings)
		},
	}
}

// openListing builds the renderer and session for a read-only list command.
func openListing(c *cli.Context) (*render.Renderer, *env, error) {
	r, err := render.NewRenderer(c)
	if err != nil {
		return nil, nil, err
	}
	if err := rejectTUI(c, "list "+c.Command.Name); err != nil {
		return nil, nil, err
	}
	e, err := openEnv(c, r, nil)
	if err != nil {
		return nil, nil, err
	}
	return r, e, nil
}

// warnLarge suggests --limit when a large list goes to a terminal.
func warnLarge(c *cli.Context, total int) {
	if total > listWarningThreshold && c.Int("limit") == 0 && render.IsTTY(os.Stderr) {
		fmt.Fprintf(c.App.ErrWriter, "Warning: returning %d results. Consider using --limit to reduce output.\n\n", total)
	}
}
