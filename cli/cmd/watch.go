package cmd

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/despacho/cli/render"
	"github.com/pithecene-io/despacho/cli/tui"
	"github.com/pithecene-io/despacho/types"
)

// WatchCommand returns the watch command with subcommands.
func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Follow live entities",
		Subcommands: []*cli.Command{
			watchOrdersCommand(),
		},
	}
}

func watchOrdersCommand() *cli.Command {
	return &cli.Command{
		Name:   "orders",
		Usage:  "Follow the live orders window until interrupted",
		Flags:  CommandFlags(),
		Action: watchOrdersAction,
	}
}

func watchOrdersAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(c)
	defer cancel()

	if c.Bool("tui") {
		feed := tui.NewFeed()
		e, err := openEnv(c, r, feed)
		if err != nil {
			return err
		}
		defer func() { _ = e.Close() }()

		unsubscribe, err := e.session.Orders.SubscribeLive(ctx, feed.Orders)
		if err != nil {
			return cli.Exit(fmt.Sprintf("watch orders: %v", err), exitFailure)
		}
		defer unsubscribe()
		return tui.RunBoard(ctx, e.session.Orders, feed)
	}

	e, err := openEnv(c, r, nil)
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	// Snapshots arrive on the listener's goroutine.
	var mu sync.Mutex
	var renderErr error
	show := func(orders []types.Order) {
		mu.Lock()
		defer mu.Unlock()
		if renderErr != nil {
			return
		}
		if r.Format() == render.FormatJSON {
			// One compact document per snapshot so the stream stays line-oriented.
			renderErr = json.NewEncoder(c.App.Writer).Encode(orders)
		} else {
			renderErr = r.Render(orders)
		}
		if renderErr != nil {
			cancel()
		}
	}

	unsubscribe, err := e.session.Orders.SubscribeLive(ctx, show)
	if err != nil {
		return cli.Exit(fmt.Sprintf("watch orders: %v", err), exitFailure)
	}
	defer unsubscribe()

	<-ctx.Done()
	mu.Lock()
	defer mu.Unlock()
	return renderErr
}
