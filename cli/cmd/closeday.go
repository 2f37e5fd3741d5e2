package cmd

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/despacho/cli/render"
	"github.com/pithecene-io/despacho/service"
	"github.com/pithecene-io/despacho/types"
)

// CloseDayResponse is the response for the close-day command.
type CloseDayResponse struct {
	Closing  types.DailyClosing   `json:"closing"`
	Shifts   []types.CourierShift `json:"shifts"`
	Archived int                  `json:"archived"`
	DryRun   bool                 `json:"dry_run,omitempty"`
}

// CloseDayCommand returns the close-day command.
func CloseDayCommand() *cli.Command {
	return &cli.Command{
		Name:  "close-day",
		Usage: "Total a day's orders, save the closing and per-courier shifts",
		Flags: CommandFlags(
			&cli.StringFlag{
				Name:  "date",
				Usage: "Day to close (" + types.DateLayout + ", default today)",
			},
			&cli.BoolFlag{
				Name:  "archive",
				Usage: "Archive the day's orders after saving",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Print the totals without saving",
			},
		),
		Action: closeDayAction,
	}
}

func closeDayAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if err := rejectTUI(c, "close-day"); err != nil {
		return err
	}

	day := types.FormatDate(time.Now())
	if c.IsSet("date") {
		d, err := time.ParseInLocation(types.DateLayout, c.String("date"), time.Local)
		if err != nil {
			return cli.Exit(fmt.Sprintf("invalid --date: %v", err), exitConfig)
		}
		day = types.FormatDate(d)
	}

	e, err := openEnv(c, r, nil)
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	ctx, cancel := signalContext(c)
	defer cancel()

	return closeDay(ctx, e.session, r, closeDayOptions{
		Day:     day,
		Archive: c.Bool("archive"),
		DryRun:  c.Bool("dry-run"),
	})
}

type closeDayOptions struct {
	Day     string
	Archive bool
	DryRun  bool
}

// closeDay totals the day from a fresh remote read and saves the closing
// and shifts. A failed read saves nothing.
func closeDay(ctx context.Context, s *service.Session, r *render.Renderer, opts closeDayOptions) error {
	orders, err := s.Orders.OfDay(ctx, opts.Day)
	if err != nil {
		return cli.Exit(fmt.Sprintf("load orders of %s: %v", opts.Day, err), exitFailure)
	}

	resp := CloseDayResponse{
		Closing: summarizeDay(opts.Day, orders),
		Shifts:  courierShifts(opts.Day, orders),
		DryRun:  opts.DryRun,
	}
	if resp.DryRun {
		return r.Render(resp)
	}

	id, err := s.SaveClosing(ctx, resp.Closing)
	if err != nil {
		return cli.Exit(fmt.Sprintf("save closing: %v", err), exitFailure)
	}
	resp.Closing.ID = id

	for i, shift := range resp.Shifts {
		id, err := s.AddShift(ctx, shift)
		if err != nil {
			return cli.Exit(fmt.Sprintf("save shift for %s: %v", shift.Name, err), exitFailure)
		}
		resp.Shifts[i].ID = id
	}

	if opts.Archive && len(orders) > 0 {
		ids := make([]string, len(orders))
		for i, o := range orders {
			ids[i] = o.ID
		}
		n, err := s.Orders.ArchiveOrders(ctx, ids, r.Progress)
		resp.Archived = n
		if err != nil {
			_ = r.Render(resp)
			return cli.Exit("", exitPartial)
		}
	}
	return r.Render(resp)
}

func summarizeDay(day string, orders []types.Order) types.DailyClosing {
	closing := types.DailyClosing{Day: day, OrdersCount: len(orders)}
	for _, o := range orders {
		closing.OrdersTotal += o.OrderValue
		closing.DeliveryTotal += o.DeliveryCost
		switch o.PaymentMethod {
		case types.PaymentCard:
			closing.CardTotal += o.TotalDue
		default:
			closing.CashTotal += o.TotalDue
		}
	}
	return closing
}

// courierShifts totals delivered orders per courier, ordered by name.
func courierShifts(day string, orders []types.Order) []types.CourierShift {
	byCourier := map[string]*types.CourierShift{}
	for _, o := range orders {
		if o.CourierID == "" || !o.Delivered {
			continue
		}
		shift, ok := byCourier[o.CourierID]
		if !ok {
			shift = &types.CourierShift{CourierID: o.CourierID, Name: o.CourierName, Date: day}
			byCourier[o.CourierID] = shift
		}
		shift.OrdersTotal += o.OrderValue
		shift.DeliveryCostsTotal += o.DeliveryCost
		shift.Deliveries++
	}

	shifts := make([]types.CourierShift, 0, len(byCourier))
	for _, s := range byCourier {
		shifts = append(shifts, *s)
	}
	slices.SortFunc(shifts, func(a, b types.CourierShift) int {
		return cmp.Or(strings.Compare(a.Name, b.Name), strings.Compare(a.CourierID, b.CourierID))
	})
	return shifts
}
