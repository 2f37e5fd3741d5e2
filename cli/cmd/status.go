package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/despacho/cli/render"
	"github.com/pithecene-io/despacho/cli/tui"
	"github.com/pithecene-io/despacho/metrics"
	"github.com/pithecene-io/despacho/service"
)

// StatusResponse is the response for the status command.
type StatusResponse struct {
	service.Status
	CheckError string `json:"check_error,omitempty"`
}

// StatusCommand returns the status command.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Check the remote connection and show session counters",
		Flags: CommandFlags(
			&cli.BoolFlag{
				Name:  "reset",
				Usage: "Clear the permission failure count before checking",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve Prometheus metrics on this address until interrupted",
			},
			&cli.DurationFlag{
				Name:  "check-interval",
				Usage: "Connection check period while serving metrics",
				Value: 30 * time.Second,
			},
		),
		Action: statusAction,
	}
}

func statusAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	e, err := openEnv(c, r, nil)
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	ctx, cancel := signalContext(c)
	defer cancel()

	s := e.session
	if c.Bool("reset") {
		s.ResetPermissionErrors()
	}
	checkErr := s.VerifyConnection(ctx)

	addr := e.cfg.Metrics.Addr
	if c.IsSet("metrics-addr") {
		addr = c.String("metrics-addr")
	}
	if addr != "" {
		return serveMetrics(ctx, c, s, addr)
	}

	if c.Bool("tui") {
		return tui.RunStatus(ctx, s.Status(), s.Status)
	}

	resp := StatusResponse{Status: s.Status()}
	if checkErr != nil {
		resp.CheckError = checkErr.Error()
	}
	if r.Format() == render.FormatTable {
		fmt.Fprintln(c.App.Writer, tui.RenderStatusStatic(resp.Status))
		if checkErr != nil {
			fmt.Fprintf(c.App.Writer, "check failed: %s\n", resp.CheckError)
		}
	} else if err := r.Render(resp); err != nil {
		return err
	}
	if checkErr != nil {
		return cli.Exit("", exitFailure)
	}
	return nil
}

// serveMetrics exposes /metrics and re-checks the connection every
// --check-interval until ctx ends.
func serveMetrics(ctx context.Context, c *cli.Context, s *service.Session, addr string) error {
	exporter := metrics.NewExporter(s.Metrics(), func() (bool, int) {
		st := s.ConnectionState()
		return st.IsOnline, st.PermissionDeniedCount
	})
	handler, err := exporter.Handler()
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot listen on %s: %v", addr, err), exitFailure)
	}
	fmt.Fprintf(c.App.ErrWriter, "serving metrics on http://%s/metrics\n", ln.Addr())

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	interval := c.Duration("check-interval")
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = s.VerifyConnection(ctx)
		case err := <-serveErr:
			return err
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}
	}
}
