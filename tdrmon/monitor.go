package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/itohio/gotdr/pkg/poller"
	"github.com/itohio/gotdr/pkg/tdr"
)

var (
	monitorSleep    time.Duration
	monitorDuration time.Duration
	monitorAverage  int
)

var errInterrupted = errors.New("interrupted")

func newMonitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Continuously acquire and display traces",
		Args:  cobra.NoArgs,
		RunE:  runMonitorCmd,
	}
	cmd.Flags().DurationVar(&monitorSleep, "sleep", 2*time.Second, "Delay between traces")
	cmd.Flags().DurationVar(&monitorDuration, "duration", 0, "Stop after this long (0 runs until interrupted)")
	cmd.Flags().IntVar(&monitorAverage, "average", 1, "Number of traces in the rolling average")
	return cmd
}

func runMonitorCmd(cmd *cobra.Command, _ []string) error {
	app, err := newAppState(cmd)
	if err != nil {
		return err
	}
	defer app.close()

	if cmd.Flags().Changed("sleep") {
		app.cfg.Acquisition.SleepTime = monitorSleep
	}
	if cmd.Flags().Changed("average") {
		app.cfg.Display.Average = monitorAverage
	}

	s, err := app.settings()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if monitorDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, monitorDuration)
		defer cancel()
	}

	return app.withLink(func(link tdr.Link) error {
		engine := app.engine()

		spinner, _ := pterm.DefaultSpinner.Start("Applying settings and reading calibration...")
		s, rxdac, header, err := engine.Calibrate(ctx, link, s, app.cfg.Trace.SetTiming())
		if err != nil {
			spinner.Fail(err.Error())
			return err
		}
		spinner.Success("Connected to " + header.IDN())

		p := poller.New(engine, link, poller.NewQueue(app.cfg.Acquisition.QueueSize), s.NPoints, app.cfg.Acquisition.SleepTime)
		p.Start()
		defer p.Stop()

		pterm.Info.Println("Press Ctrl+C to stop monitoring.")
		err = runMonitor(ctx, p, newMonitorView(s, rxdac, app.cfg.Display), app.cfg.Display.Refresh)
		p.Stop()

		pterm.Info.Printf("Acquired %d traces, %d failures, %d dropped\n", p.Acquired(), p.Failures(), p.Queue().Dropped())
		return err
	})
}

// runMonitor redraws the view on every refresh tick until ctx ends or an
// interrupt arrives.
func runMonitor(ctx context.Context, p *poller.Poller, view *monitorView, refresh time.Duration) error {
	grp, ctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(stop)

		select {
		case <-stop:
			return errInterrupted
		case <-ctx.Done():
			return nil
		}
	})

	grp.Go(func() error {
		area, err := pterm.DefaultArea.Start()
		if err != nil {
			return err
		}
		defer area.Stop()

		return consume(ctx, p, view, refresh, func(s string) { area.Update(s) })
	})

	err := grp.Wait()
	if errors.Is(err, errInterrupted) {
		return nil
	}
	return err
}

// consume pulls at most one trace per tick from the poller queue and calls
// draw when the view changed. It never blocks on the queue.
func consume(ctx context.Context, p *poller.Poller, view *monitorView, refresh time.Duration, draw func(string)) error {
	if refresh <= 0 {
		refresh = 100 * time.Millisecond
	}
	ticker := time.NewTicker(refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if view.consume(p.Queue()) {
				draw(view.render(p.Acquired(), p.Failures(), p.Queue().Dropped()))
			}
		}
	}
}
