package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/itohio/gotdr/pkg/acquire"
	"github.com/itohio/gotdr/pkg/export"
	"github.com/itohio/gotdr/pkg/protocol"
	"github.com/itohio/gotdr/pkg/store"
	"github.com/itohio/gotdr/pkg/tdr"
	"github.com/itohio/gotdr/pkg/units"
	"github.com/itohio/gotdr/pkg/waveform"
)

var (
	captureCount   int
	captureDelay   time.Duration
	captureOutput  string
	captureArchive bool
)

func newCaptureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Acquire a batch of traces and save them as CSV",
		Args:  cobra.NoArgs,
		RunE:  runCaptureCmd,
	}
	cmd.Flags().IntVarP(&captureCount, "count", "n", 1, "Number of traces")
	cmd.Flags().DurationVar(&captureDelay, "delay", 100*time.Millisecond, "Delay before each trace")
	cmd.Flags().StringVarP(&captureOutput, "output", "o", "", "CSV file (default tdr_trace_<timestamp>.csv)")
	cmd.Flags().BoolVar(&captureArchive, "archive", false, "Also store the batch in the trace archive")
	return cmd
}

func runCaptureCmd(cmd *cobra.Command, _ []string) error {
	app, err := newAppState(cmd)
	if err != nil {
		return err
	}
	defer app.close()

	if !cmd.Flags().Changed("count") {
		captureCount = app.cfg.Acquisition.TraceCount
	}
	if !cmd.Flags().Changed("delay") {
		captureDelay = app.cfg.Acquisition.InterTraceDelay
	}
	if captureCount < 1 {
		return fmt.Errorf("count must be at least 1, got %d", captureCount)
	}

	s, err := app.settings()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	return app.withLink(func(link tdr.Link) error {
		spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Acquiring %d trace(s)...", captureCount))
		traces, header, err := app.engine().AcquireBatch(ctx, link, s, captureCount, captureDelay, app.cfg.Trace.SetTiming())
		if err != nil {
			spinner.Fail(fmt.Sprintf("Acquisition failed: %v", err))
			return err
		}
		spinner.Success(fmt.Sprintf("Acquired %d trace(s) from %s", len(traces), header.IDN()))

		path := captureOutput
		if path == "" {
			path = export.DefaultFilename(time.Now())
		}
		if err := export.SaveCSV(path, traceTable(traces)); err != nil {
			return err
		}
		pterm.Success.Printf("Saved trace data to %s\n", path)

		if captureArchive {
			return archiveBatch(ctx, app.cfg.Store.Path, header, traces)
		}
		return nil
	})
}

// traceTable lays out traces the way the monitor displays them: calibration
// codes, nominal sample times and one ADC voltage column per trace.
func traceTable(traces []acquire.Trace) export.Table {
	if len(traces) == 0 {
		return export.Table{}
	}
	adc := units.DefaultAdc()
	cols := make([][]float64, len(traces))
	for i, tr := range traces {
		cols[i] = waveform.ADCVolts(tr.Data, adc, tr.Settings.NAverages)
	}
	first := traces[0]
	return export.NewTable(first.RXDAC, first.TNominal(), cols)
}

func archiveBatch(ctx context.Context, path string, header protocol.Header, traces []acquire.Trace) error {
	st, err := store.Open(path)
	if err != nil {
		return err
	}
	defer st.Close()

	id, err := st.SaveBatch(ctx, header, traces)
	if err != nil {
		return fmt.Errorf("failed to archive batch: %w", err)
	}
	pterm.Success.Printf("Archived batch %d in %s\n", id, path)
	return nil
}
