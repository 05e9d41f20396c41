package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/itohio/gotdr/pkg/config"
	"github.com/itohio/gotdr/pkg/export"
	"github.com/itohio/gotdr/pkg/store"
)

var (
	exportOutput string
	exportLimit  int
	exportDelete bool
	exportStore  string
)

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [batch-id]",
		Short: "List archived batches or write one as CSV",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runExportCmd,
	}
	cmd.Flags().StringVarP(&exportOutput, "output", "o", "", "CSV file (default tdr_trace_<timestamp>.csv)")
	cmd.Flags().IntVar(&exportLimit, "limit", 20, "Number of batches to list (0 lists all)")
	cmd.Flags().BoolVar(&exportDelete, "delete", false, "Delete the batch instead of exporting it")
	cmd.Flags().StringVar(&exportStore, "store", "", "Trace archive path")
	return cmd
}

func runExportCmd(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("store") {
		cfg.Store.Path = exportStore
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	if len(args) == 0 {
		batches, err := st.ListBatches(ctx, exportLimit)
		if err != nil {
			return err
		}
		if len(batches) == 0 {
			pterm.Info.Printf("No batches in %s\n", cfg.Store.Path)
			return nil
		}
		return pterm.DefaultTable.WithHasHeader().WithData(batchTable(batches, time.Now())).Render()
	}

	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid batch id %q: %w", args[0], err)
	}

	if exportDelete {
		if err := st.DeleteBatch(ctx, id); err != nil {
			return err
		}
		pterm.Success.Printf("Deleted batch %d\n", id)
		return nil
	}

	b, err := st.LoadBatch(ctx, id)
	if err != nil {
		return err
	}
	path := exportOutput
	if path == "" {
		path = export.DefaultFilename(b.CreatedAt.Local())
	}
	if err := export.SaveCSV(path, traceTable(b.Traces)); err != nil {
		return err
	}
	pterm.Success.Printf("Saved batch %d (%d traces) to %s\n", id, b.Count, path)
	return nil
}

func batchTable(batches []store.BatchInfo, now time.Time) pterm.TableData {
	data := pterm.TableData{{"ID", "Captured", "Instrument", "Points", "Traces", "UID"}}
	for _, b := range batches {
		data = append(data, []string{
			strconv.FormatInt(b.ID, 10),
			humanize.RelTime(b.CreatedAt, now, "ago", "from now"),
			b.IDN,
			humanize.Comma(int64(b.NPoints)),
			strconv.Itoa(b.Count),
			b.UID,
		})
	}
	return data
}
