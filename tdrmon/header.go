package main

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/itohio/gotdr/pkg/protocol"
	"github.com/itohio/gotdr/pkg/tdr"
)

func newHeaderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "header",
		Short: "Apply the configured settings and show the device read-back",
		Args:  cobra.NoArgs,
		RunE:  runHeaderCmd,
	}
}

func runHeaderCmd(cmd *cobra.Command, _ []string) error {
	app, err := newAppState(cmd)
	if err != nil {
		return err
	}
	defer app.close()

	s, err := app.settings()
	if err != nil {
		return err
	}

	return app.withLink(func(link tdr.Link) error {
		p := &protocol.Protocol{Debug: verbose}
		header, err := p.Apply(link, s, app.cfg.Trace.SetTiming())
		if err != nil {
			return err
		}
		if err := renderHeader(header); err != nil {
			return err
		}

		mismatches := header.Mismatches(s)
		for _, m := range mismatches {
			pterm.Warning.Println(m.String())
		}
		if len(mismatches) == 0 {
			pterm.Success.Println("Device accepted all settings.")
		}
		return nil
	})
}

func renderHeader(header protocol.Header) error {
	data := pterm.TableData{{"Query", "Response"}}
	for _, q := range protocol.Queries {
		data = append(data, []string{q, header[q]})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
