package main

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/itohio/gotdr/pkg/tdr"
)

func newPortsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List available serial ports",
		Args:  cobra.NoArgs,
		RunE:  runPortsCmd,
	}
}

func runPortsCmd(cmd *cobra.Command, _ []string) error {
	ports, err := tdr.Ports()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		pterm.Warning.Println("No serial ports found.")
		return nil
	}

	data := pterm.TableData{{"Port", "Description"}}
	for _, p := range ports {
		data = append(data, []string{p.Name, p.Description})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
