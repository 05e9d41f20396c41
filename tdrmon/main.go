// Package main provides the tdrmon command line tool for the TDR01.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/itohio/gotdr/pkg/acquire"
	"github.com/itohio/gotdr/pkg/config"
	"github.com/itohio/gotdr/pkg/settings"
	"github.com/itohio/gotdr/pkg/tdr"
)

const simResource = tdr.KindSim + "::INSTR"

var (
	configPath string
	deviceFlag string
	baudFlag   int
	mockFlag   bool
	verbose    bool
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "tdrmon",
		Short:        "TDR01 time-domain reflectometer host",
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "tdrmon.yaml", "Configuration file path (.yaml or .toml)")
	flags.StringVarP(&deviceFlag, "device", "d", "", "Serial port or resource string, e.g. /dev/ttyUSB0 or ASRLCOM3::INSTR")
	flags.IntVar(&baudFlag, "baud", 115200, "Serial baud rate")
	flags.BoolVar(&mockFlag, "mock", false, "Use the simulated instrument")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Log protocol traffic")

	rootCmd.AddCommand(newPortsCmd())
	rootCmd.AddCommand(newHeaderCmd())
	rootCmd.AddCommand(newCaptureCmd())
	rootCmd.AddCommand(newMonitorCmd())
	rootCmd.AddCommand(newExportCmd())

	return rootCmd
}

// appState holds what every device command needs.
type appState struct {
	cfg *config.Config
	rm  *tdr.ResourceManager
}

// newAppState loads the configuration and applies the global flags that
// were set on the command line.
func newAppState(cmd *cobra.Command) (*appState, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("device") {
		cfg.Serial.Port = deviceFlag
	}
	if flags.Changed("baud") {
		cfg.Serial.BaudRate = baudFlag
	}
	if verbose {
		log.SetFlags(log.Ltime | log.Lmicroseconds)
	}

	return &appState{cfg: cfg, rm: tdr.NewResourceManager(&cfg.Mock)}, nil
}

func (a *appState) close() {
	if err := a.rm.Close(); err != nil {
		pterm.Warning.Printf("Failed to close device: %v\n", err)
	}
}

// resource picks the instrument to talk to: the simulator with --mock, the
// configured port, or else the first port found.
func (a *appState) resource() (string, error) {
	if mockFlag {
		return simResource, nil
	}
	if a.cfg.Serial.Port != "" {
		return a.cfg.Serial.Port, nil
	}

	ports, err := tdr.Ports()
	if err != nil {
		return "", err
	}
	if len(ports) == 0 {
		return "", fmt.Errorf("no serial ports found, use --device or --mock")
	}
	pterm.Info.Printf("Using %s\n", ports[0].Name)
	return ports[0].Name, nil
}

// withLink opens the instrument for the duration of fn.
func (a *appState) withLink(fn func(tdr.Link) error) error {
	resource, err := a.resource()
	if err != nil {
		return err
	}
	return tdr.WithLink(a.rm, resource, a.cfg.Serial.BaudRate, a.cfg.Serial.Timeout, fn)
}

func (a *appState) settings() (settings.TraceSettings, error) {
	return settings.New(a.cfg.Trace.Raw())
}

func (a *appState) engine() *acquire.Engine {
	return &acquire.Engine{
		Debug:       verbose,
		MaxAttempts: a.cfg.Acquisition.MaxAttempts,
		Command:     a.cfg.Acquisition.Command,
	}
}
