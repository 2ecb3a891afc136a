// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The bluno command monitors the analog sensor stream of a DFRobot
// Bluno board over Bluetooth LE.
//
// Run without a subcommand it opens a window to scan for boards,
// connect to one and chart its readings. The scan and stream
// subcommands do the same on the terminal.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"tinygo.org/x/bluetooth"

	"github.com/kortschak/bluno/internal/config"
	"github.com/kortschak/bluno/internal/forkbeard"
	"github.com/kortschak/bluno/internal/simulate"
	"github.com/kortschak/bluno/session"
)

func main() {
	var b command
	root := &cobra.Command{
		Use:   "bluno",
		Short: "Monitor a DFRobot Bluno analog sensor over Bluetooth LE",
		Long: `bluno scans for DFRobot Bluno boards, connects to one and plots the
readings it notifies on its serial characteristic.

Use --demo to run against simulated boards without Bluetooth hardware.`,
		SilenceUsage:      true,
		PersistentPreRunE: b.setup,
		RunE:              b.gui,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&b.configPath, "config", "", "config file path (default "+config.DefaultPath()+")")
	flags.BoolVar(&b.demo, "demo", false, "use simulated devices")
	flags.StringVar(&b.logLevel, "log-level", "", "log level: debug, info, warn or error")
	root.Flags().IntVar(&b.width, "width", 0, "chart width in pixels")
	root.Flags().IntVar(&b.height, "height", 0, "chart height in pixels")

	root.AddCommand(b.scanCommand(), b.streamCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// command holds the state shared by the bluno commands.
type command struct {
	configPath string
	demo       bool
	logLevel   string
	width      int
	height     int

	cfg *config.Config
	log *slog.Logger
}

// setup loads the configuration, applies flag overrides and
// constructs the logger.
func (b *command) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(b.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("demo") {
		cfg.Demo = b.demo
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = b.logLevel
	}
	if flags.Changed("width") {
		cfg.Chart.Width = b.width
	}
	if flags.Changed("height") {
		cfg.Chart.Height = b.height
	}
	err = cfg.Validate()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	b.cfg = cfg
	b.log, err = newLogger(os.Stderr, cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(b.log)
	return nil
}

// transport returns the session transport selected by the configuration.
func (b *command) transport() (session.Transport, error) {
	if b.cfg.Demo {
		b.log.Info("using simulated devices")
		return simulate.NewTransport(b.log.With("transport", "simulated")), nil
	}
	t := forkbeard.NewTransport(bluetooth.DefaultAdapter, b.cfg.BLE.ConnectTimeout, b.log.With("transport", "bluetooth"))
	err := t.Enable()
	if err != nil {
		return nil, err
	}
	return t, nil
}
