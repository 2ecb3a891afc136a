// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/kortschak/bluno/bluno"
	"github.com/kortschak/bluno/session"
)

var (
	colorAccent = lipgloss.Color("#00AADD")
	colorDim    = lipgloss.Color("#808080")
	colorError  = lipgloss.Color("#FF3300")

	styleTitle = lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true)

	styleDim = lipgloss.NewStyle().
			Foreground(colorDim)

	styleValue = lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true).
			Width(10).
			Align(lipgloss.Right)

	styleAlert = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	styleTable = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorAccent).
			Padding(0, 1)
)

func (b *command) scanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "List nearby named devices",
		Args:  cobra.NoArgs,
		RunE:  b.scan,
	}
}

func (b *command) streamCommand() *cobra.Command {
	var send string
	cmd := &cobra.Command{
		Use:   "stream <address>",
		Short: "Connect to a device and print its readings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			if send != "" {
				var err error
				data, err = hex.DecodeString(send)
				if err != nil {
					return fmt.Errorf("invalid --send payload: %w", err)
				}
			}
			return b.stream(cmd, args[0], data)
		},
	}
	cmd.Flags().StringVar(&send, "send", "", "hex encoded data to send once connected")
	return cmd
}

// scan lists the named devices seen during the configured scan timeout.
func (b *command) scan(cmd *cobra.Command, _ []string) error {
	t, err := b.transport()
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()
	l, stop := startLoop()
	defer stop()

	out := cmd.OutOrStdout()
	p := &termPresenter{out: out, seen: make(map[string]bool), done: make(chan error, 1)}
	c := session.NewController(t, p, l.Post, b.log.With("component", "session"))
	fmt.Fprintln(out, styleTitle.Render("Scanning for "+b.cfg.BLE.ScanTimeout.String()+"..."))
	err = l.Do(ctx, c.StartScan)
	if err != nil {
		return err
	}

	timer := time.NewTimer(b.cfg.BLE.ScanTimeout)
	defer timer.Stop()
	var failed error
	select {
	case <-ctx.Done():
	case <-timer.C:
	case failed = <-p.done:
	}

	var devs []session.Device
	err = l.Do(context.Background(), func() {
		devs = c.Devices()
		c.Disconnect("")
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(out, deviceTable(devs))
	return failed
}

// stream connects to the device at addr, optionally sends data, and
// prints readings until interrupted or the session fails.
func (b *command) stream(cmd *cobra.Command, addr string, data []byte) error {
	t, err := b.transport()
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()
	l, stop := startLoop()
	defer stop()

	out := cmd.OutOrStdout()
	p := &termPresenter{
		out:    out,
		target: addr,
		send:   data,
		seen:   make(map[string]bool),
		done:   make(chan error, 1),
	}
	c := session.NewController(t, p, l.Post, b.log.With("component", "session"))
	p.session = c
	err = l.Do(ctx, c.StartScan)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		l.Do(context.Background(), func() { c.Disconnect("") })
		return nil
	case err = <-p.done:
		return err
	}
}

// startLoop starts a session loop that runs until stop is called.
// The loop outlives interrupts so sessions can be closed cleanly.
func startLoop() (l *session.Loop, stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	l = session.NewLoop()
	go l.Run(ctx)
	return l, cancel
}

// termPresenter is a session.Presenter writing to a terminal. If
// target is not empty it connects to the device with that address as
// soon as it is found.
type termPresenter struct {
	out     io.Writer
	session *session.Controller
	target  string
	send    []byte

	seen map[string]bool
	last session.State
	done chan error
}

var _ session.Presenter = (*termPresenter)(nil)

func (p *termPresenter) SetState(s session.State) {
	if s == session.Connected && p.send != nil {
		p.session.SendData(p.send)
	}
	// The transition to Idle on failure is reported by Alert.
	if s == session.Idle && p.last == session.Connected {
		p.finish(nil)
	}
	p.last = s
}

func (p *termPresenter) SetStatus(s string) {
	fmt.Fprintln(p.out, styleDim.Render(s))
}

func (p *termPresenter) SetDevices(devs []session.Device) {
	for _, d := range devs {
		if p.seen[d.Address] {
			continue
		}
		p.seen[d.Address] = true
		if p.target == "" {
			fmt.Fprintf(p.out, "%s %s\n", styleTitle.Render(d.Name), styleDim.Render(d.Address))
			continue
		}
		if d.Address == p.target {
			p.session.ConnectTo(d.Address)
			return
		}
	}
}

func (p *termPresenter) Plot(s bluno.Sample) {
	fmt.Fprintf(p.out, "%s %s\n",
		styleDim.Render(time.Now().Format(time.TimeOnly)),
		styleValue.Render(strconv.FormatFloat(s.Display(), 'f', 2, 64)),
	)
}

func (p *termPresenter) Alert(msg string) {
	fmt.Fprintln(p.out, styleAlert.Render(msg))
	p.finish(errors.New(msg))
}

func (p *termPresenter) finish(err error) {
	select {
	case p.done <- err:
	default:
	}
}

// deviceTable renders devs as a bordered table.
func deviceTable(devs []session.Device) string {
	if len(devs) == 0 {
		return styleDim.Render("no devices found")
	}
	rows := []string{lipgloss.JoinHorizontal(lipgloss.Top,
		styleTitle.Width(20).Render("NAME"),
		styleTitle.Width(20).Render("ADDRESS"),
		styleTitle.Width(6).Align(lipgloss.Right).Render("RSSI"),
	)}
	for _, d := range devs {
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top,
			lipgloss.NewStyle().Width(20).Render(d.Name),
			styleDim.Width(20).Render(d.Address),
			lipgloss.NewStyle().Width(6).Align(lipgloss.Right).Render(strconv.Itoa(int(d.RSSI))),
		))
	}
	return styleTable.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}
