// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gioui.org/app"
	_ "gioui.org/app/permission/bluetooth"
	"gioui.org/font/gofont"
	"gioui.org/io/event"
	"gioui.org/layout"
	"gioui.org/op"
	"gioui.org/op/paint"
	"gioui.org/text"
	"gioui.org/unit"
	"gioui.org/widget"
	"gioui.org/widget/material"
	"gioui.org/x/explorer"
	"github.com/spf13/cobra"

	"github.com/kortschak/bluno/cmd/internal/chart"
	"github.com/kortschak/bluno/session"
)

// gui runs the graphical monitor. It does not return unless the
// transport cannot be started.
func (b *command) gui(cmd *cobra.Command, _ []string) error {
	col, err := chart.ParseColor(b.cfg.Chart.Color)
	if err != nil {
		return err
	}
	t, err := b.transport()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	l := session.NewLoop()
	go l.Run(ctx)

	r := chart.New(b.cfg.Chart.Width, b.cfg.Chart.Height, chart.Trace{Name: "analog", Color: col})
	p := newPresenter(r, b.log.With("component", "chart"))
	c := session.NewController(t, p, l.Post, b.log.With("component", "session"))

	go func() {
		w := new(app.Window)
		w.Option(app.Title("Bluno"), app.Size(unit.Dp(b.cfg.Chart.Width), unit.Dp(b.cfg.Chart.Height+240)))
		m := &monitor{
			ctx:      ctx,
			loop:     l,
			session:  c,
			chart:    r,
			present:  p,
			snapshot: b.cfg.Chart.SnapshotDir,
			log:      b.log,
		}
		err := m.run(w)
		if err != nil {
			b.log.Error("window failed", "error", err)
		}
		l.Do(ctx, func() { c.Disconnect("") })
		cancel()
		os.Exit(0)
	}()
	app.Main()
	return nil
}

// monitor is the window's event loop state.
type monitor struct {
	ctx      context.Context
	loop     *session.Loop
	session  *session.Controller
	chart    *chart.Renderer
	present  *presenter
	snapshot string
	log      *slog.Logger

	view view

	scan       widget.Clickable
	disconnect widget.Clickable
	save       widget.Clickable
	dismiss    widget.Clickable
	send       widget.Clickable
	devices    []widget.Clickable
	list       widget.List
	payload    widget.Editor
}

func (m *monitor) run(w *app.Window) error {
	expl := explorer.NewExplorer(w)
	th := material.NewTheme()
	th.Shaper = text.NewShaper(text.WithCollection(gofont.Collection()))
	m.list.Axis = layout.Vertical
	m.payload.SingleLine = true

	events := make(chan event.Event)
	ack := make(chan struct{})

	go func() {
		for {
			ev := w.Event()
			events <- ev
			<-ack
			if _, ok := ev.(app.DestroyEvent); ok {
				return
			}
		}
	}()
	var ops op.Ops
	for {
		select {
		case m.view = <-m.present.update:
			w.Invalidate()
		case e := <-events:
			expl.ListenEvents(e)
			switch e := e.(type) {
			case app.DestroyEvent:
				ack <- struct{}{}
				return e.Err
			case app.FrameEvent:
				gtx := app.NewContext(&ops, e)
				m.handle(gtx, expl)
				m.layout(gtx, th)
				e.Frame(gtx.Ops)
			}
			ack <- struct{}{}
		}
	}
}

// handle posts user actions to the session loop.
func (m *monitor) handle(gtx layout.Context, expl *explorer.Explorer) {
	if m.scan.Clicked(gtx) {
		m.loop.Post(m.session.StartScan)
	}
	if m.disconnect.Clicked(gtx) {
		m.loop.Post(func() { m.session.Disconnect("") })
	}
	if m.dismiss.Clicked(gtx) {
		m.loop.Post(m.present.dismiss)
	}
	for i := range m.devices {
		if i < len(m.view.Devices) && m.devices[i].Clicked(gtx) {
			addr := m.view.Devices[i].Address
			m.loop.Post(func() { m.session.ConnectTo(addr) })
		}
	}
	if m.send.Clicked(gtx) && m.payload.Text() != "" {
		data := []byte(m.payload.Text())
		m.payload.SetText("")
		m.loop.Post(func() { m.session.SendData(data) })
	}
	if m.save.Clicked(gtx) {
		go func() {
			err := m.saveChart(expl)
			if err != nil && !errors.Is(err, explorer.ErrUserDecline) {
				m.log.Error("failed to save chart", "error", err)
			}
		}()
	}
}

// saveChart writes the current chart as a PNG, either into the snapshot
// directory or to a file chosen by the user.
func (m *monitor) saveChart(expl *explorer.Explorer) error {
	name := "bluno-" + time.Now().Format("20060102-150405") + ".png"
	var (
		f   io.WriteCloser
		err error
	)
	if m.snapshot != "" {
		f, err = os.Create(filepath.Join(m.snapshot, name))
	} else {
		f, err = expl.CreateFile(name)
	}
	if err != nil {
		return err
	}
	var werr error
	err = m.loop.Do(m.ctx, func() { werr = m.chart.WritePNG(f) })
	return errors.Join(err, werr, f.Close())
}

var alertColor = color.NRGBA{R: 0xb0, G: 0x10, B: 0x10, A: 0xff}

func (m *monitor) layout(gtx layout.Context, th *material.Theme) layout.Dimensions {
	v := m.view
	for len(m.devices) < len(v.Devices) {
		m.devices = append(m.devices, widget.Clickable{})
	}
	inset := layout.UniformInset(unit.Dp(4))

	var children []layout.FlexChild
	if v.Alert != "" {
		children = append(children, layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			return inset.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
				return layout.Flex{Alignment: layout.Middle}.Layout(gtx,
					layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
						lbl := material.Body1(th, v.Alert)
						lbl.Color = alertColor
						return lbl.Layout(gtx)
					}),
					layout.Rigid(material.Button(th, &m.dismiss, "Dismiss").Layout),
				)
			})
		}))
	}

	children = append(children,
		layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			return inset.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
				return layout.Flex{Alignment: layout.Middle, Spacing: layout.SpaceEnd}.Layout(gtx,
					layout.Rigid(material.Button(th, &m.scan, "Scan").Layout),
					layout.Rigid(layout.Spacer{Width: unit.Dp(8)}.Layout),
					layout.Rigid(material.Button(th, &m.disconnect, "Disconnect").Layout),
					layout.Rigid(layout.Spacer{Width: unit.Dp(8)}.Layout),
					layout.Rigid(material.Button(th, &m.save, "Save chart").Layout),
				)
			})
		}),
		layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			return inset.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
				return layout.Flex{Alignment: layout.Middle}.Layout(gtx,
					layout.Rigid(func(gtx layout.Context) layout.Dimensions {
						switch v.State {
						case session.Scanning, session.Connecting, session.ResolvingServices:
							size := gtx.Dp(unit.Dp(20))
							gtx.Constraints = layout.Exact(image.Pt(size, size))
							return material.Loader(th).Layout(gtx)
						}
						return layout.Dimensions{}
					}),
					layout.Rigid(layout.Spacer{Width: unit.Dp(8)}.Layout),
					layout.Flexed(1, material.Body1(th, statusText(v)).Layout),
					layout.Rigid(material.H5(th, readout(v)).Layout),
				)
			})
		}),
	)

	if v.State == session.Scanning {
		children = append(children, layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			return material.List(th, &m.list).Layout(gtx, len(v.Devices), func(gtx layout.Context, i int) layout.Dimensions {
				d := v.Devices[i]
				label := fmt.Sprintf("%s  %s  %d dBm", d.Name, d.Address, d.RSSI)
				return inset.Layout(gtx, material.Button(th, &m.devices[i], label).Layout)
			})
		}))
	}

	if v.State == session.Connected {
		children = append(children, layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			return inset.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
				return layout.Flex{Alignment: layout.Middle}.Layout(gtx,
					layout.Flexed(1, material.Editor(th, &m.payload, "Data to send").Layout),
					layout.Rigid(material.Button(th, &m.send, "Send").Layout),
				)
			})
		}))
	}

	children = append(children, layout.Flexed(1, func(gtx layout.Context) layout.Dimensions {
		if v.Chart == nil {
			return layout.Dimensions{}
		}
		return widget.Image{
			Src: paint.NewImageOp(v.Chart),
			Fit: widget.Contain,
		}.Layout(gtx)
	}))

	return layout.Flex{Axis: layout.Vertical}.Layout(gtx, children...)
}

func statusText(v view) string {
	if v.Status != "" {
		return v.Status
	}
	switch v.State {
	case session.Idle:
		return "Press Scan to find devices"
	case session.Connected:
		return "Connected"
	}
	return v.State.String()
}

func readout(v view) string {
	if !v.HasValue {
		return "-"
	}
	return strconv.FormatFloat(v.Value, 'f', 2, 64)
}
