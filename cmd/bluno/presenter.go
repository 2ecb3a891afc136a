// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"image"
	"log/slog"
	"slices"

	"github.com/kortschak/bluno/bluno"
	"github.com/kortschak/bluno/cmd/internal/chart"
	"github.com/kortschak/bluno/session"
)

// view is a snapshot of everything the window shows.
type view struct {
	State   session.State
	Status  string
	Devices []session.Device
	Alert   string

	// Value is the latest reading if HasValue is true.
	Value    float64
	HasValue bool
	Chart    image.Image
}

// presenter is a session.Presenter that renders samples into a chart
// and publishes views. Its methods must be called on the session loop.
type presenter struct {
	chart  *chart.Renderer
	view   view
	update chan view
	log    *slog.Logger
}

var _ session.Presenter = (*presenter)(nil)

func newPresenter(r *chart.Renderer, log *slog.Logger) *presenter {
	p := &presenter{
		chart:  r,
		update: make(chan view, 1),
		log:    log,
	}
	p.view.Chart = r.Image()
	return p
}

func (p *presenter) SetState(s session.State) {
	p.view.State = s
	switch s {
	case session.Idle:
		p.view.Status = ""
	case session.Connected:
		p.view.Status = ""
		p.view.HasValue = false
		p.chart.Reset()
		p.view.Chart = p.chart.Image()
	}
	p.publish()
}

func (p *presenter) SetStatus(s string) {
	p.view.Status = s
	p.publish()
}

func (p *presenter) SetDevices(d []session.Device) {
	p.view.Devices = slices.Clone(d)
	p.publish()
}

func (p *presenter) Plot(s bluno.Sample) {
	prev := p.chart.Scale()
	p.chart.Add(s.Chart())
	if sc := p.chart.Scale(); sc.Magnitude != prev.Magnitude {
		p.log.Debug("chart rescaled", "magnitude", sc.Magnitude, "peak", sc.Peak)
	}
	p.view.Value = s.Display()
	p.view.HasValue = true
	p.view.Chart = p.chart.Image()
	p.publish()
}

func (p *presenter) Alert(msg string) {
	p.view.Alert = msg
	p.publish()
}

// dismiss clears the current alert.
func (p *presenter) dismiss() {
	p.view.Alert = ""
	p.publish()
}

// publish replaces any unconsumed view with the current view.
func (p *presenter) publish() {
	select {
	case <-p.update:
	default:
	}
	// The presenter is the only sender so this cannot block.
	p.update <- p.view
}
