// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package session

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"tinygo.org/x/bluetooth"

	"github.com/kortschak/bluno/bluno"
)

// Controller drives a Transport through scanning, connection, service
// resolution and notification subscription for one device at a time.
// Every failure ends the session.
type Controller struct {
	transport Transport
	ui        Presenter
	dispatch  func(func())
	log       *slog.Logger

	state   State
	devices *orderedmap.OrderedMap[string, Device]
	device  Device
	active  Peripheral
	err     error

	// gen is incremented by Disconnect. Callbacks
	// from earlier generations are dropped.
	gen uint64
}

// NewController returns a new idle Controller. Transport callbacks are
// passed to dispatch to be run on the Controller's goroutine; if dispatch
// is nil they are run directly. If log is nil, slog.Default is used.
func NewController(t Transport, ui Presenter, dispatch func(func()), log *slog.Logger) *Controller {
	if dispatch == nil {
		dispatch = func(f func()) { f() }
	}
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		transport: t,
		ui:        ui,
		dispatch:  dispatch,
		log:       log,
		devices:   orderedmap.New[string, Device](),
	}
}

// State returns the current session state.
func (c *Controller) State() State { return c.state }

// Devices returns the named devices found by the current scan in order
// of discovery.
func (c *Controller) Devices() []Device {
	devs := make([]Device, 0, c.devices.Len())
	for p := c.devices.Oldest(); p != nil; p = p.Next() {
		devs = append(devs, p.Value)
	}
	return devs
}

// Active returns the connected peripheral. It is nil unless the session
// is Connected.
func (c *Controller) Active() Peripheral { return c.active }

// Err returns the failure that ended the most recent session, or nil.
func (c *Controller) Err() error { return c.err }

// StartScan ends any current session and starts scanning for devices.
func (c *Controller) StartScan() {
	c.Disconnect("")
	c.err = nil

	c.log.Info("scanning started")
	c.setState(Scanning)
	c.ui.SetStatus("Scanning...")

	gen := c.gen
	c.transport.Scan(
		func(d Device) {
			c.post(gen, func() { c.found(d) })
		},
		func(err error) {
			c.post(gen, func() {
				if c.state != Scanning {
					return
				}
				c.fail(ScanFailure, err)
			})
		},
	)
}

func (c *Controller) found(d Device) {
	if c.state != Scanning {
		return
	}
	if d.Name == "" {
		return
	}
	c.log.Debug("found device", "name", d.Name, "addr", d.Address, "rssi", d.RSSI)
	c.devices.Set(d.Address, d)
	c.ui.SetDevices(c.Devices())
}

// ConnectTo stops scanning and connects to the device with the given
// address. The address must have been found by the current scan.
func (c *Controller) ConnectTo(addr string) {
	if c.state != Scanning {
		c.fail(InvalidState, fmt.Errorf("connect to %s while %s", addr, c.state))
		return
	}
	d, ok := c.devices.Get(addr)
	if !ok {
		c.fail(InvalidState, fmt.Errorf("unknown device: %s", addr))
		return
	}

	c.transport.StopScan()
	c.device = d
	c.setState(Connecting)
	c.ui.SetStatus("Trying to connect to " + d.Name)

	gen := c.gen
	c.transport.Connect(d,
		func(p Peripheral) {
			c.post(gen, func() { c.connected(p) })
		},
		func(err error) {
			c.post(gen, func() { c.fail(ConnectFailure, err) })
		},
	)
}

func (c *Controller) connected(p Peripheral) {
	if c.state != Connecting {
		return
	}
	c.setState(ResolvingServices)
	c.ui.SetStatus("Identifying services...")

	gen := c.gen
	c.transport.ResolveServices(p, []bluetooth.UUID{bluno.Service},
		func(p Peripheral) {
			c.post(gen, func() { c.resolved(p) })
		},
		func(err error) {
			c.post(gen, func() { c.fail(ServiceResolutionFailure, err) })
		},
	)
}

func (c *Controller) resolved(p Peripheral) {
	if c.state != ResolvingServices {
		return
	}
	c.active = p
	c.setState(Connected)
	c.log.Info("connected", "name", c.device.Name, "addr", p.Address())

	gen := c.gen
	c.transport.Subscribe(p, bluno.Serial,
		func(buf []byte) {
			// The transport may reuse buf.
			buf = bytes.Clone(buf)
			c.post(gen, func() { c.received(buf) })
		},
		func(err error) {
			c.post(gen, func() { c.fail(NotificationSubscriptionFailure, err) })
		},
	)
}

func (c *Controller) received(buf []byte) {
	if c.state != Connected {
		return
	}
	s, err := bluno.Decode(buf)
	if err != nil {
		c.log.Debug("dropping notification", "data", fmt.Sprintf("%#x", buf), "error", err)
		return
	}
	c.ui.Plot(s)
}

var errNotConnected = errors.New("no device connected")

// SendData writes data to the connected device's serial characteristic.
// Calling SendData when not Connected ends the session.
func (c *Controller) SendData(data []byte) {
	if c.state != Connected {
		c.fail(InvalidState, errNotConnected)
		return
	}
	gen := c.gen
	c.transport.Write(c.active, bluno.Serial, bytes.Clone(data),
		func() {
			c.post(gen, func() { c.log.Debug("sent data", "len", len(data)) })
		},
		func(err error) {
			c.post(gen, func() { c.fail(WriteFailure, err) })
		},
	)
}

// Disconnect ends the current session, closing any connections and
// discarding scan results. If reason is not empty it is passed to the
// Presenter's Alert method. Disconnect may be called in any state.
func (c *Controller) Disconnect(reason string) {
	c.gen++
	if reason != "" {
		c.ui.Alert(reason)
	}

	c.transport.StopScan()
	c.transport.CloseAll()

	c.active = nil
	c.device = Device{}
	c.devices = orderedmap.New[string, Device]()
	if c.state != Idle {
		c.log.Info("disconnected")
	}
	c.setState(Idle)
	c.ui.SetDevices(nil)
}

func (c *Controller) fail(k Kind, err error) {
	c.err = &Error{Kind: k, Err: err}
	c.log.Error("session failed", "error", c.err)
	c.Disconnect(k.Message())
}

func (c *Controller) setState(s State) {
	c.state = s
	c.ui.SetState(s)
}

// post runs f on the Controller's goroutine if the session generation
// is still gen.
func (c *Controller) post(gen uint64, f func()) {
	c.dispatch(func() {
		if gen != c.gen {
			c.log.Debug("dropping stale callback", "generation", gen)
			return
		}
		f()
	})
}
