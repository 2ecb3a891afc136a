// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package forkbeard provides a session.Transport backed by a tinygo
// Bluetooth adapter.
package forkbeard

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/kortschak/bluno/session"
)

// Transport implements session.Transport. Each operation runs on its own
// goroutine and reports through its callbacks.
type Transport struct {
	adapter adapter
	timeout time.Duration
	log     *slog.Logger

	mu sync.Mutex
	// scanning is true from Scan until StopScan. The
	// adapter's scan may return some time after StopScan,
	// and scanDone is closed when it has.
	scanning bool
	scanGen  uint64
	scanDone chan struct{}
	// epoch is incremented by CloseAll. Connections
	// completing in an earlier epoch are closed.
	epoch uint64
	seen  map[string]bluetooth.Address
	conns map[string]*peripheral
}

var _ session.Transport = (*Transport)(nil)

// adapter is the subset of *bluetooth.Adapter used by a Transport.
type adapter interface {
	Enable() error
	Scan(func(*bluetooth.Adapter, bluetooth.ScanResult)) error
	StopScan() error
	Connect(bluetooth.Address, bluetooth.ConnectionParams) (device, error)
}

// device is the subset of bluetooth.Device used by a Transport.
type device interface {
	DiscoverServices([]bluetooth.UUID) ([]bluetooth.DeviceService, error)
	Disconnect() error
}

type tinygoAdapter struct {
	*bluetooth.Adapter
}

func (a tinygoAdapter) Connect(addr bluetooth.Address, params bluetooth.ConnectionParams) (device, error) {
	d, err := a.Adapter.Connect(addr, params)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// NewTransport returns a Transport using the provided adapter. Connection
// attempts taking longer than timeout fail. If log is nil, slog.Default
// is used.
func NewTransport(a *bluetooth.Adapter, timeout time.Duration, log *slog.Logger) *Transport {
	return newTransport(tinygoAdapter{a}, timeout, log)
}

func newTransport(a adapter, timeout time.Duration, log *slog.Logger) *Transport {
	if log == nil {
		log = slog.Default()
	}
	return &Transport{
		adapter: a,
		timeout: timeout,
		log:     log,
		seen:    make(map[string]bluetooth.Address),
		conns:   make(map[string]*peripheral),
	}
}

// Enable enables the Bluetooth adapter.
func (t *Transport) Enable() error {
	err := t.adapter.Enable()
	if err != nil {
		return fmt.Errorf("failed to enable bluetooth: %w", err)
	}
	return nil
}

type peripheral struct {
	dev  device
	addr string

	mu    sync.Mutex
	srvs  []bluetooth.DeviceService
	chars map[bluetooth.UUID]bluetooth.DeviceCharacteristic
}

func (p *peripheral) Address() string { return p.addr }

// Scan starts a scan. If an earlier scan has been stopped but has not
// yet returned, the new scan starts once it has.
func (t *Transport) Scan(found func(session.Device), failed func(error)) {
	t.mu.Lock()
	if t.scanning {
		t.mu.Unlock()
		go failed(errors.New("scan already in progress"))
		return
	}
	t.scanning = true
	t.scanGen++
	gen := t.scanGen
	prev := t.scanDone
	done := make(chan struct{})
	t.scanDone = done
	t.mu.Unlock()

	go func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		if !t.wanted(gen) {
			return
		}
		err := t.adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
			if !t.wanted(gen) {
				// StopScan raced with the start of this scan.
				t.adapter.StopScan()
				return
			}
			addr := r.Address.String()
			t.mu.Lock()
			t.seen[addr] = r.Address
			t.mu.Unlock()
			found(session.Device{
				Address: addr,
				Name:    r.LocalName(),
				RSSI:    r.RSSI,
			})
		})
		t.mu.Lock()
		if t.scanGen == gen {
			t.scanning = false
		}
		t.mu.Unlock()
		if err != nil && t.wanted(gen) {
			failed(fmt.Errorf("failed to scan: %w", err))
		}
	}()
}

// wanted returns whether the scan with generation gen has not been
// stopped.
func (t *Transport) wanted(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scanning && t.scanGen == gen
}

func (t *Transport) StopScan() {
	t.mu.Lock()
	scanning := t.scanning
	t.scanning = false
	t.mu.Unlock()
	if !scanning {
		return
	}
	err := t.adapter.StopScan()
	if err != nil {
		t.log.Debug("failed to stop scan", "error", err)
	}
}

func (t *Transport) Connect(dev session.Device, connected func(session.Peripheral), failed func(error)) {
	t.mu.Lock()
	addr, ok := t.seen[dev.Address]
	epoch := t.epoch
	t.mu.Unlock()
	if !ok {
		go failed(fmt.Errorf("device not seen: %s", dev.Address))
		return
	}

	type result struct {
		dev device
		err error
	}
	go func() {
		// Connect blocks with its own timeout on some platforms
		// and not on others, so bound it here.
		res := make(chan result, 1)
		go func() {
			d, err := t.adapter.Connect(addr, bluetooth.ConnectionParams{})
			res <- result{d, err}
		}()
		var r result
		select {
		case r = <-res:
		case <-time.After(t.timeout):
			failed(fmt.Errorf("timed out connecting to %s after %v", dev.Address, t.timeout))
			go func() {
				if r := <-res; r.err == nil {
					t.disconnect(dev.Address, r.dev)
				}
			}()
			return
		}
		if r.err != nil {
			failed(fmt.Errorf("failed to connect to %s: %w", dev.Address, r.err))
			return
		}
		p := &peripheral{
			dev:   r.dev,
			addr:  dev.Address,
			chars: make(map[bluetooth.UUID]bluetooth.DeviceCharacteristic),
		}
		t.mu.Lock()
		closed := t.epoch != epoch
		if !closed {
			t.conns[p.addr] = p
		}
		t.mu.Unlock()
		if closed {
			t.disconnect(dev.Address, r.dev)
			failed(fmt.Errorf("connection to %s closed while connecting", dev.Address))
			return
		}
		connected(p)
	}()
}

func (t *Transport) disconnect(addr string, d device) {
	err := d.Disconnect()
	if err != nil {
		t.log.Warn("failed to disconnect abandoned connection", "addr", addr, "error", err)
	}
}

func (t *Transport) ResolveServices(p session.Peripheral, services []bluetooth.UUID, resolved func(session.Peripheral), failed func(error)) {
	dev, ok := p.(*peripheral)
	if !ok {
		go failed(fmt.Errorf("not a bluetooth peripheral: %T", p))
		return
	}
	go func() {
		srvs, err := dev.dev.DiscoverServices(services)
		if err != nil {
			failed(fmt.Errorf("failed to discover services %v: %w", services, err))
			return
		}
		if len(srvs) == 0 {
			failed(fmt.Errorf("services not found: %v", services))
			return
		}
		dev.mu.Lock()
		dev.srvs = srvs
		dev.mu.Unlock()
		resolved(dev)
	}()
}

func (t *Transport) Subscribe(p session.Peripheral, char bluetooth.UUID, data func([]byte), failed func(error)) {
	dev, ok := p.(*peripheral)
	if !ok {
		go failed(fmt.Errorf("not a bluetooth peripheral: %T", p))
		return
	}
	go func() {
		c, err := dev.characteristic(char)
		if err != nil {
			failed(err)
			return
		}
		err = c.EnableNotifications(data)
		if err != nil {
			failed(fmt.Errorf("failed to enable notifications for %s: %w", char, err))
		}
	}()
}

func (t *Transport) Write(p session.Peripheral, char bluetooth.UUID, data []byte, done func(), failed func(error)) {
	dev, ok := p.(*peripheral)
	if !ok {
		go failed(fmt.Errorf("not a bluetooth peripheral: %T", p))
		return
	}
	go func() {
		c, err := dev.characteristic(char)
		if err != nil {
			failed(err)
			return
		}
		_, err = c.WriteWithoutResponse(data)
		if err != nil {
			failed(fmt.Errorf("failed to write to %s: %w", char, err))
			return
		}
		done()
	}()
}

// CloseAll disables notifications and disconnects all connected devices.
// Connections still being made are closed when they complete.
func (t *Transport) CloseAll() {
	t.mu.Lock()
	t.epoch++
	conns := t.conns
	t.conns = make(map[string]*peripheral)
	t.mu.Unlock()

	for addr, p := range conns {
		err := p.close()
		if err != nil {
			t.log.Warn("failed to close connection", "addr", addr, "error", err)
		}
	}
}

func (p *peripheral) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for _, c := range p.chars {
		errs = append(errs, c.EnableNotifications(nil))
	}
	clear(p.chars)
	return errors.Join(append(errs, p.dev.Disconnect())...)
}

// characteristic returns the characteristic charID from the resolved
// services of p.
func (p *peripheral) characteristic(charID bluetooth.UUID) (bluetooth.DeviceCharacteristic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.chars[charID]; ok {
		return c, nil
	}
	c, err := DeviceCharacteristic(p.srvs, charID)
	if err != nil {
		return c, err
	}
	p.chars[charID] = c
	return c, nil
}

// DeviceCharacteristic returns a specified bluetooth.DeviceCharacteristic
// from the first of the provided services that holds it.
func DeviceCharacteristic(srvs []bluetooth.DeviceService, charID bluetooth.UUID) (bluetooth.DeviceCharacteristic, error) {
	for _, s := range srvs {
		char, err := s.DiscoverCharacteristics([]bluetooth.UUID{charID})
		if err != nil {
			return bluetooth.DeviceCharacteristic{}, fmt.Errorf("failed to discover characteristic %s: %w", charID, err)
		}
		if len(char) != 0 {
			return char[0], nil
		}
	}
	return bluetooth.DeviceCharacteristic{}, fmt.Errorf("device characteristic not found: %s", charID)
}
