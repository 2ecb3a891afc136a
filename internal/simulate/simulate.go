// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package simulate provides a session.Transport that serves fake devices
// for demonstration without Bluetooth hardware.
package simulate

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/kortschak/bluno/bluno"
	"github.com/kortschak/bluno/session"
)

// Devices are the devices advertised by a Transport. Only the first
// provides the Bluno serial service.
var Devices = []session.Device{
	{Address: "C8:A0:30:F9:2B:01", Name: "Bluno", RSSI: -48},
	{Address: "5E:17:D2:8C:44:9A", Name: "", RSSI: -81},
	{Address: "D0:39:72:A4:10:7C", Name: "HMSoft", RSSI: -67},
}

// Transport implements session.Transport with simulated devices.
type Transport struct {
	// Interval is the period between advertisements
	// and between notifications.
	Interval time.Duration
	// Latency is the delay before connection and
	// service resolution complete.
	Latency time.Duration

	log *slog.Logger

	mu    sync.Mutex
	scan  context.CancelFunc
	conns map[string]*peripheral
}

var _ session.Transport = (*Transport)(nil)

// NewTransport returns a Transport. If log is nil, slog.Default is used.
func NewTransport(log *slog.Logger) *Transport {
	if log == nil {
		log = slog.Default()
	}
	return &Transport{
		Interval: 100 * time.Millisecond,
		Latency:  300 * time.Millisecond,
		log:      log,
		conns:    make(map[string]*peripheral),
	}
}

type peripheral struct {
	dev      session.Device
	resolved bool
	cancel   context.CancelFunc
	ctx      context.Context
}

func (p *peripheral) Address() string { return p.dev.Address }

func (t *Transport) Scan(found func(session.Device), failed func(error)) {
	t.mu.Lock()
	if t.scan != nil {
		t.mu.Unlock()
		go failed(errors.New("scan already in progress"))
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.scan = cancel
	t.mu.Unlock()

	go func() {
		ticker := time.NewTicker(t.Interval)
		defer ticker.Stop()
		phase := 0.0
		for {
			for _, d := range Devices {
				select {
				case <-ctx.Done():
					return
				default:
				}
				d.RSSI += int16(4*math.Sin(phase) + (rand.Float64()-0.5)*4)
				found(d)
			}
			phase += 0.2
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (t *Transport) StopScan() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.scan != nil {
		t.scan()
		t.scan = nil
	}
}

func (t *Transport) Connect(dev session.Device, connected func(session.Peripheral), failed func(error)) {
	i := slices.IndexFunc(Devices, func(d session.Device) bool { return d.Address == dev.Address })
	if i < 0 {
		go failed(fmt.Errorf("no device at %s", dev.Address))
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &peripheral{dev: Devices[i], ctx: ctx, cancel: cancel}
	t.mu.Lock()
	t.conns[p.dev.Address] = p
	t.mu.Unlock()
	t.after(ctx, func() { connected(p) })
}

func (t *Transport) ResolveServices(p session.Peripheral, services []bluetooth.UUID, resolved func(session.Peripheral), failed func(error)) {
	dev, ok := p.(*peripheral)
	if !ok {
		go failed(fmt.Errorf("not a simulated peripheral: %T", p))
		return
	}
	t.after(dev.ctx, func() {
		for _, s := range services {
			if s != bluno.Service || dev.dev.Name != "Bluno" {
				failed(fmt.Errorf("service not found: %s", s))
				return
			}
		}
		t.mu.Lock()
		dev.resolved = true
		t.mu.Unlock()
		resolved(dev)
	})
}

func (t *Transport) Subscribe(p session.Peripheral, char bluetooth.UUID, data func([]byte), failed func(error)) {
	dev, err := t.characteristic(p, char)
	if err != nil {
		go failed(err)
		return
	}
	go func() {
		ticker := time.NewTicker(t.Interval)
		defer ticker.Stop()
		buf := make([]byte, bluno.FrameSize)
		for i := 0; ; i++ {
			select {
			case <-dev.ctx.Done():
				return
			case <-ticker.C:
			}
			data(Frame(buf, i))
		}
	}()
}

func (t *Transport) Write(p session.Peripheral, char bluetooth.UUID, data []byte, done func(), failed func(error)) {
	dev, err := t.characteristic(p, char)
	if err != nil {
		go failed(err)
		return
	}
	t.after(dev.ctx, func() {
		t.log.Debug("simulated write", "addr", dev.dev.Address, "data", fmt.Sprintf("%#x", data))
		done()
	})
}

// CloseAll ends all simulated connections.
func (t *Transport) CloseAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for addr, p := range t.conns {
		p.cancel()
		delete(t.conns, addr)
	}
}

func (t *Transport) characteristic(p session.Peripheral, char bluetooth.UUID) (*peripheral, error) {
	dev, ok := p.(*peripheral)
	if !ok {
		return nil, fmt.Errorf("not a simulated peripheral: %T", p)
	}
	t.mu.Lock()
	resolved := dev.resolved
	t.mu.Unlock()
	if !resolved || char != bluno.Serial {
		return nil, fmt.Errorf("device characteristic not found: %s", char)
	}
	return dev, nil
}

// after calls f after the Transport's latency unless ctx is cancelled.
func (t *Transport) after(ctx context.Context, f func()) {
	go func() {
		timer := time.NewTimer(t.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			f()
		}
	}()
}

// Frame fills buf with the i'th simulated notification and returns it.
// Every sixteenth frame is a heartbeat without the sample tag. Other
// frames carry a noisy sine wave with an occasional spike.
func Frame(buf []byte, i int) []byte {
	buf = buf[:bluno.FrameSize]
	if i%16 == 15 {
		copy(buf, "AT\r\n\x00")
		return buf
	}
	v := 3000 + 2000*math.Sin(float64(i)/10) + rand.NormFloat64()*150
	if rand.IntN(50) == 0 {
		v += 4000
	}
	buf[0] = bluno.Tag
	binary.LittleEndian.PutUint16(buf[1:3], uint16(max(0, v)))
	binary.LittleEndian.PutUint16(buf[3:5], 1)
	return buf
}
