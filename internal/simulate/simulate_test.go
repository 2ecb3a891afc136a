package simulate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tinygo.org/x/bluetooth"

	"github.com/kortschak/bluno/bluno"
	"github.com/kortschak/bluno/session"
)

const wait = 5 * time.Second

func fastTransport() *Transport {
	tr := NewTransport(nil)
	tr.Interval = time.Millisecond
	tr.Latency = time.Millisecond
	return tr
}

func TestFrame(t *testing.T) {
	buf := make([]byte, bluno.FrameSize)
	var samples, heartbeats int
	for i := range 64 {
		_, err := bluno.Decode(Frame(buf, i))
		switch {
		case err == nil:
			samples++
		case errors.Is(err, bluno.ErrInvalidFrame):
			heartbeats++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 60, samples)
	assert.Equal(t, 4, heartbeats)
}

func TestScan(t *testing.T) {
	tr := fastTransport()
	found := make(chan session.Device, 100)
	tr.Scan(func(d session.Device) {
		select {
		case found <- d:
		default:
		}
	}, func(err error) { t.Errorf("unexpected scan failure: %v", err) })
	defer tr.StopScan()

	seen := make(map[string]bool)
	timeout := time.After(wait)
	for len(seen) < len(Devices) {
		select {
		case d := <-found:
			seen[d.Address] = true
		case <-timeout:
			t.Fatalf("did not see all devices: %v", seen)
		}
	}
}

func TestScanTwice(t *testing.T) {
	tr := fastTransport()
	tr.Scan(func(session.Device) {}, func(err error) { t.Errorf("unexpected scan failure: %v", err) })
	defer tr.StopScan()
	errc := make(chan error, 1)
	tr.Scan(func(session.Device) {}, func(err error) { errc <- err })
	select {
	case err := <-errc:
		assert.EqualError(t, err, "scan already in progress")
	case <-time.After(wait):
		t.Fatal("second scan did not fail")
	}
}

func connect(t *testing.T, tr *Transport, dev session.Device) session.Peripheral {
	t.Helper()
	pc := make(chan session.Peripheral, 1)
	tr.Connect(dev, func(p session.Peripheral) { pc <- p }, func(err error) { t.Errorf("unexpected connect failure: %v", err) })
	select {
	case p := <-pc:
		return p
	case <-time.After(wait):
		t.Fatal("connect timed out")
		return nil
	}
}

func TestStream(t *testing.T) {
	tr := fastTransport()
	defer tr.CloseAll()
	p := connect(t, tr, Devices[0])
	require.Equal(t, Devices[0].Address, p.Address())

	rc := make(chan session.Peripheral, 1)
	tr.ResolveServices(p, []bluetooth.UUID{bluno.Service}, func(p session.Peripheral) { rc <- p }, func(err error) { t.Errorf("unexpected resolve failure: %v", err) })
	select {
	case <-rc:
	case <-time.After(wait):
		t.Fatal("resolve timed out")
	}

	frames := make(chan []byte, 1)
	tr.Subscribe(p, bluno.Serial, func(buf []byte) {
		select {
		case frames <- append([]byte(nil), buf...):
		default:
		}
	}, func(err error) { t.Errorf("unexpected subscribe failure: %v", err) })
	select {
	case f := <-frames:
		assert.Len(t, f, bluno.FrameSize)
	case <-time.After(wait):
		t.Fatal("no notification")
	}

	done := make(chan struct{})
	tr.Write(p, bluno.Serial, []byte("hi"), func() { close(done) }, func(err error) { t.Errorf("unexpected write failure: %v", err) })
	select {
	case <-done:
	case <-time.After(wait):
		t.Fatal("write timed out")
	}
}

func TestResolveWrongDevice(t *testing.T) {
	tr := fastTransport()
	defer tr.CloseAll()
	p := connect(t, tr, Devices[2])

	errc := make(chan error, 1)
	tr.ResolveServices(p, []bluetooth.UUID{bluno.Service}, func(session.Peripheral) { t.Error("unexpected resolution") }, func(err error) { errc <- err })
	select {
	case err := <-errc:
		assert.EqualError(t, err, "service not found: "+bluno.ServiceID)
	case <-time.After(wait):
		t.Fatal("resolve did not fail")
	}
}

func TestSubscribeUnresolved(t *testing.T) {
	tr := fastTransport()
	defer tr.CloseAll()
	p := connect(t, tr, Devices[0])

	errc := make(chan error, 1)
	tr.Subscribe(p, bluno.Serial, func([]byte) { t.Error("unexpected data") }, func(err error) { errc <- err })
	select {
	case err := <-errc:
		assert.EqualError(t, err, "device characteristic not found: "+bluno.SerialID)
	case <-time.After(wait):
		t.Fatal("subscribe did not fail")
	}
}

func TestCloseAllStopsConnect(t *testing.T) {
	tr := fastTransport()
	tr.Latency = time.Hour
	tr.Connect(Devices[0], func(session.Peripheral) { t.Error("unexpected connection") }, func(err error) { t.Errorf("unexpected failure: %v", err) })
	tr.CloseAll()
	tr.mu.Lock()
	n := len(tr.conns)
	tr.mu.Unlock()
	assert.Equal(t, 0, n)
}

// TestController runs a full session against the simulated devices.
func TestController(t *testing.T) {
	l := session.NewLoop()
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	go l.Run(ctx)

	tr := fastTransport()
	ui := &plotter{samples: make(chan bluno.Sample, 1)}
	c := session.NewController(tr, ui, l.Post, nil)
	defer l.Do(ctx, func() { c.Disconnect("") })

	require.NoError(t, l.Do(ctx, c.StartScan))
	var devices []session.Device
	for len(devices) < 2 {
		time.Sleep(10 * time.Millisecond)
		require.NoError(t, l.Do(ctx, func() { devices = c.Devices() }))
	}
	for _, d := range devices {
		assert.NotEmpty(t, d.Name, "unnamed device listed")
	}

	require.NoError(t, l.Do(ctx, func() { c.ConnectTo(Devices[0].Address) }))
	select {
	case s := <-ui.samples:
		assert.InDelta(t, float64(s.Raw)*bluno.Scale, s.Value, 1e-9)
	case <-ctx.Done():
		t.Fatal("no sample plotted")
	}
	var state session.State
	require.NoError(t, l.Do(ctx, func() { state = c.State() }))
	assert.Equal(t, session.Connected, state)
}

// plotter is a session.Presenter that forwards plotted samples.
type plotter struct {
	samples chan bluno.Sample
}

func (p *plotter) SetState(session.State) {}
func (p *plotter) SetStatus(string) {}
func (p *plotter) SetDevices([]session.Device) {}
func (p *plotter) Alert(string) {}
func (p *plotter) Plot(s bluno.Sample) {
	select {
	case p.samples <- s:
	default:
	}
}
