package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kortschak/bluno/internal/config"
	"github.com/kortschak/bluno/internal/simulate"
	"github.com/kortschak/bluno/session"
)

func demo(t *testing.T, timeout time.Duration) (*command, *cobra.Command, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default()
	cfg.Demo = true
	cfg.BLE.ScanTimeout = 500 * time.Millisecond
	b := &command{cfg: cfg, log: slog.New(slog.DiscardHandler)}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetContext(ctx)
	cmd.SetOut(&buf)
	return b, cmd, &buf
}

func TestScanCommand(t *testing.T) {
	b, cmd, buf := demo(t, 10*time.Second)
	err := b.scan(cmd, nil)
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "Scanning...")
	assert.Contains(t, out, simulate.Devices[0].Address)
	assert.Contains(t, out, "HMSoft")
	assert.NotContains(t, out, simulate.Devices[1].Address, "unnamed device listed")
}

func TestStreamCommand(t *testing.T) {
	b, cmd, buf := demo(t, 3*time.Second)
	err := b.stream(cmd, simulate.Devices[0].Address, []byte("hi"))
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "Trying to connect to Bluno")
	assert.Contains(t, out, "Identifying services...")
	var values int
	for _, line := range strings.Split(out, "\n") {
		if strings.Count(line, ":") == 2 && strings.Contains(line, ".") {
			values++
		}
	}
	assert.Greater(t, values, 0, "no readings printed:\n%s", out)
}

func TestStreamCommandWrongDevice(t *testing.T) {
	b, cmd, buf := demo(t, 10*time.Second)
	err := b.stream(cmd, simulate.Devices[2].Address, nil)
	assert.EqualError(t, err, session.ServiceResolutionFailure.Message())
	assert.Contains(t, buf.String(), "Device is not from DFRobot")
}

func TestDeviceTable(t *testing.T) {
	assert.Equal(t, "no devices found", strings.TrimSpace(deviceTable(nil)))

	got := deviceTable([]session.Device{
		{Address: "C8:A0:30:F9:2B:01", Name: "Bluno", RSSI: -48},
	})
	for _, want := range []string{"NAME", "ADDRESS", "RSSI", "Bluno", "C8:A0:30:F9:2B:01", "-48"} {
		assert.Contains(t, got, want)
	}
}
