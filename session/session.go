// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package session manages the lifetime of a single connection to a Bluno
// peripheral, from scanning through to streaming sensor notifications.
//
// A Controller is not safe for concurrent use. All calls to it, including
// the transport callbacks it receives, must be serialized onto a single
// goroutine, normally by running a Loop and providing its Post method as
// the Controller's dispatcher.
package session

import (
	"fmt"

	"tinygo.org/x/bluetooth"

	"github.com/kortschak/bluno/bluno"
)

// State is the connection state of a session.
type State int

//go:generate go tool golang.org/x/tools/cmd/stringer -type State
const (
	Idle State = iota
	Scanning
	Connecting
	ResolvingServices
	Connected
)

// Device is a peripheral found during a scan.
type Device struct {
	Address string
	Name    string
	RSSI    int16
}

// Peripheral is a connected device handle owned by a Transport.
type Peripheral interface {
	Address() string
}

// Transport is the Bluetooth adapter used by a Controller. Every
// operation reports its completion exactly once through one of its
// callbacks, except Scan and Subscribe which may call found and data
// many times. Callbacks may be called from any goroutine.
type Transport interface {
	// Scan starts discovery of advertising devices.
	Scan(found func(Device), failed func(error))
	// StopScan stops any discovery in progress.
	StopScan()
	// Connect opens a connection to dev.
	Connect(dev Device, connected func(Peripheral), failed func(error))
	// ResolveServices discovers the given services on p.
	ResolveServices(p Peripheral, services []bluetooth.UUID, resolved func(Peripheral), failed func(error))
	// Subscribe enables notifications for the characteristic char
	// of a resolved service.
	Subscribe(p Peripheral, char bluetooth.UUID, data func([]byte), failed func(error))
	// Write writes data to the characteristic char of a resolved
	// service.
	Write(p Peripheral, char bluetooth.UUID, data []byte, done func(), failed func(error))
	// CloseAll closes all open connections.
	CloseAll()
}

// Presenter receives the user-visible results of a session. Presenter
// methods are called on the Controller's goroutine.
type Presenter interface {
	// SetState is called on every state transition.
	SetState(State)
	// SetStatus is called with progress messages.
	SetStatus(string)
	// SetDevices is called with the named devices found by
	// the current scan, in order of discovery.
	SetDevices([]Device)
	// Plot is called for every sample received.
	Plot(bluno.Sample)
	// Alert is called with a message when a session fails.
	Alert(string)
}

// Kind is a class of session failure.
type Kind int

//go:generate go tool golang.org/x/tools/cmd/stringer -type Kind
const (
	ScanFailure Kind = iota + 1
	ConnectFailure
	ServiceResolutionFailure
	NotificationSubscriptionFailure
	WriteFailure
	InvalidState
)

// Message returns the user-facing description of the failure class.
func (k Kind) Message() string {
	switch k {
	case ScanFailure:
		return "Failed to scan for devices."
	case ConnectFailure:
		return "Failed to connect to device"
	case ServiceResolutionFailure:
		return "Device is not from DFRobot"
	case NotificationSubscriptionFailure:
		return "Failed to enable notifications"
	case WriteFailure:
		return "Failed to send data"
	case InvalidState:
		return "Disconnected"
	default:
		return "Unknown failure"
	}
}

// Error is a session failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, &Error{Kind: k}) to match failures of class k.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Err == nil && t.Kind == e.Kind
}
