// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bluno implements decoding of sensor notifications sent by
// DFRobot Bluno boards over their serial-over-BLE service.
package bluno

import (
	"encoding/binary"
	"errors"
	"math"

	"tinygo.org/x/bluetooth"
)

// Service, characteristic and descriptor identifiers.
const (
	ServiceID          = "0000dfb0-0000-1000-8000-00805f9b34fb"
	SerialID           = "0000dfb1-0000-1000-8000-00805f9b34fb"
	NotifyDescriptorID = "00002902-0000-1000-8000-00805f9b34fb"
)

var (
	Service          = must(bluetooth.ParseUUID(ServiceID))
	Serial           = must(bluetooth.ParseUUID(SerialID))
	NotifyDescriptor = must(bluetooth.ParseUUID(NotifyDescriptorID))
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

const (
	// Tag is the first byte of every sample frame.
	Tag = 0xad

	// Scale converts raw readings to physical units.
	Scale = 0.327

	// FrameSize is the minimum length of a sample frame.
	FrameSize = 5
)

// Frame offsets.
const (
	tagOffset       = 0
	valueOffset     = 1
	magnitudeOffset = 3
)

// ErrInvalidFrame is returned for notifications that are not sample
// frames. The peripheral sends other traffic on the same characteristic,
// so callers should normally drop these quietly.
var ErrInvalidFrame = errors.New("invalid frame")

// Sample is a single decoded sensor reading.
type Sample struct {
	Raw uint16
	// Magnitude is carried by the frame but has no
	// defined meaning yet.
	Magnitude uint16
	Value     float64
}

// Decode returns the Sample held in buf.
func Decode(buf []byte) (Sample, error) {
	var s Sample
	err := s.UnmarshalBinary(buf)
	return s, err
}

func (s *Sample) UnmarshalBinary(data []byte) error {
	// | 0    | 1  2      | 3  4          |
	// | 0xad | value le  | magnitude le  |
	if len(data) < FrameSize || data[tagOffset] != Tag {
		return ErrInvalidFrame
	}
	raw := binary.LittleEndian.Uint16(data[valueOffset:])
	*s = Sample{
		Raw:       raw,
		Magnitude: binary.LittleEndian.Uint16(data[magnitudeOffset:]),
		Value:     float64(raw) * Scale,
	}
	return nil
}

// Display returns the value rounded to two decimal places.
func (s Sample) Display() float64 {
	return math.Round(s.Value*100) / 100
}

// Chart returns the value in hundredths of a unit, the resolution
// used for plotting.
func (s Sample) Chart() int32 {
	return int32(math.Round(s.Value * 100))
}
