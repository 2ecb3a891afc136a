// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package chart implements a scrolling, self-scaling line chart of
// sensor samples.
package chart

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"slices"

	"tinygo.org/x/tinyfont"
	"tinygo.org/x/tinyfont/freesans"

	"github.com/kortschak/bluno/cmd/internal/ring"
)

const (
	// Floor is the smallest full-scale value of the chart.
	Floor = 1000

	// Step is the horizontal distance between plotted samples.
	Step = 2

	// headroom is the number of pixels kept clear above the
	// highest smoothed point when rescaling.
	headroom = 10
)

// DefaultColor is the colour of the default trace.
var DefaultColor = color.RGBA{R: 0x00, G: 0xaa, B: 0xdd, A: 0xff}

// Trace is a named channel of the plotted frames.
type Trace struct {
	Name    string
	Channel int
	Color   color.Color
}

// Scale is the vertical scaling state of a chart.
type Scale struct {
	// Magnitude is the value represented by the
	// full height of the chart.
	Magnitude float64
	// Peak is the highest smoothed point, in pixels,
	// of the most recent redraw.
	Peak float64
}

// Renderer holds a rolling window of frames and draws them.
type Renderer struct {
	img    *image.RGBA
	frames *ring.Buffer[[]int32]
	traces []Trace
	scale  Scale

	window [][]int32
	series []int32
}

// New returns a Renderer drawing onto a width×height surface. The
// rolling window holds width/Step frames. If no traces are provided a
// single trace of channel zero is drawn in DefaultColor.
func New(width, height int, traces ...Trace) *Renderer {
	if len(traces) == 0 {
		traces = []Trace{{Name: "value", Color: DefaultColor}}
	}
	r := &Renderer{
		img:    image.NewRGBA(image.Rect(0, 0, width, height)),
		frames: ring.NewBuffer[[]int32](width / Step),
		traces: traces,
		scale:  Scale{Magnitude: Floor},
	}
	r.Redraw()
	return r
}

// Add appends a frame of channel values to the window and redraws
// the chart.
func (r *Renderer) Add(frame ...int32) {
	r.frames.Push(slices.Clone(frame))
	r.Redraw()
}

// Len returns the number of frames in the window.
func (r *Renderer) Len() int { return r.frames.Len() }

// Cap returns the capacity of the window.
func (r *Renderer) Cap() int { return r.frames.Cap() }

// Scale returns the current scaling state.
func (r *Renderer) Scale() Scale { return r.scale }

// Reset discards all frames and returns the scale to its floor.
func (r *Renderer) Reset() {
	r.frames.Reset()
	r.scale = Scale{Magnitude: Floor}
	r.Redraw()
}

// Redraw renders the current window.
func (r *Renderer) Redraw() {
	fill(r.img, color.White)
	height := r.img.Bounds().Dy()
	for _, t := range r.traces {
		series := r.channel(t.Channel)
		pts, peak := Smooth(series, height, r.scale.Magnitude)
		polyline(r.img, pts, t.Color)
		r.scale = Scale{
			Magnitude: Rescale(peak, r.scale.Magnitude, height),
			Peak:      peak,
		}
	}
	r.labels()
}

// channel returns the values of channel c in the window, oldest first.
// Frames without the channel contribute zero.
func (r *Renderer) channel(c int) []int32 {
	n := r.frames.Len()
	r.window = slices.Grow(r.window[:0], n)[:n]
	r.frames.CopyTo(r.window)
	r.series = r.series[:0]
	for _, f := range r.window {
		var v int32
		if c < len(f) {
			v = f[c]
		}
		r.series = append(r.series, v)
	}
	return r.series
}

func (r *Renderer) labels() {
	font := &freesans.Regular9pt7b
	black := color.RGBA{A: 0xff}
	top := fmt.Sprintf("-- %d m", int(math.Round(r.scale.Magnitude/100))-1)
	tinyfont.WriteLine(displayShim{r.img}, font, 0, int16(font.YAdvance)-headroom, top, black)
	tinyfont.WriteLine(displayShim{r.img}, font, 0, int16(r.img.Bounds().Dy()-1), "-- 0 m", black)

	// Legend, right aligned below the top edge.
	width := r.img.Bounds().Dx()
	for i, t := range r.traces {
		if t.Name == "" {
			continue
		}
		_, w := tinyfont.LineWidth(font, t.Name)
		y := int(font.YAdvance) - headroom + i*int(font.YAdvance)
		c := color.RGBAModel.Convert(t.Color).(color.RGBA)
		tinyfont.WriteLine(displayShim{r.img}, font, int16(width-int(w)-2), int16(y), t.Name, c)
	}
}

// Image returns a copy of the current chart.
func (r *Renderer) Image() *image.RGBA {
	dst := image.NewRGBA(r.img.Rect)
	copy(dst.Pix, r.img.Pix)
	return dst
}

// WritePNG writes the current chart to w in PNG format.
func (r *Renderer) WritePNG(w io.Writer) error {
	return png.Encode(w, r.img)
}

// Smooth returns the plot points for values on a surface of the given
// height when the full height represents magnitude, and the highest
// smoothed point in pixels above the baseline.
//
// The newest value is plotted at x=0. Moving right, each point is the
// mean of three consecutive values stepping back in time, starting with
// the second newest. The two oldest values only contribute to means.
func Smooth(values []int32, height int, magnitude float64) (pts []image.Point, peak float64) {
	if len(values) == 0 {
		return nil, 0
	}
	h := float64(height)
	calcY := func(v int32) float64 {
		return float64(v) * h / magnitude
	}
	n := len(values)
	pts = make([]image.Point, 0, max(1, n-2))
	pts = append(pts, image.Point{X: 0, Y: pixel(h - calcY(values[n-1]))})
	x := 1
	for i := n - 2; i >= 2; i-- {
		y := (calcY(values[i]) + calcY(values[i-1]) + calcY(values[i-2])) / 3
		peak = max(peak, y)
		pts = append(pts, image.Point{X: x, Y: pixel(h - y)})
		x += Step
	}
	return pts, peak
}

// Rescale returns the magnitude for the next redraw given the peak
// smoothed height found with the current magnitude. The chart expands
// to keep peaks in view and snaps back to Floor when they pass.
func Rescale(peak, magnitude float64, height int) float64 {
	if height <= headroom {
		return Floor
	}
	candidate := peak * magnitude / float64(height-headroom)
	if candidate > Floor {
		return candidate
	}
	return Floor
}

func pixel(y float64) int {
	return int(math.Round(y))
}
