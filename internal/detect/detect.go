// Package detect runs the two-pass cascade detection over a frame and draws
// the result onto it.
package detect

import (
	"image"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"smilecam/internal/metrics"
	"smilecam/internal/types"
)

const (
	MsgSmile   = "Smile detected!"
	MsgNoSmile = "No smile detected."
)

// Params tunes one DetectMultiScale pass.
type Params struct {
	ScaleFactor  float64
	MinNeighbors int
	MinSize      image.Point
}

var (
	DefaultFaceParams  = Params{ScaleFactor: 1.1, MinNeighbors: 5, MinSize: image.Pt(30, 30)}
	DefaultSmileParams = Params{ScaleFactor: 1.8, MinNeighbors: 25, MinSize: image.Pt(25, 25)}
)

// Classifier reports the regions of img matching a trained pattern. Returned
// rectangles are in img's coordinate space.
type Classifier interface {
	DetectMultiScale(img *image.Gray, p Params) []image.Rectangle
}

// Publisher accepts detection events without blocking the caller.
type Publisher interface {
	Publish(ev types.Event) bool
}

type Options struct {
	Face   Params
	Smile  Params
	Labels bool
}

func DefaultOptions() Options {
	return Options{Face: DefaultFaceParams, Smile: DefaultSmileParams, Labels: true}
}

type Detector struct {
	faces   Classifier
	smiles  Classifier
	opts    Options
	log     zerolog.Logger
	events  Publisher
	metrics *metrics.Counters
	now     func() time.Time
}

// New wires the two classifier handles into a Detector. The handles are only
// read; their lifetime belongs to the caller. events and m may be nil.
func New(faces, smiles Classifier, opts Options, log zerolog.Logger, events Publisher, m *metrics.Counters) *Detector {
	if m == nil {
		m = &metrics.Counters{}
	}
	return &Detector{
		faces:   faces,
		smiles:  smiles,
		opts:    opts,
		log:     log,
		events:  events,
		metrics: m,
		now:     time.Now,
	}
}

type Result struct {
	Faces []types.Box
}

func (r Result) Smiles() int {
	n := 0
	for _, f := range r.Faces {
		if f.Smiling {
			n++
		}
	}
	return n
}

// Process annotates frame in place. A frame without faces is left untouched.
func (d *Detector) Process(frame *image.RGBA, seq uint64) Result {
	start := time.Now()
	defer func() {
		d.metrics.DetectNanos.Add(uint64(time.Since(start).Nanoseconds()))
	}()

	gray := Grayscale(frame)
	faces := d.faces.DetectMultiScale(gray, d.opts.Face)
	res := Result{Faces: make([]types.Box, 0, len(faces))}
	for _, r := range faces {
		r = r.Intersect(gray.Bounds())
		if r.Empty() {
			continue
		}
		roi := gray.SubImage(r).(*image.Gray)
		smiling := len(d.smiles.DetectMultiScale(roi, d.opts.Smile)) > 0

		box := types.BoxFromRect(r, smiling)
		res.Faces = append(res.Faces, box)
		d.annotate(frame, r, smiling)
		d.report(box, seq)
	}
	return res
}

func (d *Detector) annotate(frame *image.RGBA, r image.Rectangle, smiling bool) {
	col, label := Red, "Not Smiling"
	if smiling {
		col, label = Green, "Smiling"
	}
	drawRect(frame, r, col, boxThickness)
	if d.opts.Labels {
		drawLabel(frame, label, image.Pt(r.Min.X, r.Min.Y-10), col)
	}
}

func (d *Detector) report(box types.Box, seq uint64) {
	d.metrics.Faces.Add(1)
	kind, msg := types.KindNoSmile, MsgNoSmile
	if box.Smiling {
		d.metrics.Smiles.Add(1)
		kind, msg = types.KindSmile, MsgSmile
	}
	d.log.Info().Msg(msg)
	d.log.Debug().
		Uint64("frame", seq).
		Int("x", box.X).
		Int("y", box.Y).
		Int("w", box.Width).
		Int("h", box.Height).
		Bool("smiling", box.Smiling).
		Msg("face")

	if d.events == nil {
		return
	}
	d.events.Publish(types.Event{
		ID:      uuid.NewString(),
		Kind:    kind,
		Frame:   seq,
		Box:     box,
		Time:    d.now(),
		Message: msg,
	})
}
