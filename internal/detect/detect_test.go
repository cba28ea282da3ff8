package detect

import (
	"bytes"
	"image"
	"image/color"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"smilecam/internal/logging"
	"smilecam/internal/metrics"
	"smilecam/internal/types"
)

type scriptedClassifier struct {
	results [][]image.Rectangle
	calls   int
	bounds  []image.Rectangle
	params  []Params
}

func (s *scriptedClassifier) DetectMultiScale(img *image.Gray, p Params) []image.Rectangle {
	s.bounds = append(s.bounds, img.Bounds())
	s.params = append(s.params, p)
	defer func() { s.calls++ }()
	if s.calls >= len(s.results) {
		return nil
	}
	return s.results[s.calls]
}

type recordingPublisher struct {
	events []types.Event
}

func (r *recordingPublisher) Publish(ev types.Event) bool {
	r.events = append(r.events, ev)
	return true
}

func testFrame() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 160, 120))
	for y := 0; y < 120; y++ {
		for x := 0; x < 160; x++ {
			img.SetRGBA(x, y, color.RGBA{uint8(x), uint8(y), uint8(x ^ y), 255})
		}
	}
	return img
}

func newTestDetector(faces, smiles Classifier, buf *bytes.Buffer, pub Publisher) *Detector {
	logger := zerolog.New(buf)
	return New(faces, smiles, DefaultOptions(), logger, pub, &metrics.Counters{})
}

func TestProcessWithoutFacesLeavesFrameUntouched(t *testing.T) {
	var logs bytes.Buffer
	pub := &recordingPublisher{}
	faces := &scriptedClassifier{}
	smiles := &scriptedClassifier{}
	det := newTestDetector(faces, smiles, &logs, pub)

	frame := testFrame()
	before := append([]byte(nil), frame.Pix...)
	res := det.Process(frame, 1)

	if len(res.Faces) != 0 {
		t.Fatalf("unexpected faces: %+v", res.Faces)
	}
	if !bytes.Equal(before, frame.Pix) {
		t.Fatalf("frame modified without detections")
	}
	if smiles.calls != 0 {
		t.Fatalf("smile pass ran %d times without faces", smiles.calls)
	}
	if logs.Len() != 0 || len(pub.events) != 0 {
		t.Fatalf("unexpected output: logs=%q events=%d", logs.String(), len(pub.events))
	}
	if faces.params[0] != DefaultFaceParams {
		t.Fatalf("unexpected face params: %+v", faces.params[0])
	}
}

func TestProcessSmilingFaceDrawsGreenAndPublishesSmile(t *testing.T) {
	var logs bytes.Buffer
	pub := &recordingPublisher{}
	face := image.Rect(40, 30, 100, 90)
	faces := &scriptedClassifier{results: [][]image.Rectangle{{face}}}
	smiles := &scriptedClassifier{results: [][]image.Rectangle{{image.Rect(10, 30, 40, 45)}}}
	det := newTestDetector(faces, smiles, &logs, pub)

	frame := testFrame()
	res := det.Process(frame, 7)

	if len(res.Faces) != 1 || !res.Faces[0].Smiling || res.Smiles() != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Faces[0].Rect() != face {
		t.Fatalf("box not in frame coordinates: %v", res.Faces[0].Rect())
	}
	for _, pt := range []image.Point{face.Min, {face.Min.X, 60}, {face.Max.X - 1, 60}, {70, face.Max.Y - 1}} {
		if got := frame.RGBAAt(pt.X, pt.Y); got != Green {
			t.Fatalf("pixel %v: want green, got %v", pt, got)
		}
	}
	if got := frame.RGBAAt(70, 60); got == Green {
		t.Fatalf("face interior painted")
	}
	if smiles.bounds[0] != face {
		t.Fatalf("smile pass got %v, want face crop %v", smiles.bounds[0], face)
	}
	if smiles.params[0] != DefaultSmileParams {
		t.Fatalf("unexpected smile params: %+v", smiles.params[0])
	}
	if len(pub.events) != 1 || pub.events[0].Kind != types.KindSmile || pub.events[0].Frame != 7 {
		t.Fatalf("unexpected events: %+v", pub.events)
	}
	if pub.events[0].ID == "" {
		t.Fatalf("event id not set")
	}
	if strings.Count(logs.String(), MsgSmile) != 1 || strings.Contains(logs.String(), MsgNoSmile) {
		t.Fatalf("unexpected logs: %q", logs.String())
	}
}

func TestProcessLogLineCarriesOnlyTheMessage(t *testing.T) {
	var logs bytes.Buffer
	face := image.Rect(40, 30, 100, 90)
	faces := &scriptedClassifier{results: [][]image.Rectangle{{face}}}
	smiles := &scriptedClassifier{results: [][]image.Rectangle{{image.Rect(10, 30, 40, 45)}}}
	det := New(faces, smiles, DefaultOptions(), logging.New(&logs, false), nil, nil)

	det.Process(testFrame(), 7)

	line := strings.TrimSuffix(logs.String(), "\n")
	if strings.Contains(line, "\n") {
		t.Fatalf("expected one line, got %q", logs.String())
	}
	if !strings.HasSuffix(line, "INF "+MsgSmile) {
		t.Fatalf("line does not end with the message: %q", line)
	}

	logs.Reset()
	faces.calls, smiles.calls = 0, 0
	det = New(faces, smiles, DefaultOptions(), logging.New(&logs, true), nil, nil)
	det.Process(testFrame(), 8)
	if !strings.Contains(logs.String(), "frame=8") || !strings.Contains(logs.String(), "x=40") {
		t.Fatalf("debug line missing coordinates: %q", logs.String())
	}
}

func TestProcessFaceWithoutSmileDrawsRed(t *testing.T) {
	var logs bytes.Buffer
	pub := &recordingPublisher{}
	face := image.Rect(10, 20, 70, 80)
	faces := &scriptedClassifier{results: [][]image.Rectangle{{face}}}
	smiles := &scriptedClassifier{}
	m := &metrics.Counters{}
	det := New(faces, smiles, DefaultOptions(), zerolog.New(&logs), pub, m)

	frame := testFrame()
	res := det.Process(frame, 3)

	if len(res.Faces) != 1 || res.Faces[0].Smiling {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := frame.RGBAAt(face.Min.X, 50); got != Red {
		t.Fatalf("want red edge, got %v", got)
	}
	if len(pub.events) != 1 || pub.events[0].Kind != types.KindNoSmile {
		t.Fatalf("unexpected events: %+v", pub.events)
	}
	if strings.Count(logs.String(), MsgNoSmile) != 1 {
		t.Fatalf("unexpected logs: %q", logs.String())
	}
	if m.Faces.Load() != 1 || m.Smiles.Load() != 0 {
		t.Fatalf("unexpected counters: faces=%d smiles=%d", m.Faces.Load(), m.Smiles.Load())
	}
}

func TestProcessClipsFacesToFrame(t *testing.T) {
	var logs bytes.Buffer
	faces := &scriptedClassifier{results: [][]image.Rectangle{{
		image.Rect(140, 100, 200, 160),
		image.Rect(300, 300, 340, 340),
	}}}
	smiles := &scriptedClassifier{}
	det := newTestDetector(faces, smiles, &logs, nil)

	res := det.Process(testFrame(), 1)

	if len(res.Faces) != 1 {
		t.Fatalf("expected one clipped face, got %+v", res.Faces)
	}
	if got := res.Faces[0].Rect(); got != image.Rect(140, 100, 160, 120) {
		t.Fatalf("unexpected clipped box: %v", got)
	}
	if smiles.calls != 1 {
		t.Fatalf("smile pass ran %d times", smiles.calls)
	}
}

func TestGrayscale(t *testing.T) {
	img := image.NewRGBA(image.Rect(5, 5, 8, 6))
	img.SetRGBA(5, 5, color.RGBA{255, 255, 255, 255})
	img.SetRGBA(6, 5, color.RGBA{255, 0, 0, 255})
	img.SetRGBA(7, 5, color.RGBA{0, 0, 255, 255})

	gray := Grayscale(img)
	if gray.Bounds() != img.Bounds() {
		t.Fatalf("bounds changed: %v", gray.Bounds())
	}
	want := []uint8{255, 76, 29}
	for i, w := range want {
		if got := gray.GrayAt(5+i, 5).Y; got != w {
			t.Fatalf("pixel %d: want %d, got %d", i, w, got)
		}
	}
}
