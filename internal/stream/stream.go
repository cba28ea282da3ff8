// Package stream turns a capture source into a multipart JPEG stream.
package stream

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"sync"

	"smilecam/internal/capture"
	"smilecam/internal/detect"
	"smilecam/internal/metrics"
)

const (
	Boundary    = "frame"
	ContentType = "multipart/x-mixed-replace; boundary=" + Boundary
)

var partHeader = []byte("--" + Boundary + "\r\nContent-Type: image/jpeg\r\n\r\n")

// WritePart frames one encoded image: boundary, content type, blank line,
// payload and a trailing CRLF.
func WritePart(w io.Writer, data []byte) error {
	if _, err := w.Write(partHeader); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

type Processor interface {
	Process(frame *image.RGBA, seq uint64) detect.Result
}

// Feed is a pull-based sequence of encoded, annotated frames over one source.
// It is not safe for concurrent use.
type Feed struct {
	src     capture.Source
	proc    Processor
	opts    *jpeg.Options
	metrics *metrics.Counters

	seq    uint64
	faces  uint64
	smiles uint64
	buf    bytes.Buffer

	closeOnce sync.Once
	closeErr  error
}

// NewFeed takes ownership of src. A quality of 0 keeps the encoder default.
func NewFeed(src capture.Source, proc Processor, quality int, m *metrics.Counters) *Feed {
	var opts *jpeg.Options
	if quality > 0 {
		opts = &jpeg.Options{Quality: quality}
	}
	if m == nil {
		m = &metrics.Counters{}
	}
	return &Feed{src: src, proc: proc, opts: opts, metrics: m}
}

// Next captures, annotates and encodes one frame. The returned bytes are
// valid until the following call. Once the source fails every call returns
// its error.
func (f *Feed) Next(ctx context.Context) ([]byte, error) {
	frame, err := f.src.Read(ctx)
	if err != nil {
		return nil, err
	}
	f.metrics.FramesCaptured.Add(1)
	f.seq++
	if f.proc != nil {
		res := f.proc.Process(frame, f.seq)
		f.faces += uint64(len(res.Faces))
		f.smiles += uint64(res.Smiles())
	}

	f.buf.Reset()
	if err := jpeg.Encode(&f.buf, frame, f.opts); err != nil {
		f.metrics.EncodeErrors.Add(1)
		return nil, fmt.Errorf("encode frame %d: %w", f.seq, err)
	}
	return f.buf.Bytes(), nil
}

// Frames reports how many frames were pulled from the source.
func (f *Feed) Frames() uint64 {
	return f.seq
}

// Detections reports the faces and smiling faces seen so far.
func (f *Feed) Detections() (faces, smiles uint64) {
	return f.faces, f.smiles
}

// Close releases the source. It is safe to call more than once.
func (f *Feed) Close() error {
	f.closeOnce.Do(func() {
		f.closeErr = f.src.Close()
	})
	return f.closeErr
}

// Serve writes parts to w until the feed fails, a write fails or ctx ends.
// A source that simply ran out returns capture.ErrClosed.
func Serve(ctx context.Context, w io.Writer, feed *Feed) error {
	flusher, _ := w.(http.Flusher)
	for {
		data, err := feed.Next(ctx)
		if err != nil {
			return err
		}
		if err := WritePart(w, data); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		feed.metrics.FramesStreamed.Add(1)
	}
}
