package types

import (
	"image"
	"time"
)

type EventKind string

const (
	KindSmile   EventKind = "smile"
	KindNoSmile EventKind = "no_smile"
)

// Box is a face region in the coordinate space of the frame it was detected in.
type Box struct {
	X       int  `json:"x" cbor:"x"`
	Y       int  `json:"y" cbor:"y"`
	Width   int  `json:"width" cbor:"width"`
	Height  int  `json:"height" cbor:"height"`
	Smiling bool `json:"smiling" cbor:"smiling"`
}

func BoxFromRect(r image.Rectangle, smiling bool) Box {
	return Box{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy(), Smiling: smiling}
}

func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

// Event is emitted once per face processed.
type Event struct {
	ID      string    `json:"id" cbor:"id"`
	Kind    EventKind `json:"kind" cbor:"kind"`
	Frame   uint64    `json:"frame" cbor:"frame"`
	Box     Box       `json:"box" cbor:"box"`
	Time    time.Time `json:"time" cbor:"time"`
	Message string    `json:"message" cbor:"message"`
}

// Notification is the body posted to the notification endpoint.
type Notification struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	SenderID int    `json:"userId"`
}
