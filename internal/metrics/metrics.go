package metrics

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Counters is shared by the pipeline, the dispatcher and the HTTP surface.
type Counters struct {
	FramesCaptured      atomic.Uint64
	FramesStreamed      atomic.Uint64
	EncodeErrors        atomic.Uint64
	Faces               atomic.Uint64
	Smiles              atomic.Uint64
	EventsPublished     atomic.Uint64
	EventsDropped       atomic.Uint64
	SinkErrors          atomic.Uint64
	NotificationsOK     atomic.Uint64
	NotificationsFailed atomic.Uint64
	DetectNanos         atomic.Uint64
	Viewers             atomic.Int64
	ViewersRejected     atomic.Uint64
}

func (m *Counters) Snapshot() map[string]any {
	return map[string]any{
		"frames_captured_total":      m.FramesCaptured.Load(),
		"frames_streamed_total":      m.FramesStreamed.Load(),
		"encode_errors_total":        m.EncodeErrors.Load(),
		"faces_total":                m.Faces.Load(),
		"smiles_total":               m.Smiles.Load(),
		"events_published_total":     m.EventsPublished.Load(),
		"events_dropped_total":       m.EventsDropped.Load(),
		"sink_errors_total":          m.SinkErrors.Load(),
		"notifications_ok_total":     m.NotificationsOK.Load(),
		"notifications_failed_total": m.NotificationsFailed.Load(),
		"detect_nanos_total":         m.DetectNanos.Load(),
		"viewers":                    m.Viewers.Load(),
		"viewers_rejected_total":     m.ViewersRejected.Load(),
	}
}

// LogEvery writes the snapshot as one info line per interval until ctx ends.
func (m *Counters) LogEvery(ctx context.Context, log zerolog.Logger, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Info().Interface("metrics", m.Snapshot()).Msg("metrics")
		}
	}
}
