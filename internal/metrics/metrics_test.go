package metrics

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestSnapshotReflectsCounters(t *testing.T) {
	var m Counters
	m.FramesStreamed.Add(3)
	m.Smiles.Add(1)
	m.Viewers.Add(1)
	m.Viewers.Add(-1)

	snap := m.Snapshot()
	if snap["frames_streamed_total"].(uint64) != 3 {
		t.Fatalf("unexpected frames_streamed_total: %v", snap["frames_streamed_total"])
	}
	if snap["smiles_total"].(uint64) != 1 {
		t.Fatalf("unexpected smiles_total: %v", snap["smiles_total"])
	}
	if snap["viewers"].(int64) != 0 {
		t.Fatalf("unexpected viewers: %v", snap["viewers"])
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestLogEveryWritesInfoLines(t *testing.T) {
	var m Counters
	m.Faces.Add(4)
	logs := &lockedBuffer{}
	logger := zerolog.New(logs).Level(zerolog.InfoLevel)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.LogEvery(ctx, logger, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(logs.String(), "\n") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	line, _, _ := strings.Cut(logs.String(), "\n")
	var entry struct {
		Level   string         `json:"level"`
		Message string         `json:"message"`
		Metrics map[string]any `json:"metrics"`
	}
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("decode %q: %v", line, err)
	}
	if entry.Level != "info" || entry.Message != "metrics" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.Metrics["faces_total"].(float64) != 4 {
		t.Fatalf("unexpected faces_total: %v", entry.Metrics["faces_total"])
	}
}
