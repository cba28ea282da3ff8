package events

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"smilecam/internal/types"
)

// JournalMagic opens every journal file. Each record that follows is a
// little-endian header (unix nanos uint64, payload length uint32) and a CBOR
// encoded types.Event.
const JournalMagic = "SMILEJ01"

var ErrBadMagic = errors.New("not an event journal")

type Journal struct {
	path string

	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

func OpenJournal(dir string, prefix string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	timestamp := time.Now().Format("20060102_150405")
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.bin", timestamp, prefix))
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriterSize(f, 64*1024)
	if _, err := w.WriteString(JournalMagic); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Journal{path: path, f: f, w: w}, nil
}

func (j *Journal) Path() string {
	return j.path
}

func (j *Journal) Name() string {
	return "journal"
}

func (j *Journal) Handle(_ context.Context, ev types.Event) error {
	payload, err := cbor.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return j.Record(ev.Time, payload)
}

func (j *Journal) Record(ts time.Time, payload []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.w == nil {
		return fmt.Errorf("journal is closed")
	}
	var header [12]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(ts.UnixNano()))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(payload)))
	if _, err := j.w.Write(header[:]); err != nil {
		return err
	}
	if _, err := j.w.Write(payload); err != nil {
		return err
	}
	return j.w.Flush()
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.w == nil {
		return nil
	}
	if err := j.w.Flush(); err != nil {
		_ = j.f.Close()
		j.w = nil
		return err
	}
	err := j.f.Close()
	j.w = nil
	return err
}

type Record struct {
	Time  time.Time
	Size  int
	Event types.Event
}

// ReadJournal calls fn for every record in r. It stops at the first read,
// decode or callback error.
func ReadJournal(r io.Reader, fn func(Record) error) error {
	br := bufio.NewReader(r)
	magic := make([]byte, len(JournalMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return fmt.Errorf("read magic: %w", err)
	}
	if string(magic) != JournalMagic {
		return fmt.Errorf("%w: magic %q", ErrBadMagic, string(magic))
	}

	for {
		var header [12]byte
		if _, err := io.ReadFull(br, header[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read record header: %w", err)
		}
		ts := int64(binary.LittleEndian.Uint64(header[:8]))
		size := binary.LittleEndian.Uint32(header[8:12])
		payload := make([]byte, size)
		if _, err := io.ReadFull(br, payload); err != nil {
			return fmt.Errorf("read payload: %w", err)
		}
		var ev types.Event
		if err := cbor.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := fn(Record{Time: time.Unix(0, ts), Size: int(size), Event: ev}); err != nil {
			return err
		}
	}
}
