package localcache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/DoyleJ11/play-tracker/internal/tally"
)

const (
	snapshotFile = "snapshot.json"
	roomFile     = "room"
)

// File keeps the device's snapshot and last joined room in a directory.
// Single device, single writer: the mutex only guards goroutines of one process.
type File struct {
	mu    sync.Mutex
	dir   string
	clock clockwork.Clock
	log   *zap.Logger
}

func NewFile(dir string, clock clockwork.Clock, log *zap.Logger) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &File{dir: dir, clock: clock, log: log}, nil
}

// Load returns the stored snapshot, or a fresh default when nothing usable
// is stored. Corrupt data is logged and treated as absent.
func (f *File) Load() tally.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := filepath.Join(f.dir, snapshotFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.log.Warn("read local snapshot", zap.String("path", path), zap.Error(err))
		}
		return tally.NewDefault(f.clock.Now())
	}
	s, err := tally.Decode(data)
	if err != nil {
		f.log.Warn("discarding malformed local snapshot", zap.String("path", path), zap.Error(err))
		return tally.NewDefault(f.clock.Now())
	}
	return s
}

// Save overwrites the stored snapshot, stamping LastUpdated.
func (f *File) Save(s tally.Snapshot) (tally.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s = tally.Normalize(s)
	s.LastUpdated = f.clock.Now().UnixMilli()
	data, err := s.MarshalBinary()
	if err != nil {
		return s, fmt.Errorf("encode local snapshot: %w", err)
	}
	if err := writeAtomic(filepath.Join(f.dir, snapshotFile), data); err != nil {
		return s, err
	}
	return s, nil
}

func (f *File) LastRoom() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(f.dir, roomFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (f *File) SetLastRoom(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return writeAtomic(filepath.Join(f.dir, roomFile), []byte(id+"\n"))
}

func (f *File) ClearLastRoom() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Remove(filepath.Join(f.dir, roomFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear last room: %w", err)
	}
	return nil
}

// writeAtomic replaces path so readers see either the old or the new content.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
