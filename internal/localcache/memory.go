package localcache

import (
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/DoyleJ11/play-tracker/internal/tally"
)

// Memory has the same contract as File but forgets everything on exit.
type Memory struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	snapshot *tally.Snapshot
	room     string
	saves    int
}

func NewMemory(clock clockwork.Clock) *Memory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Memory{clock: clock}
}

func (m *Memory) Load() tally.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshot == nil {
		return tally.NewDefault(m.clock.Now())
	}
	return *m.snapshot
}

func (m *Memory) Save(s tally.Snapshot) (tally.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s = tally.Normalize(s)
	s.LastUpdated = m.clock.Now().UnixMilli()
	m.snapshot = &s
	m.saves++
	return s, nil
}

// Saves counts successful Save calls.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *Memory) LastRoom() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.room
}

func (m *Memory) SetLastRoom(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.room = id
	return nil
}

func (m *Memory) ClearLastRoom() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.room = ""
	return nil
}
