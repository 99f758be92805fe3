package tally

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrPlayerIndex = errors.New("player index out of range")
var ErrNegativeDuration = errors.New("negative duration")

const (
	PlayerCount = 5
	DayCount    = 7
)

// DayNames are indexed the same way as Player.Days.
var DayNames = [DayCount]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// ConsistencyModel names how concurrent writers to the same room are reconciled.
type ConsistencyModel string

const (
	// LastWriteWins: every write replaces the whole snapshot. Two devices
	// adding time to the same room concurrently can lose one increment.
	LastWriteWins ConsistencyModel = "last-write-wins"
)

type Player struct {
	Name string          `json:"name"`
	Days [DayCount]int64 `json:"days"` // milliseconds, Monday first
}

// Total is the week's accumulated time in milliseconds.
func (p Player) Total() int64 {
	var sum int64
	for _, ms := range p.Days {
		sum += ms
	}
	return sum
}

// Snapshot is a value type: copying it copies every cell.
type Snapshot struct {
	Players     [PlayerCount]Player `json:"players"`
	LastUpdated int64               `json:"lastUpdated"` // unix millis
}

func DefaultName(index int) string {
	return fmt.Sprintf("Player %d", index+1)
}

func NewDefault(now time.Time) Snapshot {
	var s Snapshot
	for i := range s.Players {
		s.Players[i].Name = DefaultName(i)
	}
	s.LastUpdated = now.UnixMilli()
	return s
}

// Clear drops every recorded cell and restores default names.
func Clear(now time.Time) Snapshot {
	return NewDefault(now)
}

// DayIndex maps t's weekday in its own location to a Monday-first slot.
func DayIndex(t time.Time) int {
	wd := t.Weekday()
	if wd == time.Sunday {
		return 6
	}
	return int(wd) - 1
}

func AddTime(s Snapshot, playerIndex int, d time.Duration, now time.Time) (Snapshot, error) {
	if !validIndex(playerIndex) {
		return s, fmt.Errorf("%w: %d", ErrPlayerIndex, playerIndex)
	}
	if d < 0 {
		return s, ErrNegativeDuration
	}
	next := s
	next.Players[playerIndex].Days[DayIndex(now)] += d.Milliseconds()
	next.LastUpdated = now.UnixMilli()
	return next, nil
}

func RenamePlayer(s Snapshot, playerIndex int, name string, now time.Time) (Snapshot, error) {
	if !validIndex(playerIndex) {
		return s, fmt.Errorf("%w: %d", ErrPlayerIndex, playerIndex)
	}
	next := s
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName(playerIndex)
	}
	next.Players[playerIndex].Name = name
	next.LastUpdated = now.UnixMilli()
	return next, nil
}

// Totals returns each player's weekly sum.
func Totals(s Snapshot) [PlayerCount]int64 {
	var out [PlayerCount]int64
	for i, p := range s.Players {
		out[i] = p.Total()
	}
	return out
}

// FormatTime renders milliseconds as HH:MM:SS. Hours are not capped at 24.
func FormatTime(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	total := ms / 1000
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

func validIndex(i int) bool {
	return i >= 0 && i < PlayerCount
}
