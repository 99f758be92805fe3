package tally

import (
	"encoding/json"
	"math"
	"strings"
)

// wire mirrors the JSON shape loosely so that short, long or float-valued
// input can be repaired instead of rejected.
type wireSnapshot struct {
	Players     []wirePlayer `json:"players"`
	LastUpdated float64      `json:"lastUpdated"`
}

type wirePlayer struct {
	Name string    `json:"name"`
	Days []float64 `json:"days"`
}

// UnmarshalJSON accepts any snapshot-like object and normalizes it: players
// are padded or truncated to PlayerCount, days to DayCount, cells are
// truncated to whole milliseconds and clamped at zero.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var w wireSnapshot
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var out Snapshot
	for i := range out.Players {
		if i >= len(w.Players) {
			continue
		}
		out.Players[i].Name = w.Players[i].Name
		for d := range out.Players[i].Days {
			if d < len(w.Players[i].Days) {
				out.Players[i].Days[d] = toMillis(w.Players[i].Days[d])
			}
		}
	}
	out.LastUpdated = toMillis(w.LastUpdated)
	*s = Normalize(out)
	return nil
}

func (s Snapshot) MarshalBinary() ([]byte, error) {
	return json.Marshal(s)
}

func (s *Snapshot) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, s)
}

// Decode parses a snapshot from JSON. Only syntactically invalid input or
// wrongly typed fields fail; shape problems are repaired.
func Decode(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

// Normalize fixes names and cells of a snapshot built outside this package.
func Normalize(s Snapshot) Snapshot {
	for i := range s.Players {
		name := strings.TrimSpace(s.Players[i].Name)
		if name == "" {
			name = DefaultName(i)
		}
		s.Players[i].Name = name
		for d, ms := range s.Players[i].Days {
			if ms < 0 {
				s.Players[i].Days[d] = 0
			}
		}
	}
	if s.LastUpdated < 0 {
		s.LastUpdated = 0
	}
	return s
}

func toMillis(v float64) int64 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(math.Trunc(v))
}
