// Package export renders a snapshot as a weekly CSV report.
package export

import (
	"bufio"
	"io"
	"strings"
	"time"

	"github.com/DoyleJ11/play-tracker/internal/tally"
)

// Header is the first line of every report.
var Header = "Player," + strings.Join(tally.DayNames[:], ",") + ",Total"

// WriteCSV writes one row per player: the quoted name, HH:MM:SS per day and
// the weekly total. Names are always quoted, which encoding/csv does not do.
func WriteCSV(w io.Writer, s tally.Snapshot) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(Header)
	bw.WriteByte('\n')

	for _, p := range s.Players {
		bw.WriteString(quote(p.Name))
		for _, ms := range p.Days {
			bw.WriteByte(',')
			bw.WriteString(tally.FormatTime(ms))
		}
		bw.WriteByte(',')
		bw.WriteString(tally.FormatTime(p.Total()))
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// FileName is the report name for the UTC date of t.
func FileName(t time.Time) string {
	return "play-tracker-" + t.UTC().Format(time.DateOnly) + ".csv"
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
