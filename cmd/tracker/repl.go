package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/DoyleJ11/play-tracker/internal/export"
	"github.com/DoyleJ11/play-tracker/internal/stopwatch"
	"github.com/DoyleJ11/play-tracker/internal/tally"
	"github.com/DoyleJ11/play-tracker/internal/tracker"
	"github.com/DoyleJ11/play-tracker/pkg/types"
)

const helpText = `commands:
  start | pause | stop | reset    control the stopwatch; stop adds the time
  player N                        select player N (1-5)
  rename N NAME                   rename player N; empty NAME restores the default
  show                            print this week's times
  create | join ID | leave        shared rooms
  sync                            check the room for newer data now
  clear                           reset every player
  export [FILE]                   write a CSV report
  help | quit`

type app struct {
	ctrl *tracker.Controller
	sw   *stopwatch.Stopwatch
	now  func() time.Time
	live bool // redraw the prompt on ticks

	mu         sync.Mutex
	out        io.Writer
	lastSecond int64
}

func (a *app) printf(format string, args ...any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fmt.Fprintf(a.out, format, args...)
}

func (a *app) prompt() string {
	status := fmt.Sprintf("%s %s", tally.FormatTime(a.sw.Elapsed().Milliseconds()), a.sw.State())
	if room := a.ctrl.ActiveRoom(); room != "" {
		status += " @" + room
	}
	return fmt.Sprintf("[P%d %s] > ", a.ctrl.CurrentPlayer()+1, status)
}

// tick redraws the prompt line whenever the running time reaches a new second.
func (a *app) tick(elapsed time.Duration) {
	if !a.live {
		return
	}
	sec := int64(elapsed / time.Second)
	a.mu.Lock()
	if sec == a.lastSecond {
		a.mu.Unlock()
		return
	}
	a.lastSecond = sec
	a.mu.Unlock()
	a.printf("\r\033[K%s", a.prompt())
}

// changed reports a snapshot pulled from the room by the poller.
func (a *app) changed(tally.Snapshot) {
	a.printf("\r\033[Kroom updated from another device\n%s", a.prompt())
}

func (a *app) loop(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	for {
		a.printf("%s", a.prompt())
		if !sc.Scan() {
			a.printf("\n")
			return sc.Err()
		}
		if quit := a.exec(ctx, sc.Text()); quit {
			return nil
		}
	}
}

// exec runs one command line and reports whether the user asked to quit.
func (a *app) exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "start":
		a.sw.Start()
	case "pause":
		a.sw.Pause()
	case "stop":
		d, err := a.ctrl.RecordStop(ctx, a.sw)
		switch {
		case err != nil:
			a.printf("could not save time: %v\n", err)
		case d == 0:
			a.printf("stopwatch is not running\n")
		default:
			a.printf("added %s to %s\n", tally.FormatTime(d.Milliseconds()), a.playerName(a.ctrl.CurrentPlayer()))
		}
	case "reset":
		a.sw.Reset()
	case "player":
		n, ok := a.playerArg(args)
		if !ok {
			return false
		}
		_ = a.ctrl.SelectPlayer(n)
		a.printf("selected %s\n", a.playerName(n))
	case "rename":
		n, ok := a.playerArg(args)
		if !ok {
			return false
		}
		if _, err := a.ctrl.RenamePlayer(ctx, n, strings.Join(args[1:], " ")); err != nil {
			a.printf("rename failed: %v\n", err)
			return false
		}
		a.printf("player %d is now %s\n", n+1, a.playerName(n))
	case "show":
		a.show()
	case "create":
		id, _, err := a.ctrl.CreateRoom(ctx)
		if err != nil {
			a.printf("Failed to create room: %v\n", err)
			return false
		}
		a.printf("created and joined room %s\n", id)
	case "join":
		if len(args) != 1 {
			a.printf("usage: join ID\n")
			return false
		}
		a.join(ctx, args[0])
	case "leave":
		if a.ctrl.ActiveRoom() == "" {
			a.printf("not in a room\n")
			return false
		}
		if err := a.ctrl.LeaveRoom(); err != nil {
			a.printf("left room, but could not forget it: %v\n", err)
			return false
		}
		a.printf("left room, using local data\n")
	case "sync":
		if a.ctrl.ActiveRoom() == "" {
			a.printf("not in a room\n")
			return false
		}
		changed, err := a.ctrl.SyncNow(ctx)
		switch {
		case err != nil:
			a.printf("sync failed: %v\n", err)
		case changed:
			a.printf("pulled newer data\n")
		default:
			a.printf("already up to date\n")
		}
	case "clear":
		if _, err := a.ctrl.Clear(ctx); err != nil {
			a.printf("clear failed: %v\n", err)
			return false
		}
		a.printf("all data cleared\n")
	case "export":
		name := export.FileName(a.now())
		if len(args) > 0 {
			name = args[0]
		}
		if err := a.export(name); err != nil {
			a.printf("export failed: %v\n", err)
			return false
		}
		a.printf("wrote %s\n", name)
	case "help", "?":
		a.printf("%s\n", helpText)
	case "quit", "exit":
		return true
	default:
		a.printf("unknown command %q, try help\n", cmd)
	}
	return false
}

func (a *app) join(ctx context.Context, id string) {
	snap, err := a.ctrl.JoinRoom(ctx, id)
	switch {
	case errors.Is(err, tracker.ErrRoomNotFound):
		a.printf("Room not found. Please check the room ID.\n")
	case errors.Is(err, types.ErrInvalidRoomID):
		a.printf("Room IDs are %d letters or digits.\n", types.RoomIDLength)
	case err != nil:
		a.printf("Error joining room. Please try again. (%v)\n", err)
	default:
		a.printf("joined room %s (%s total)\n", a.ctrl.ActiveRoom(), tally.FormatTime(sum(tally.Totals(snap))))
	}
}

func (a *app) playerArg(args []string) (int, bool) {
	if len(args) == 0 {
		a.printf("missing player number (1-%d)\n", tally.PlayerCount)
		return 0, false
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 || n > tally.PlayerCount {
		a.printf("player must be 1-%d\n", tally.PlayerCount)
		return 0, false
	}
	return n - 1, true
}

func (a *app) playerName(i int) string {
	return a.ctrl.CurrentSnapshot().Players[i].Name
}

func (a *app) show() {
	s := a.ctrl.CurrentSnapshot()
	today := tally.DayIndex(a.now())

	var b strings.Builder
	fmt.Fprintf(&b, "%-16s", "")
	for i, day := range tally.DayNames {
		label := day[:3]
		if i == today {
			label += "*"
		}
		fmt.Fprintf(&b, " %-9s", label)
	}
	fmt.Fprintf(&b, " %s\n", "Total")
	for i, p := range s.Players {
		marker := " "
		if i == a.ctrl.CurrentPlayer() {
			marker = ">"
		}
		fmt.Fprintf(&b, "%s%-15s", marker, p.Name)
		for _, ms := range p.Days {
			fmt.Fprintf(&b, " %-9s", tally.FormatTime(ms))
		}
		fmt.Fprintf(&b, " %s\n", tally.FormatTime(p.Total()))
	}
	a.printf("%s", b.String())
}

func (a *app) export(name string) (err error) {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return export.WriteCSV(f, a.ctrl.CurrentSnapshot())
}

func sum(totals [tally.PlayerCount]int64) int64 {
	var n int64
	for _, t := range totals {
		n += t
	}
	return n
}
