package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"

	"github.com/DoyleJ11/play-tracker/internal/config"
	"github.com/DoyleJ11/play-tracker/internal/localcache"
	"github.com/DoyleJ11/play-tracker/internal/logging"
	"github.com/DoyleJ11/play-tracker/internal/roomclient"
	"github.com/DoyleJ11/play-tracker/internal/stopwatch"
	"github.com/DoyleJ11/play-tracker/internal/tally"
	"github.com/DoyleJ11/play-tracker/internal/tracker"
)

func main() {
	ephemeral := flag.Bool("ephemeral", false, "keep data in memory only")
	flag.Parse()

	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatalf("load .env: %v", err)
	}
	cfg := config.LoadClient()

	logger, err := logging.New(cfg.LogLevel, true)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	var local tracker.LocalStore
	if *ephemeral {
		local = localcache.NewMemory(nil)
	} else {
		file, err := localcache.NewFile(cfg.DataDir, nil, logger)
		if err != nil {
			logger.Fatal("open data dir", zap.String("dir", cfg.DataDir), zap.Error(err))
		}
		local = file
	}

	a := &app{
		sw:   stopwatch.New(nil),
		now:  time.Now,
		live: isatty.IsTerminal(os.Stdout.Fd()),
		out:  os.Stdout,
	}
	a.ctrl = tracker.New(local, roomclient.New(cfg.ServerURL, cfg.Timeout),
		tracker.WithLogger(logger),
		tracker.WithPollInterval(cfg.PollInterval),
		tracker.OnChange(a.changed),
	)
	defer a.ctrl.Close()
	a.sw.OnTick(cfg.TickInterval, a.tick)

	ctx := context.Background()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		a.saveRunning(logger, cfg.Timeout)
		a.ctrl.Close()
		os.Exit(130)
	}()

	if id, err := a.ctrl.Resume(ctx); err != nil {
		switch {
		case errors.Is(err, tracker.ErrRoomNotFound):
			fmt.Println("Last room no longer exists, using local data.")
		default:
			fmt.Printf("Could not rejoin last room: %v\n", err)
		}
	} else if id != "" {
		fmt.Printf("Rejoined room %s\n", id)
	}
	fmt.Println(`Play tracker. Type "help" for commands.`)

	if err := a.loop(ctx, os.Stdin); err != nil {
		logger.Error("read input", zap.Error(err))
	}
	a.saveRunning(logger, cfg.Timeout)
}

// saveRunning records a session that is still on the clock when the program
// exits.
func (a *app) saveRunning(logger *zap.Logger, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if d, err := a.ctrl.RecordStop(ctx, a.sw); err != nil {
		logger.Error("save running session", zap.Error(err))
	} else if d > 0 {
		a.printf("saved running session (%s)\n", tally.FormatTime(d.Milliseconds()))
	}
}
