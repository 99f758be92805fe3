// Package tracker reconciles the local cache with an optional shared room.
//
// While a room is active every commit goes to the room server and a poller
// pulls newer snapshots written by other devices. When the server cannot be
// reached, commits land in the local cache instead so recorded time is never
// dropped. Concurrent writers to one room follow tally.LastWriteWins.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/DoyleJ11/play-tracker/internal/tally"
	"github.com/DoyleJ11/play-tracker/pkg/types"
)

var ErrRoomNotFound = errors.New("room not found")
var ErrJoinFailed = errors.New("could not join room")
var ErrCreateFailed = errors.New("could not create room")

const DefaultPollInterval = 5 * time.Second

// LocalStore is the device-local snapshot plus the last joined room.
type LocalStore interface {
	Load() tally.Snapshot
	Save(s tally.Snapshot) (tally.Snapshot, error)
	LastRoom() string
	SetLastRoom(id string) error
	ClearLastRoom() error
}

// RoomBackend is the client side of the room server.
type RoomBackend interface {
	CreateRoom(ctx context.Context) (string, error)
	RoomExists(ctx context.Context, id string) (bool, error)
	GetSnapshot(ctx context.Context, id string) (tally.Snapshot, error)
	PutSnapshot(ctx context.Context, id string, s tally.Snapshot) (tally.Snapshot, error)
	SyncCheck(ctx context.Context, id string, watermark int64) (types.SyncResponse, error)
}

// Stopper is the part of a stopwatch RecordStop needs.
type Stopper interface {
	Stop() (time.Duration, bool)
}

type Option func(*Controller)

func WithClock(clock clockwork.Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Controller) { c.log = log }
}

func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.pollEvery = d
		}
	}
}

// OnChange is called, outside any lock, after a poll replaced the cached room
// snapshot.
func OnChange(fn func(tally.Snapshot)) Option {
	return func(c *Controller) { c.onChange = fn }
}

type Controller struct {
	local     LocalStore
	remote    RoomBackend
	clock     clockwork.Clock
	log       *zap.Logger
	pollEvery time.Duration
	onChange  func(tally.Snapshot)

	// commitMu serializes read-modify-commit sequences and room transitions.
	commitMu sync.Mutex

	mu            sync.Mutex
	activeRoom    string
	watermark     int64
	cached        tally.Snapshot
	currentPlayer int
	pollCancel    context.CancelFunc
	pollDone      chan struct{}
}

func New(local LocalStore, remote RoomBackend, opts ...Option) *Controller {
	c := &Controller{
		local:     local,
		remote:    remote,
		clock:     clockwork.NewRealClock(),
		log:       zap.NewNop(),
		pollEvery: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c
}

func (c *Controller) ConsistencyModel() tally.ConsistencyModel { return tally.LastWriteWins }

// ActiveRoom returns the joined room id, or "" in local mode.
func (c *Controller) ActiveRoom() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeRoom
}

// Watermark is the LastUpdated of the newest server snapshot seen for the
// active room.
func (c *Controller) Watermark() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watermark
}

// CurrentSnapshot returns the cached room snapshot while in a room and the
// local cache otherwise. It never touches the network.
func (c *Controller) CurrentSnapshot() tally.Snapshot {
	c.mu.Lock()
	if c.activeRoom != "" {
		s := c.cached
		c.mu.Unlock()
		return s
	}
	c.mu.Unlock()
	return c.local.Load()
}

// Commit writes s to the active room, or to the local cache when there is no
// room or the room server fails. A remote failure is logged, not returned.
func (c *Controller) Commit(ctx context.Context, s tally.Snapshot) (tally.Snapshot, error) {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()
	return c.commit(ctx, s)
}

func (c *Controller) commit(ctx context.Context, s tally.Snapshot) (tally.Snapshot, error) {
	room := c.ActiveRoom()
	if room != "" {
		saved, err := c.remote.PutSnapshot(ctx, room, s)
		if err == nil {
			c.mu.Lock()
			if c.activeRoom == room && saved.LastUpdated > c.watermark {
				c.cached = saved
				c.watermark = saved.LastUpdated
			}
			c.mu.Unlock()
			return saved, nil
		}
		c.log.Warn("room write failed, saving locally", zap.String("room_id", room), zap.Error(err))
	}

	saved, err := c.local.Save(s)
	if err != nil {
		return tally.Snapshot{}, fmt.Errorf("save local snapshot: %w", err)
	}
	if room != "" {
		// Keep showing what was written. The watermark stays on the last
		// server stamp so the next poll still compares against server time.
		c.mu.Lock()
		if c.activeRoom == room {
			c.cached = saved
		}
		c.mu.Unlock()
	}
	return saved, nil
}

// latest is the snapshot a modification starts from. In a room it refreshes
// from the server first, falling back to the cache.
func (c *Controller) latest(ctx context.Context) tally.Snapshot {
	room := c.ActiveRoom()
	if room == "" {
		return c.local.Load()
	}
	s, err := c.remote.GetSnapshot(ctx, room)
	if err != nil {
		c.log.Warn("room read failed, using cached snapshot", zap.String("room_id", room), zap.Error(err))
		return c.CurrentSnapshot()
	}
	c.apply(room, s, false)
	return c.CurrentSnapshot()
}

func (c *Controller) modify(ctx context.Context, fn func(tally.Snapshot, time.Time) (tally.Snapshot, error)) (tally.Snapshot, error) {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	next, err := fn(c.latest(ctx), c.clock.Now())
	if err != nil {
		return tally.Snapshot{}, err
	}
	return c.commit(ctx, next)
}

// AddTime adds d to today's cell of player.
func (c *Controller) AddTime(ctx context.Context, player int, d time.Duration) (tally.Snapshot, error) {
	return c.modify(ctx, func(s tally.Snapshot, now time.Time) (tally.Snapshot, error) {
		return tally.AddTime(s, player, d, now)
	})
}

func (c *Controller) RenamePlayer(ctx context.Context, player int, name string) (tally.Snapshot, error) {
	return c.modify(ctx, func(s tally.Snapshot, now time.Time) (tally.Snapshot, error) {
		return tally.RenamePlayer(s, player, name, now)
	})
}

// Clear resets every player to defaults in whichever store is active.
func (c *Controller) Clear(ctx context.Context) (tally.Snapshot, error) {
	return c.modify(ctx, func(_ tally.Snapshot, now time.Time) (tally.Snapshot, error) {
		return tally.Clear(now), nil
	})
}

// RecordStop stops sw and adds the elapsed time to the current player. It
// returns 0 when the stopwatch had nothing to stop.
func (c *Controller) RecordStop(ctx context.Context, sw Stopper) (time.Duration, error) {
	d, ok := sw.Stop()
	if !ok || d <= 0 {
		return 0, nil
	}
	player := c.CurrentPlayer()
	if _, err := c.AddTime(ctx, player, d); err != nil {
		return d, err
	}
	c.log.Info("time recorded", zap.Int("player", player), zap.Duration("elapsed", d))
	return d, nil
}

func (c *Controller) SelectPlayer(i int) error {
	if i < 0 || i >= tally.PlayerCount {
		return tally.ErrPlayerIndex
	}
	c.mu.Lock()
	c.currentPlayer = i
	c.mu.Unlock()
	return nil
}

func (c *Controller) CurrentPlayer() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentPlayer
}

// JoinRoom switches to an existing room. Nothing changes unless the room
// exists and its snapshot could be fetched.
func (c *Controller) JoinRoom(ctx context.Context, raw string) (tally.Snapshot, error) {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()
	return c.join(ctx, raw)
}

func (c *Controller) join(ctx context.Context, raw string) (tally.Snapshot, error) {
	id, err := types.NormalizeRoomID(raw)
	if err != nil {
		return tally.Snapshot{}, err
	}

	exists, err := c.remote.RoomExists(ctx, id)
	if err != nil {
		return tally.Snapshot{}, fmt.Errorf("%w: %w", ErrJoinFailed, err)
	}
	if !exists {
		return tally.Snapshot{}, ErrRoomNotFound
	}
	snap, err := c.remote.GetSnapshot(ctx, id)
	if err != nil {
		return tally.Snapshot{}, fmt.Errorf("%w: %w", ErrJoinFailed, err)
	}

	c.stopPoller()
	c.mu.Lock()
	c.activeRoom = id
	c.cached = snap
	c.watermark = snap.LastUpdated
	c.mu.Unlock()

	if err := c.local.SetLastRoom(id); err != nil {
		c.log.Warn("remember room", zap.String("room_id", id), zap.Error(err))
	}
	c.startPoller(id)
	c.log.Info("joined room", zap.String("room_id", id), zap.Int64("last_updated", snap.LastUpdated))
	return snap, nil
}

// CreateRoom asks the server for a fresh room and joins it.
func (c *Controller) CreateRoom(ctx context.Context) (string, tally.Snapshot, error) {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	id, err := c.remote.CreateRoom(ctx)
	if err != nil {
		return "", tally.Snapshot{}, fmt.Errorf("%w: %w", ErrCreateFailed, err)
	}
	snap, err := c.join(ctx, id)
	if err != nil {
		return "", tally.Snapshot{}, fmt.Errorf("%w: %w", ErrCreateFailed, err)
	}
	return id, snap, nil
}

// LeaveRoom returns to local mode and forgets the last room.
func (c *Controller) LeaveRoom() error {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	c.stopPoller()
	c.mu.Lock()
	room := c.activeRoom
	c.activeRoom = ""
	c.cached = tally.Snapshot{}
	c.watermark = 0
	c.mu.Unlock()

	if room != "" {
		c.log.Info("left room", zap.String("room_id", room))
	}
	return c.local.ClearLastRoom()
}

// Resume rejoins the room remembered by the local cache. A room that no
// longer exists is forgotten; a transport failure keeps it for next time.
func (c *Controller) Resume(ctx context.Context) (string, error) {
	id := c.local.LastRoom()
	if id == "" {
		return "", nil
	}
	if _, err := c.JoinRoom(ctx, id); err != nil {
		if errors.Is(err, ErrRoomNotFound) || errors.Is(err, types.ErrInvalidRoomID) {
			if cerr := c.local.ClearLastRoom(); cerr != nil {
				c.log.Warn("forget room", zap.String("room_id", id), zap.Error(cerr))
			}
		}
		return "", err
	}
	return c.ActiveRoom(), nil
}

// SyncNow runs one poll step and reports whether the cache changed.
func (c *Controller) SyncNow(ctx context.Context) (bool, error) {
	room := c.ActiveRoom()
	if room == "" {
		return false, nil
	}
	return c.pollOnce(ctx, room)
}

// Close stops the poller. The controller stays usable in its current mode.
func (c *Controller) Close() {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()
	c.stopPoller()
}

func (c *Controller) startPoller(room string) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	ticker := c.clock.NewTicker(c.pollEvery)

	c.mu.Lock()
	c.pollCancel = cancel
	c.pollDone = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				_, _ = c.pollOnce(ctx, room)
			}
		}
	}()
}

// stopPoller cancels the running poller, if any, and waits for it to exit.
func (c *Controller) stopPoller() {
	c.mu.Lock()
	cancel, done := c.pollCancel, c.pollDone
	c.pollCancel, c.pollDone = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *Controller) pollOnce(ctx context.Context, room string) (bool, error) {
	c.mu.Lock()
	active, watermark := c.activeRoom, c.watermark
	c.mu.Unlock()
	if active != room {
		return false, nil
	}

	res, err := c.remote.SyncCheck(ctx, room, watermark)
	if err != nil {
		if ctx.Err() == nil {
			c.log.Warn("room sync failed", zap.String("room_id", room), zap.Error(err))
		}
		return false, err
	}
	if !res.NeedsUpdate || res.Data == nil {
		return false, nil
	}
	return c.apply(room, *res.Data, true), nil
}

// apply adopts s as the room snapshot when it is strictly newer than the
// watermark and room is still active.
func (c *Controller) apply(room string, s tally.Snapshot, notify bool) bool {
	c.mu.Lock()
	if c.activeRoom != room || s.LastUpdated <= c.watermark {
		c.mu.Unlock()
		return false
	}
	c.cached = s
	c.watermark = s.LastUpdated
	fn := c.onChange
	c.mu.Unlock()

	if notify && fn != nil {
		fn(s)
	}
	return true
}
