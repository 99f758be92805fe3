package tracker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/play-tracker/internal/localcache"
	"github.com/DoyleJ11/play-tracker/internal/rooms"
	"github.com/DoyleJ11/play-tracker/internal/stopwatch"
	"github.com/DoyleJ11/play-tracker/internal/tally"
	"github.com/DoyleJ11/play-tracker/pkg/types"
)

var start = time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)

var errDown = errors.New("connection refused")

// hubBackend serves RoomBackend from an in-memory room hub, with failure and
// sync hooks for tests.
type hubBackend struct {
	hub   *rooms.Hub
	syncs chan string

	mu       sync.Mutex
	err      error
	syncHook func(id string, watermark int64) types.SyncResponse
}

func newHubBackend(t *testing.T) *hubBackend {
	t.Helper()
	hub := rooms.NewHub(context.Background(), clockwork.NewFakeClockAt(start))
	t.Cleanup(func() { _ = hub.Close() })
	return &hubBackend{hub: hub, syncs: make(chan string, 16)}
}

func (b *hubBackend) setErr(err error) {
	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
}

func (b *hubBackend) failure() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *hubBackend) CreateRoom(ctx context.Context) (string, error) {
	if err := b.failure(); err != nil {
		return "", err
	}
	id, _, err := b.hub.Create(ctx)
	return id, err
}

func (b *hubBackend) RoomExists(ctx context.Context, id string) (bool, error) {
	if err := b.failure(); err != nil {
		return false, err
	}
	return b.hub.Exists(ctx, id)
}

func (b *hubBackend) GetSnapshot(ctx context.Context, id string) (tally.Snapshot, error) {
	if err := b.failure(); err != nil {
		return tally.Snapshot{}, err
	}
	return b.hub.Get(ctx, id)
}

func (b *hubBackend) PutSnapshot(ctx context.Context, id string, s tally.Snapshot) (tally.Snapshot, error) {
	if err := b.failure(); err != nil {
		return tally.Snapshot{}, err
	}
	return b.hub.Put(ctx, id, s)
}

func (b *hubBackend) SyncCheck(ctx context.Context, id string, watermark int64) (types.SyncResponse, error) {
	select {
	case b.syncs <- id:
	default:
	}
	if err := b.failure(); err != nil {
		return types.SyncResponse{}, err
	}
	b.mu.Lock()
	hook := b.syncHook
	b.mu.Unlock()
	if hook != nil {
		return hook(id, watermark), nil
	}
	res, err := b.hub.Sync(ctx, id, watermark)
	return types.SyncResponse{NeedsUpdate: res.NeedsUpdate, Data: res.Snapshot}, err
}

func newController(t *testing.T, backend RoomBackend, opts ...Option) (*Controller, *localcache.Memory, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(start)
	local := localcache.NewMemory(clock)
	c := New(local, backend, append([]Option{WithClock(clock)}, opts...)...)
	t.Cleanup(c.Close)
	return c, local, clock
}

func today(s tally.Snapshot, player int) int64 {
	return s.Players[player].Days[tally.DayIndex(start)]
}

func recvSync(t *testing.T, ch <-chan string, within time.Duration) string {
	t.Helper()
	select {
	case id := <-ch:
		return id
	case <-time.After(within):
		t.Fatalf("timed out waiting for sync check")
		return ""
	}
}

func recvNoSync(t *testing.T, ch <-chan string, within time.Duration) {
	t.Helper()
	select {
	case id := <-ch:
		t.Fatalf("expected no sync check within %v, got one for %s", within, id)
	case <-time.After(within):
	}
}

func TestController_LocalModeUsesCache(t *testing.T) {
	backend := newHubBackend(t)
	c, local, _ := newController(t, backend)

	saved, err := c.AddTime(context.Background(), 2, 90*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(90000), today(saved, 2))
	assert.Equal(t, 1, local.Saves())
	assert.Equal(t, saved, c.CurrentSnapshot())
	assert.Equal(t, "", c.ActiveRoom())
}

func TestController_CommitAdoptsServerStamp(t *testing.T) {
	backend := newHubBackend(t)
	c, local, _ := newController(t, backend)
	ctx := context.Background()

	_, joined, err := c.CreateRoom(ctx)
	require.NoError(t, err)

	saved, err := c.AddTime(ctx, 0, 90*time.Second)
	require.NoError(t, err)
	assert.Greater(t, saved.LastUpdated, joined.LastUpdated)
	assert.Equal(t, saved.LastUpdated, c.Watermark())
	assert.Equal(t, saved, c.CurrentSnapshot())
	assert.Equal(t, 0, local.Saves(), "room writes must not touch the local cache")
}

func TestController_CommitFallsBackToLocalCache(t *testing.T) {
	backend := newHubBackend(t)
	c, local, _ := newController(t, backend)
	ctx := context.Background()

	id, joined, err := c.CreateRoom(ctx)
	require.NoError(t, err)

	backend.setErr(errDown)
	saved, err := c.AddTime(ctx, 1, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(30000), today(saved, 1))
	assert.Equal(t, 1, local.Saves())
	assert.Equal(t, int64(30000), today(local.Load(), 1))

	assert.Equal(t, id, c.ActiveRoom(), "a failed write keeps the room")
	assert.Equal(t, joined.LastUpdated, c.Watermark())
	assert.Equal(t, int64(30000), today(c.CurrentSnapshot(), 1))

	// Once the server is back, the next write carries the fallback time.
	backend.setErr(nil)
	saved, err = c.AddTime(ctx, 1, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(40000), today(saved, 1))
	remote, err := backend.hub.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, saved, remote)
}

func TestController_JoinMissingRoomChangesNothing(t *testing.T) {
	backend := newHubBackend(t)
	c, local, _ := newController(t, backend)
	ctx := context.Background()

	before, err := c.AddTime(ctx, 0, time.Second)
	require.NoError(t, err)

	_, err = c.JoinRoom(ctx, "ZZZZZZZZ")
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.Equal(t, "", c.ActiveRoom())
	assert.Equal(t, "", local.LastRoom())
	assert.Equal(t, before, c.CurrentSnapshot())

	ok, err := backend.hub.Exists(ctx, "ZZZZZZZZ")
	require.NoError(t, err)
	assert.False(t, ok, "looking for a room must not create it")
}

func TestController_JoinErrors(t *testing.T) {
	backend := newHubBackend(t)
	c, _, _ := newController(t, backend)
	ctx := context.Background()

	_, err := c.JoinRoom(ctx, "no")
	assert.ErrorIs(t, err, types.ErrInvalidRoomID)

	backend.setErr(errDown)
	_, err = c.JoinRoom(ctx, "AB12CD34")
	assert.ErrorIs(t, err, ErrJoinFailed)
	assert.ErrorIs(t, err, errDown)
	assert.Equal(t, "", c.ActiveRoom())

	_, _, err = c.CreateRoom(ctx)
	assert.ErrorIs(t, err, ErrCreateFailed)
	assert.Equal(t, "", c.ActiveRoom())
}

func TestController_JoinAcceptsLowerCase(t *testing.T) {
	backend := newHubBackend(t)
	id, _, err := backend.hub.Create(context.Background())
	require.NoError(t, err)

	c, local, _ := newController(t, backend)
	_, err = c.JoinRoom(context.Background(), "  "+strings.ToLower(id)+" ")
	require.NoError(t, err)
	assert.Equal(t, id, c.ActiveRoom())
	assert.Equal(t, id, local.LastRoom())
}

func TestController_SecondClientSeesWrite(t *testing.T) {
	backend := newHubBackend(t)
	ctx := context.Background()
	a, _, _ := newController(t, backend)
	b, _, _ := newController(t, backend)

	id, _, err := a.CreateRoom(ctx)
	require.NoError(t, err)
	_, err = b.JoinRoom(ctx, id)
	require.NoError(t, err)

	_, err = a.AddTime(ctx, 0, 90*time.Second)
	require.NoError(t, err)

	changed, err := b.SyncNow(ctx)
	require.NoError(t, err)
	require.True(t, changed)
	assert.Equal(t, int64(90000), today(b.CurrentSnapshot(), 0))

	changed, err = b.SyncNow(ctx)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestController_PollDiscardsStaleResult(t *testing.T) {
	backend := newHubBackend(t)
	c, _, _ := newController(t, backend)
	ctx := context.Background()

	_, _, err := c.CreateRoom(ctx)
	require.NoError(t, err)
	saved, err := c.AddTime(ctx, 0, time.Minute)
	require.NoError(t, err)

	stale := tally.NewDefault(start)
	stale.LastUpdated = saved.LastUpdated - 1
	backend.mu.Lock()
	backend.syncHook = func(string, int64) types.SyncResponse {
		return types.SyncResponse{NeedsUpdate: true, Data: &stale}
	}
	backend.mu.Unlock()

	changed, err := c.SyncNow(ctx)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, saved, c.CurrentSnapshot())
	assert.Equal(t, saved.LastUpdated, c.Watermark())
}

func TestController_PollDiscardsResultForPreviousRoom(t *testing.T) {
	backend := newHubBackend(t)
	c, _, _ := newController(t, backend)
	ctx := context.Background()

	first, _, err := c.CreateRoom(ctx)
	require.NoError(t, err)
	second, _, err := backend.hub.Create(ctx)
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	newer := tally.NewDefault(start.Add(time.Hour))
	newer.Players[0].Name = "Old room"
	backend.mu.Lock()
	backend.syncHook = func(id string, _ int64) types.SyncResponse {
		if id != first {
			return types.SyncResponse{}
		}
		close(entered)
		<-release
		return types.SyncResponse{NeedsUpdate: true, Data: &newer}
	}
	backend.mu.Unlock()

	type result struct {
		changed bool
		err     error
	}
	done := make(chan result, 1)
	go func() {
		changed, err := c.SyncNow(ctx)
		done <- result{changed, err}
	}()
	<-entered

	joined, err := c.JoinRoom(ctx, second)
	require.NoError(t, err)
	close(release)

	res := <-done
	require.NoError(t, res.err)
	assert.False(t, res.changed)
	assert.Equal(t, second, c.ActiveRoom())
	assert.Equal(t, joined, c.CurrentSnapshot())
}

func TestController_PollerPicksUpRemoteWrites(t *testing.T) {
	backend := newHubBackend(t)
	changes := make(chan tally.Snapshot, 4)
	c, _, clock := newController(t, backend,
		WithPollInterval(5*time.Second),
		OnChange(func(s tally.Snapshot) { changes <- s }),
	)
	ctx := context.Background()

	id, _, err := c.CreateRoom(ctx)
	require.NoError(t, err)

	other, err := tally.AddTime(tally.NewDefault(start), 4, 90*time.Second, start)
	require.NoError(t, err)
	remote, err := backend.hub.Put(ctx, id, other)
	require.NoError(t, err)

	clock.Advance(5 * time.Second)
	assert.Equal(t, id, recvSync(t, backend.syncs, time.Second))

	select {
	case s := <-changes:
		assert.Equal(t, remote, s)
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for change callback")
	}
	assert.Equal(t, remote, c.CurrentSnapshot())
	assert.Equal(t, remote.LastUpdated, c.Watermark())
}

func TestController_JoinReplacesPoller(t *testing.T) {
	backend := newHubBackend(t)
	c, _, clock := newController(t, backend, WithPollInterval(5*time.Second))
	ctx := context.Background()

	first, _, err := c.CreateRoom(ctx)
	require.NoError(t, err)
	second, _, err := backend.hub.Create(ctx)
	require.NoError(t, err)
	_, err = c.JoinRoom(ctx, second)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	clock.Advance(5 * time.Second)
	assert.Equal(t, second, recvSync(t, backend.syncs, time.Second))
	recvNoSync(t, backend.syncs, 50*time.Millisecond)
}

func TestController_PollErrorsAreNotFatal(t *testing.T) {
	backend := newHubBackend(t)
	c, _, _ := newController(t, backend)
	ctx := context.Background()

	id, joined, err := c.CreateRoom(ctx)
	require.NoError(t, err)

	backend.setErr(errDown)
	changed, err := c.SyncNow(ctx)
	assert.ErrorIs(t, err, errDown)
	assert.False(t, changed)
	assert.Equal(t, id, c.ActiveRoom())
	assert.Equal(t, joined, c.CurrentSnapshot())
}

func TestController_LeaveRoomReturnsToLocal(t *testing.T) {
	backend := newHubBackend(t)
	c, local, clock := newController(t, backend, WithPollInterval(5*time.Second))
	ctx := context.Background()

	_, _, err := c.CreateRoom(ctx)
	require.NoError(t, err)
	_, err = c.AddTime(ctx, 0, time.Minute)
	require.NoError(t, err)

	require.NoError(t, c.LeaveRoom())
	assert.Equal(t, "", c.ActiveRoom())
	assert.Equal(t, "", local.LastRoom())
	assert.Equal(t, local.Load(), c.CurrentSnapshot())
	assert.Equal(t, int64(0), today(c.CurrentSnapshot(), 0))

	clock.Advance(10 * time.Second)
	recvNoSync(t, backend.syncs, 50*time.Millisecond)
}

func TestController_Resume(t *testing.T) {
	ctx := context.Background()

	t.Run("rejoins remembered room", func(t *testing.T) {
		backend := newHubBackend(t)
		id, _, err := backend.hub.Create(ctx)
		require.NoError(t, err)
		c, local, _ := newController(t, backend)
		require.NoError(t, local.SetLastRoom(id))

		got, err := c.Resume(ctx)
		require.NoError(t, err)
		assert.Equal(t, id, got)
		assert.Equal(t, id, c.ActiveRoom())
	})

	t.Run("forgets missing room", func(t *testing.T) {
		backend := newHubBackend(t)
		c, local, _ := newController(t, backend)
		require.NoError(t, local.SetLastRoom("ZZZZZZZZ"))

		_, err := c.Resume(ctx)
		assert.ErrorIs(t, err, ErrRoomNotFound)
		assert.Equal(t, "", local.LastRoom())
	})

	t.Run("keeps room when server is down", func(t *testing.T) {
		backend := newHubBackend(t)
		backend.setErr(errDown)
		c, local, _ := newController(t, backend)
		require.NoError(t, local.SetLastRoom("AB12CD34"))

		_, err := c.Resume(ctx)
		assert.ErrorIs(t, err, ErrJoinFailed)
		assert.Equal(t, "AB12CD34", local.LastRoom())
		assert.Equal(t, "", c.ActiveRoom())
	})

	t.Run("nothing remembered", func(t *testing.T) {
		c, _, _ := newController(t, newHubBackend(t))
		got, err := c.Resume(ctx)
		require.NoError(t, err)
		assert.Equal(t, "", got)
	})
}

func TestController_RecordStopMergesOnce(t *testing.T) {
	backend := newHubBackend(t)
	c, local, clock := newController(t, backend)
	ctx := context.Background()
	require.NoError(t, c.SelectPlayer(3))

	sw := stopwatch.New(clock)
	sw.Start()
	clock.Advance(90 * time.Second)

	d, err := c.RecordStop(ctx, sw)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	d, err = c.RecordStop(ctx, sw)
	require.NoError(t, err)
	assert.Zero(t, d)

	assert.Equal(t, int64(90000), today(c.CurrentSnapshot(), 3))
	assert.Equal(t, 1, local.Saves())
}

func TestController_RenameAndClear(t *testing.T) {
	backend := newHubBackend(t)
	c, _, _ := newController(t, backend)
	ctx := context.Background()

	_, _, err := c.CreateRoom(ctx)
	require.NoError(t, err)

	s, err := c.RenamePlayer(ctx, 1, "  Sam ")
	require.NoError(t, err)
	assert.Equal(t, "Sam", s.Players[1].Name)

	_, err = c.AddTime(ctx, 1, time.Hour)
	require.NoError(t, err)

	s, err = c.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Player 2", s.Players[1].Name)
	assert.Equal(t, [tally.PlayerCount]int64{}, tally.Totals(s))

	_, err = c.RenamePlayer(ctx, 9, "x")
	assert.ErrorIs(t, err, tally.ErrPlayerIndex)
	assert.ErrorIs(t, c.SelectPlayer(-1), tally.ErrPlayerIndex)
	assert.Equal(t, tally.LastWriteWins, c.ConsistencyModel())
}
