package rooms

import (
	"context"

	"github.com/jonboulle/clockwork"

	"github.com/DoyleJ11/play-tracker/internal/tally"
)

type hubMsg interface{ isHubMsg() }

type createRoom struct {
	Reply chan createReply
}

type createReply struct {
	ID       string
	Snapshot tally.Snapshot
	Err      error
}

type roomExists struct {
	ID    string
	Reply chan bool
}

type getRoom struct {
	ID    string
	Reply chan tally.Snapshot
}

type putRoom struct {
	ID       string
	Snapshot tally.Snapshot
	Reply    chan tally.Snapshot
}

type syncRoom struct {
	ID        string
	Watermark int64
	Reply     chan SyncResult
}

type shutdownHub struct{}

func (createRoom) isHubMsg()  {}
func (roomExists) isHubMsg()  {}
func (getRoom) isHubMsg()     {}
func (putRoom) isHubMsg()     {}
func (syncRoom) isHubMsg()    {}
func (shutdownHub) isHubMsg() {}

// Hub is the in-memory Store. One goroutine owns the room map, so every
// operation on a room is applied in the order it reached the inbox.
type Hub struct {
	inbox  chan hubMsg
	rooms  map[string]tally.Snapshot
	clock  clockwork.Clock
	newID  func() string
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(parent context.Context, clock clockwork.Clock) *Hub {
	return newHub(parent, clock, NewRoomID)
}

func newHub(parent context.Context, clock clockwork.Clock, newID func() string) *Hub {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:  make(chan hubMsg, 64),
		rooms:  make(map[string]tally.Snapshot),
		clock:  clock,
		newID:  newID,
		ctx:    ctx,
		cancel: cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case createRoom:
				msg.Reply <- h.create()

			case roomExists:
				_, ok := h.rooms[msg.ID]
				msg.Reply <- ok

			case getRoom:
				msg.Reply <- h.ensure(msg.ID)

			case putRoom:
				prev := h.rooms[msg.ID].LastUpdated
				s := tally.Normalize(msg.Snapshot)
				s.LastUpdated = nextStamp(h.clock.Now().UnixMilli(), prev)
				h.rooms[msg.ID] = s
				msg.Reply <- s

			case syncRoom:
				msg.Reply <- syncResult(h.ensure(msg.ID), msg.Watermark)

			case shutdownHub:
				clear(h.rooms)
				h.cancel()
				return
			}
		}
	}
}

func (h *Hub) create() createReply {
	for range maxIDAttempts {
		id := h.newID()
		if _, taken := h.rooms[id]; taken {
			continue
		}
		s := tally.NewDefault(h.clock.Now())
		h.rooms[id] = s
		return createReply{ID: id, Snapshot: s}
	}
	return createReply{Err: ErrIDExhausted}
}

// ensure gives unknown rooms a default snapshot on first access.
func (h *Hub) ensure(id string) tally.Snapshot {
	if s, ok := h.rooms[id]; ok {
		return s
	}
	s := tally.NewDefault(h.clock.Now())
	h.rooms[id] = s
	return s
}

func (h *Hub) Create(ctx context.Context) (string, tally.Snapshot, error) {
	reply := make(chan createReply, 1)
	if err := h.send(ctx, createRoom{Reply: reply}); err != nil {
		return "", tally.Snapshot{}, err
	}
	r, err := await(ctx, h, reply)
	if err != nil {
		return "", tally.Snapshot{}, err
	}
	return r.ID, r.Snapshot, r.Err
}

func (h *Hub) Exists(ctx context.Context, id string) (bool, error) {
	reply := make(chan bool, 1)
	if err := h.send(ctx, roomExists{ID: id, Reply: reply}); err != nil {
		return false, err
	}
	return await(ctx, h, reply)
}

func (h *Hub) Get(ctx context.Context, id string) (tally.Snapshot, error) {
	reply := make(chan tally.Snapshot, 1)
	if err := h.send(ctx, getRoom{ID: id, Reply: reply}); err != nil {
		return tally.Snapshot{}, err
	}
	return await(ctx, h, reply)
}

func (h *Hub) Put(ctx context.Context, id string, s tally.Snapshot) (tally.Snapshot, error) {
	reply := make(chan tally.Snapshot, 1)
	if err := h.send(ctx, putRoom{ID: id, Snapshot: s, Reply: reply}); err != nil {
		return tally.Snapshot{}, err
	}
	return await(ctx, h, reply)
}

func (h *Hub) Sync(ctx context.Context, id string, watermark int64) (SyncResult, error) {
	reply := make(chan SyncResult, 1)
	if err := h.send(ctx, syncRoom{ID: id, Watermark: watermark, Reply: reply}); err != nil {
		return SyncResult{}, err
	}
	return await(ctx, h, reply)
}

// Close drops every room and stops the loop.
func (h *Hub) Close() error {
	select {
	case h.inbox <- shutdownHub{}:
	case <-h.ctx.Done():
	}
	return nil
}

func (h *Hub) send(ctx context.Context, m hubMsg) error {
	select {
	case h.inbox <- m:
		return nil
	case <-h.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func await[T any](ctx context.Context, h *Hub, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-h.ctx.Done():
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
