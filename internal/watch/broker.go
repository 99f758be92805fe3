package watch

import (
	"context"

	"github.com/DoyleJ11/play-tracker/internal/tally"
)

type Msg interface{ isWatchMsg() }

type Subscribe struct {
	RoomID   string
	ClientID string
	Outbox   chan tally.Snapshot // where this client wants to receive snapshots
}

func (Subscribe) isWatchMsg() {}

type Unsubscribe struct {
	RoomID   string
	ClientID string
}

func (Unsubscribe) isWatchMsg() {}

// Publish offers a room's snapshot to its subscribers. Each subscriber only
// receives snapshots newer than the last one it was sent, so publishing an
// old value is harmless.
type Publish struct {
	RoomID   string
	Snapshot tally.Snapshot
}

func (Publish) isWatchMsg() {}

type Shutdown struct{}

func (Shutdown) isWatchMsg() {}

type GetStats struct {
	Reply chan Stats
}

func (GetStats) isWatchMsg() {}

type Stats struct {
	Rooms       int
	Subscribers int
}

type subscriber struct {
	outbox   chan tally.Snapshot
	lastSent int64
}

// Broker fans room snapshots out to websocket watchers.
type Broker struct {
	inbox  chan Msg
	rooms  map[string]map[string]*subscriber
	ctx    context.Context
	cancel context.CancelFunc
}

func NewBroker(parent context.Context) *Broker {
	ctx, cancel := context.WithCancel(parent)

	b := &Broker{
		inbox:  make(chan Msg, 64),
		rooms:  make(map[string]map[string]*subscriber),
		ctx:    ctx,
		cancel: cancel,
	}

	go b.loop()
	return b
}

func (b *Broker) loop() {
	for {
		select {
		case <-b.ctx.Done():
			b.shutdown()
			return

		case m := <-b.inbox:
			switch msg := m.(type) {
			case Subscribe:
				subs := b.rooms[msg.RoomID]
				if subs == nil {
					subs = make(map[string]*subscriber)
					b.rooms[msg.RoomID] = subs
				}
				if old, ok := subs[msg.ClientID]; ok {
					close(old.outbox)
				}
				subs[msg.ClientID] = &subscriber{outbox: msg.Outbox, lastSent: -1}

			case Unsubscribe:
				b.remove(msg.RoomID, msg.ClientID)

			case Publish:
				b.broadcast(msg.RoomID, msg.Snapshot)

			case GetStats:
				st := Stats{Rooms: len(b.rooms)}
				for _, subs := range b.rooms {
					st.Subscribers += len(subs)
				}
				msg.Reply <- st

			case Shutdown:
				b.shutdown()
				return
			}
		}
	}
}

func (b *Broker) shutdown() {
	for roomID, subs := range b.rooms {
		for _, sub := range subs {
			close(sub.outbox) // no more snapshots
		}
		delete(b.rooms, roomID)
	}
	b.cancel()
}

func (b *Broker) broadcast(roomID string, snap tally.Snapshot) {
	for id, sub := range b.rooms[roomID] {
		if snap.LastUpdated <= sub.lastSent {
			continue
		}
		select {
		case sub.outbox <- snap:
			sub.lastSent = snap.LastUpdated
		default:
			// Subscriber is slow/full - drop it.
			b.remove(roomID, id)
		}
	}
}

func (b *Broker) remove(roomID, clientID string) {
	subs := b.rooms[roomID]
	sub, ok := subs[clientID]
	if !ok {
		return
	}
	close(sub.outbox)
	delete(subs, clientID)
	if len(subs) == 0 {
		delete(b.rooms, roomID)
	}
}

// Inbox is how handlers and tests talk to the broker.
func (b *Broker) Inbox() chan<- Msg { return b.inbox }

// Send delivers m unless the broker or ctx is done first.
func (b *Broker) Send(ctx context.Context, m Msg) bool {
	select {
	case b.inbox <- m:
		return true
	case <-b.ctx.Done():
		return false
	case <-ctx.Done():
		return false
	}
}
