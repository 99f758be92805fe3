package ws

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/play-tracker/internal/rooms"
	"github.com/DoyleJ11/play-tracker/internal/tally"
	"github.com/DoyleJ11/play-tracker/internal/watch"
	"github.com/DoyleJ11/play-tracker/pkg/types"
)

const writeTimeout = 3 * time.Second

// Handler streams a room's snapshot to the client: once on connect and again
// after every newer write.
func Handler(store rooms.Store, b *watch.Broker, log *zap.Logger, originPatterns []string) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		roomID, err := types.NormalizeRoomID(chi.URLParam(r, "roomId"))
		if err != nil {
			http.Error(w, "invalid room id", http.StatusBadRequest)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			log.Debug("websocket accept failed", zap.String("room_id", roomID), zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		ctx := r.Context()
		out := make(chan tally.Snapshot, 8)
		clientID := randID(8)

		if !b.Send(ctx, watch.Subscribe{RoomID: roomID, ClientID: clientID, Outbox: out}) {
			return
		}
		defer b.Send(context.Background(), watch.Unsubscribe{RoomID: roomID, ClientID: clientID})

		// Writer goroutine
		go func() {
			for snap := range out {
				payload, _ := json.Marshal(types.ServerMessage{Type: types.MsgSnapshot, Data: &snap})
				wctx, cancel := context.WithTimeout(ctx, writeTimeout)
				err := conn.Write(wctx, websocket.MessageText, payload)
				cancel()
				if err != nil {
					return
				}
			}
			// Outbox closed: the broker dropped us or we are leaving.
			conn.Close(websocket.StatusTryAgainLater, "subscription ended")
		}()

		// Initial snapshot goes through the broker so it is ordered with
		// concurrent writes to the room.
		snap, err := store.Get(ctx, roomID)
		if err != nil {
			log.Error("load room for watcher", zap.String("room_id", roomID), zap.Error(err))
			return
		}
		b.Send(ctx, watch.Publish{RoomID: roomID, Snapshot: snap})

		// Reader loop
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					log.Debug("watcher disconnected", zap.String("room_id", roomID), zap.Error(err))
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				writeError(ctx, conn, "bad json")
				continue
			}

			switch cm.Type {
			case types.MsgSync:
				res, err := store.Sync(ctx, roomID, cm.LastUpdated)
				if err != nil {
					log.Error("sync over websocket", zap.String("room_id", roomID), zap.Error(err))
					writeError(ctx, conn, "sync failed")
					continue
				}
				if res.NeedsUpdate {
					b.Send(ctx, watch.Publish{RoomID: roomID, Snapshot: *res.Snapshot})
				}
			default:
				writeError(ctx, conn, "unknown type")
			}
		}
	}
}

func writeError(ctx context.Context, conn *websocket.Conn, msg string) {
	payload, _ := json.Marshal(types.ServerMessage{Type: types.MsgError, Error: msg})
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = conn.Write(wctx, websocket.MessageText, payload)
}

func randID(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}
	return string(b)
}
