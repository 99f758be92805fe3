package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/play-tracker/internal/rooms"
	"github.com/DoyleJ11/play-tracker/internal/tally"
	"github.com/DoyleJ11/play-tracker/internal/watch"
	"github.com/DoyleJ11/play-tracker/pkg/types"
)

func roomID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := types.NormalizeRoomID(chi.URLParam(r, "roomId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid room id")
		return "", false
	}
	return id, true
}

func GetRoom(store rooms.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := roomID(w, r)
		if !ok {
			return
		}
		snap, err := store.Get(r.Context(), id)
		if err != nil {
			log.Error("get room", zap.String("room_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load room")
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

// PutRoom replaces the room's snapshot and pushes the stored value to
// websocket watchers.
func PutRoom(store rooms.Store, b *watch.Broker, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := roomID(w, r)
		if !ok {
			return
		}
		var snap tally.Snapshot
		if err := readJSON(w, r, &snap); err != nil {
			writeError(w, http.StatusBadRequest, "invalid snapshot")
			return
		}
		saved, err := store.Put(r.Context(), id, snap)
		if err != nil {
			log.Error("put room", zap.String("room_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to save room")
			return
		}
		if b != nil {
			b.Send(r.Context(), watch.Publish{RoomID: id, Snapshot: saved})
		}
		writeJSON(w, http.StatusOK, types.PutResponse{Success: true, Data: saved})
	}
}

func SyncRoom(store rooms.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := roomID(w, r)
		if !ok {
			return
		}
		var req types.SyncRequest
		if err := readJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid sync request")
			return
		}
		res, err := store.Sync(r.Context(), id, req.LastUpdated)
		if err != nil {
			log.Error("sync room", zap.String("room_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to sync room")
			return
		}
		writeJSON(w, http.StatusOK, types.SyncResponse{NeedsUpdate: res.NeedsUpdate, Data: res.Snapshot})
	}
}

func CreateRoom(store rooms.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _, err := store.Create(r.Context())
		if err != nil {
			log.Error("create room", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to create room")
			return
		}
		log.Info("room created", zap.String("room_id", id))
		writeJSON(w, http.StatusCreated, types.CreateRoomResponse{RoomID: id})
	}
}

func RoomExists(store rooms.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := roomID(w, r)
		if !ok {
			return
		}
		exists, err := store.Exists(r.Context(), id)
		if err != nil {
			log.Error("room exists", zap.String("room_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to check room")
			return
		}
		writeJSON(w, http.StatusOK, types.ExistsResponse{Exists: exists})
	}
}

func Consistency(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.ConsistencyResponse{Model: tally.LastWriteWins})
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
