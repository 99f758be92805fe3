package types

import "github.com/DoyleJ11/play-tracker/internal/tally"

// Client -> Server

// SyncRequest is the body of POST /api/rooms/{roomId}/sync.
type SyncRequest struct {
	LastUpdated int64 `json:"lastUpdated"`
}

// ClientMessage is a frame sent on the room websocket.
type ClientMessage struct {
	Type        string `json:"type"` // "Sync"
	LastUpdated int64  `json:"lastUpdated,omitempty"`
}

// Server -> Client

type SyncResponse struct {
	NeedsUpdate bool            `json:"needsUpdate"`
	Data        *tally.Snapshot `json:"data,omitempty"`
}

type PutResponse struct {
	Success bool           `json:"success"`
	Data    tally.Snapshot `json:"data"`
}

type CreateRoomResponse struct {
	RoomID string `json:"roomId"`
}

type ExistsResponse struct {
	Exists bool `json:"exists"`
}

type ConsistencyResponse struct {
	Model tally.ConsistencyModel `json:"model"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// ServerMessage is a frame sent on the room websocket.
type ServerMessage struct {
	Type  string          `json:"type"` // "Snapshot" | "Error"
	Data  *tally.Snapshot `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

const (
	MsgSync     = "Sync"
	MsgSnapshot = "Snapshot"
	MsgError    = "Error"
)
