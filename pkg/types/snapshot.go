package types

// Snapshot (JSON):
//   players: [{ name: string, days: number[7] }] // exactly 5, Monday first, milliseconds
//   lastUpdated: number                           // unix millis, stamped by the server on every write
//
// REST, room scoped:
//   GET  /api/rooms/{roomId}          -> Snapshot (created with defaults if unknown)
//   POST /api/rooms/{roomId}          Snapshot -> { success: true, data: Snapshot }
//   POST /api/rooms/{roomId}/sync     { lastUpdated } -> { needsUpdate, data? }
//   POST /api/create-room             -> { roomId }
//   GET  /api/rooms/{roomId}/exists   -> { exists }
//   GET  /api/consistency             -> { model: "last-write-wins" }
//
// Websocket, GET /api/rooms/{roomId}/ws:
//   server sends { type: "Snapshot", data } on join and after every newer write
//   client may send { type: "Sync", lastUpdated } to ask for anything newer
