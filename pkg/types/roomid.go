package types

import (
	"errors"
	"strings"
)

var ErrInvalidRoomID = errors.New("invalid room id")

// RoomIDLength is the length of a room token, e.g. "AB12CD34".
const RoomIDLength = 8

// NormalizeRoomID trims and upper-cases raw and checks it is a room token.
// Clients and the server both call it, so ids typed in lower case resolve to
// the same room.
func NormalizeRoomID(raw string) (string, error) {
	id := strings.ToUpper(strings.TrimSpace(raw))
	if len(id) != RoomIDLength {
		return "", ErrInvalidRoomID
	}
	for _, r := range id {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", ErrInvalidRoomID
		}
	}
	return id, nil
}
