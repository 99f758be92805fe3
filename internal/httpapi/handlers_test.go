package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/play-tracker/internal/rooms"
	"github.com/DoyleJ11/play-tracker/internal/tally"
	"github.com/DoyleJ11/play-tracker/internal/watch"
	"github.com/DoyleJ11/play-tracker/pkg/types"
)

var start = time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := rooms.NewHub(ctx, clockwork.NewFakeClockAt(start))
	b := watch.NewBroker(ctx)
	srv := httptest.NewServer(SetupRoutes(hub, b, nil, nil))
	t.Cleanup(func() {
		srv.Close()
		_ = hub.Close()
		cancel()
	})
	return srv
}

func doJSON(t *testing.T, method, url string, body any, dest any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch v := body.(type) {
		case string:
			buf.WriteString(v)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(v))
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if dest != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(dest))
	}
	return resp.StatusCode
}

func TestCreateRoomThenExists(t *testing.T) {
	srv := newTestServer(t)

	var created types.CreateRoomResponse
	status := doJSON(t, http.MethodPost, srv.URL+"/api/create-room", nil, &created)
	require.Equal(t, http.StatusCreated, status)
	id, err := types.NormalizeRoomID(created.RoomID)
	require.NoError(t, err)
	assert.Equal(t, created.RoomID, id)

	var exists types.ExistsResponse
	status = doJSON(t, http.MethodGet, srv.URL+"/api/rooms/"+id+"/exists", nil, &exists)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, exists.Exists)

	// lower-case ids resolve to the same room
	status = doJSON(t, http.MethodGet, srv.URL+"/api/rooms/"+strings.ToLower(id)+"/exists", nil, &exists)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, exists.Exists)
}

func TestUnknownRoomDoesNotExistUntilFetched(t *testing.T) {
	srv := newTestServer(t)

	var exists types.ExistsResponse
	doJSON(t, http.MethodGet, srv.URL+"/api/rooms/ZZZZZZZZ/exists", nil, &exists)
	assert.False(t, exists.Exists)

	var snap tally.Snapshot
	status := doJSON(t, http.MethodGet, srv.URL+"/api/rooms/ZZZZZZZZ", nil, &snap)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, tally.NewDefault(start), snap)

	doJSON(t, http.MethodGet, srv.URL+"/api/rooms/ZZZZZZZZ/exists", nil, &exists)
	assert.True(t, exists.Exists)
}

func TestSecondClientSeesFirstClientsWrite(t *testing.T) {
	srv := newTestServer(t)

	var created types.CreateRoomResponse
	doJSON(t, http.MethodPost, srv.URL+"/api/create-room", nil, &created)
	roomURL := srv.URL + "/api/rooms/" + created.RoomID

	snap, err := tally.AddTime(tally.NewDefault(start), 0, 90*time.Second, start)
	require.NoError(t, err)

	var put types.PutResponse
	status := doJSON(t, http.MethodPost, roomURL, snap, &put)
	require.Equal(t, http.StatusOK, status)
	require.True(t, put.Success)
	assert.Equal(t, int64(90000), put.Data.Players[0].Days[tally.DayIndex(start)])

	var sync types.SyncResponse
	status = doJSON(t, http.MethodPost, roomURL+"/sync", types.SyncRequest{LastUpdated: 0}, &sync)
	require.Equal(t, http.StatusOK, status)
	require.True(t, sync.NeedsUpdate)
	require.NotNil(t, sync.Data)
	assert.Equal(t, put.Data, *sync.Data)

	// Same watermark twice: nothing new.
	for range 2 {
		var again types.SyncResponse
		doJSON(t, http.MethodPost, roomURL+"/sync", types.SyncRequest{LastUpdated: put.Data.LastUpdated}, &again)
		assert.False(t, again.NeedsUpdate)
		assert.Nil(t, again.Data)
	}
}

func TestPutRepairsSnapshot(t *testing.T) {
	srv := newTestServer(t)

	body := `{"players":[{"name":"","days":[1.9,-5]}],"lastUpdated":1}`
	var put types.PutResponse
	status := doJSON(t, http.MethodPost, srv.URL+"/api/rooms/AB12CD34", body, &put)
	require.Equal(t, http.StatusOK, status)

	assert.Equal(t, "Player 1", put.Data.Players[0].Name)
	assert.Equal(t, int64(1), put.Data.Players[0].Days[0])
	assert.Equal(t, int64(0), put.Data.Players[0].Days[1])
	assert.Equal(t, "Player 5", put.Data.Players[4].Name)
	assert.NotEqual(t, int64(1), put.Data.LastUpdated)
}

func TestBadRequests(t *testing.T) {
	srv := newTestServer(t)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{name: "get bad id", method: http.MethodGet, path: "/api/rooms/nope"},
		{name: "exists bad id", method: http.MethodGet, path: "/api/rooms/AB12-D34/exists"},
		{name: "put bad json", method: http.MethodPost, path: "/api/rooms/AB12CD34", body: "{not json"},
		{name: "sync bad json", method: http.MethodPost, path: "/api/rooms/AB12CD34/sync", body: "[1,2"},
		{name: "sync bad id", method: http.MethodPost, path: "/api/rooms/toolongid1/sync", body: types.SyncRequest{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var resp types.ErrorResponse
			status := doJSON(t, tc.method, srv.URL+tc.path, tc.body, &resp)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestConsistencyAndHealth(t *testing.T) {
	srv := newTestServer(t)

	var model types.ConsistencyResponse
	status := doJSON(t, http.MethodGet, srv.URL+"/api/consistency", nil, &model)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, tally.LastWriteWins, model.Model)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) types.ServerMessage {
	t.Helper()
	rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(rctx)
	require.NoError(t, err)
	var msg types.ServerMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestWatchSocketPushesWrites(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/rooms/AB12CD34/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	first := readFrame(t, ctx, conn)
	require.Equal(t, types.MsgSnapshot, first.Type)
	require.NotNil(t, first.Data)
	assert.Equal(t, tally.NewDefault(start), *first.Data)

	next := *first.Data
	next.Players[2].Name = "Cara"
	var put types.PutResponse
	doJSON(t, http.MethodPost, srv.URL+"/api/rooms/AB12CD34", next, &put)

	pushed := readFrame(t, ctx, conn)
	require.Equal(t, types.MsgSnapshot, pushed.Type)
	require.NotNil(t, pushed.Data)
	assert.Equal(t, put.Data, *pushed.Data)

	payload, _ := json.Marshal(types.ClientMessage{Type: "Bogus"})
	require.NoError(t, conn.Write(ctx, websocket.MessageText, payload))
	bad := readFrame(t, ctx, conn)
	assert.Equal(t, types.MsgError, bad.Type)
	assert.Nil(t, bad.Data)
}
