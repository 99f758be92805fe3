// Package roomclient talks to the room server over its HTTP/JSON API.
package roomclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/DoyleJ11/play-tracker/internal/tally"
	"github.com/DoyleJ11/play-tracker/pkg/types"
)

// ErrTransport wraps every failure to get a usable answer from the server.
var ErrTransport = errors.New("room server unavailable")

const DefaultTimeout = 10 * time.Second

// StatusError is a non-2xx reply.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("room server returned status %d", e.Code)
	}
	return fmt.Sprintf("room server returned status %d: %s", e.Code, e.Message)
}

func (e *StatusError) Unwrap() error { return ErrTransport }

type Client struct {
	baseURL string
	client  *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func roomPath(id string) string { return "/api/rooms/" + url.PathEscape(id) }

func (c *Client) CreateRoom(ctx context.Context) (string, error) {
	var resp types.CreateRoomResponse
	if err := c.do(ctx, http.MethodPost, "/api/create-room", nil, &resp); err != nil {
		return "", err
	}
	if resp.RoomID == "" {
		return "", fmt.Errorf("%w: empty room id", ErrTransport)
	}
	return resp.RoomID, nil
}

func (c *Client) RoomExists(ctx context.Context, id string) (bool, error) {
	var resp types.ExistsResponse
	if err := c.do(ctx, http.MethodGet, roomPath(id)+"/exists", nil, &resp); err != nil {
		return false, err
	}
	return resp.Exists, nil
}

func (c *Client) GetSnapshot(ctx context.Context, id string) (tally.Snapshot, error) {
	var s tally.Snapshot
	if err := c.do(ctx, http.MethodGet, roomPath(id), nil, &s); err != nil {
		return tally.Snapshot{}, err
	}
	return s, nil
}

// PutSnapshot replaces the room's snapshot and returns it as stored, with the
// server's LastUpdated.
func (c *Client) PutSnapshot(ctx context.Context, id string, s tally.Snapshot) (tally.Snapshot, error) {
	var resp types.PutResponse
	if err := c.do(ctx, http.MethodPost, roomPath(id), s, &resp); err != nil {
		return tally.Snapshot{}, err
	}
	if !resp.Success {
		return tally.Snapshot{}, fmt.Errorf("%w: put not acknowledged", ErrTransport)
	}
	return resp.Data, nil
}

func (c *Client) SyncCheck(ctx context.Context, id string, watermark int64) (types.SyncResponse, error) {
	var resp types.SyncResponse
	err := c.do(ctx, http.MethodPost, roomPath(id)+"/sync", types.SyncRequest{LastUpdated: watermark}, &resp)
	if err != nil {
		return types.SyncResponse{}, err
	}
	if resp.NeedsUpdate && resp.Data == nil {
		return types.SyncResponse{}, fmt.Errorf("%w: sync reply without data", ErrTransport)
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, dest any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("%w: create request: %v", ErrTransport, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr types.ErrorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		if json.Unmarshal(raw, &apiErr) != nil || apiErr.Error == "" {
			apiErr.Error = strings.TrimSpace(string(raw))
		}
		return &StatusError{Code: resp.StatusCode, Message: apiErr.Error}
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrTransport, err)
	}
	return nil
}
