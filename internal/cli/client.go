package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"traderoom/internal/room"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) CreateRoom(ctx context.Context, minPlayers, maxPlayers int) (room.Room, error) {
	var out room.Room
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/rooms", map[string]any{
		"min_players": minPlayers,
		"max_players": maxPlayers,
	}, &out)
	return out, err
}

func (c *Client) ListRooms(ctx context.Context, completed bool) ([]room.Room, error) {
	path := "/v1/rooms?filter=active"
	if completed {
		path = "/v1/rooms?filter=completed"
	}
	var out struct {
		Rooms []room.Room `json:"rooms"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, path, nil, &out)
	return out.Rooms, err
}

type RoomDetail struct {
	Room        room.Room               `json:"room"`
	Memberships []room.PlayerMembership `json:"memberships"`
	Visibility  string                  `json:"visibility"`
}

func (c *Client) RoomDetail(ctx context.Context, roomID string) (RoomDetail, error) {
	var out RoomDetail
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/rooms/"+url.PathEscape(roomID), nil, &out)
	return out, err
}

func (c *Client) AdvanceRoom(ctx context.Context, roomID, target string) (room.Room, error) {
	var out room.Room
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/rooms/"+url.PathEscape(roomID)+"/advance", map[string]any{
		"target": target,
	}, &out)
	return out, err
}

func (c *Client) JoinRoom(ctx context.Context, roomID, userID string) (room.PlayerMembership, error) {
	var out room.PlayerMembership
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/rooms/"+url.PathEscape(roomID)+"/join", map[string]any{
		"user_id": userID,
	}, &out)
	return out, err
}

func (c *Client) ReconcileRoom(ctx context.Context, roomID string) error {
	return c.jsonRequest(ctx, http.MethodPost, "/v1/rooms/"+url.PathEscape(roomID)+"/reconcile", nil, nil)
}

func (c *Client) CompletionRecord(ctx context.Context, roomID string) (room.CompletionRecord, error) {
	var out room.CompletionRecord
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/rooms/"+url.PathEscape(roomID)+"/completion", nil, &out)
	return out, err
}

func (c *Client) SetMembershipStatus(ctx context.Context, membershipID, target string) (room.PlayerMembership, error) {
	var out room.PlayerMembership
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/memberships/"+url.PathEscape(membershipID)+"/status", map[string]any{
		"target": target,
	}, &out)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
