// Package calendar talks to the room-provisioning service that hosts video
// sessions.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Room struct {
	BookingID    string    `json:"booking_id"`
	StartsAt     time.Time `json:"starts_at"`
	EndsAt       time.Time `json:"ends_at"`
	Participants []string  `json:"participants"`
}

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// CreateRoom returns the meeting URL. The booking id doubles as the
// idempotency key, so a retried call gets the same room.
func (c *Client) CreateRoom(ctx context.Context, room Room) (string, error) {
	body, err := json.Marshal(room)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rooms", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "room_"+room.BookingID)

	res, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("calendar create room: %w", err)
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(res.Body)
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", fmt.Errorf("calendar create room failed: %s (%d)", string(raw), res.StatusCode)
	}
	var out struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("parse calendar response: %w", err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("calendar returned no room url")
	}
	return out.URL, nil
}
