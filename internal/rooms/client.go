package rooms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/antoniostano/chorus/internal/reliability"
)

// Client provisions rooms and meeting tokens against the Daily REST API.
// It never retries: a non-success response surfaces immediately with its
// status and body so the operator can decide what to do.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
	now     func() time.Time
}

// Room is the subset of the room-service response we depend on.
type Room struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Credential pairs a room with a token scoped to exactly that room.
type Credential struct {
	RoomName string
	RoomURL  string
	Token    string
	Expires  time.Time
}

// APIError carries the status and body of a failed provisioning call.
type APIError struct {
	Operation  string
	StatusCode int
	Body       string
	Retryable  bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Operation, e.StatusCode, e.Body)
}

const credentialTTL = 24 * time.Hour

type Option func(*Client)

// WithBaseURL points the client at a non-default API endpoint (tests).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

func withClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: "https://api.daily.co/v1",
		client:  &http.Client{Timeout: 30 * time.Second},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type roomProperties struct {
	EnableChat        bool   `json:"enable_chat"`
	EnableKnocking    bool   `json:"enable_knocking"`
	EnableScreenshare bool   `json:"enable_screenshare"`
	EnableRecording   string `json:"enable_recording"`
	StartVideoOff     bool   `json:"start_video_off"`
	StartAudioOff     bool   `json:"start_audio_off"`
	Exp               int64  `json:"exp"`
}

type createRoomRequest struct {
	Name       string         `json:"name"`
	Properties roomProperties `json:"properties"`
}

type tokenProperties struct {
	RoomName string `json:"room_name"`
	IsOwner  bool   `json:"is_owner"`
	Exp      int64  `json:"exp"`
}

type createTokenRequest struct {
	Properties tokenProperties `json:"properties"`
}

type createTokenResponse struct {
	Token string `json:"token"`
}

// CreateRoom creates a voice-assistant room with fixed properties and a 24h
// expiration. An empty desiredName derives a unique name from the clock.
func (c *Client) CreateRoom(ctx context.Context, desiredName string) (Room, error) {
	if err := c.requireKey(); err != nil {
		return Room{}, err
	}

	name := strings.TrimSpace(desiredName)
	if name == "" {
		name = "voice-assistant-" + c.now().Format("20060102-150405")
	}

	req := createRoomRequest{
		Name: name,
		Properties: roomProperties{
			EnableChat:        true,
			EnableKnocking:    false,
			EnableScreenshare: false,
			EnableRecording:   "cloud",
			StartVideoOff:     true,
			StartAudioOff:     false,
			Exp:               c.now().Add(credentialTTL).Unix(),
		},
	}

	var room Room
	if err := c.post(ctx, "create room", "/rooms", req, &room); err != nil {
		return Room{}, err
	}
	return room, nil
}

// CreateToken mints an owner token scoped to roomName with a 24h expiration.
// A token is never reused across rooms.
func (c *Client) CreateToken(ctx context.Context, roomName string) (string, error) {
	if err := c.requireKey(); err != nil {
		return "", err
	}
	if strings.TrimSpace(roomName) == "" {
		return "", fmt.Errorf("create token: room name is required")
	}

	req := createTokenRequest{
		Properties: tokenProperties{
			RoomName: roomName,
			IsOwner:  true,
			Exp:      c.now().Add(credentialTTL).Unix(),
		},
	}

	var res createTokenResponse
	if err := c.post(ctx, "create token", "/meeting-tokens", req, &res); err != nil {
		return "", err
	}
	return res.Token, nil
}

// Provision creates a room and then a token for it. Token creation never runs
// after a failed room creation.
func (c *Client) Provision(ctx context.Context, desiredName string) (Credential, error) {
	room, err := c.CreateRoom(ctx, desiredName)
	if err != nil {
		return Credential{}, err
	}
	token, err := c.CreateToken(ctx, room.Name)
	if err != nil {
		return Credential{}, err
	}
	return Credential{
		RoomName: room.Name,
		RoomURL:  room.URL,
		Token:    token,
		Expires:  c.now().Add(credentialTTL),
	}, nil
}

func (c *Client) requireKey() error {
	if c.apiKey == "" {
		return fmt.Errorf("room service API key is required")
	}
	return nil
}

func (c *Client) post(ctx context.Context, op, path string, body, into any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", op, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	res, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s: send request: %w", op, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return &APIError{
			Operation:  op,
			StatusCode: res.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
			Retryable:  reliability.IsRetryableHTTPStatus(res.StatusCode),
		}
	}

	if err := json.NewDecoder(res.Body).Decode(into); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
