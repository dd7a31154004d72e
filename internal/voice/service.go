package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/chorus/internal/pipeline"
	"github.com/antoniostano/chorus/internal/reliability"
)

// TurnDetectionNone delegates turn arbitration entirely to the realtime
// service's own detector. It is the only mode this stage configures: the
// pipeline never arbitrates speaking turns among multiple humans.
const TurnDetectionNone = "none"

// SessionProperties configure the realtime session. The stage configures the
// voice service; it does not implement any of its logic.
type SessionProperties struct {
	Instructions  string
	TurnDetection string
}

// Config for the OpenAI Realtime stage.
type Config struct {
	APIKey        string
	BaseURL       string
	Model         string
	Session       SessionProperties
	InSampleRate  int
	OutSampleRate int
}

// Service is the voice-processing pipeline stage. It forwards inbound audio
// and synthetic text to the realtime service and emits the service's audio
// output downstream.
type Service struct {
	cfg Config
}

func NewService(cfg Config) (*Service, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "wss://api.openai.com/v1/realtime"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "gpt-4o-realtime-preview-2024-12-17"
	}
	if strings.TrimSpace(cfg.Session.TurnDetection) == "" {
		cfg.Session.TurnDetection = TurnDetectionNone
	}
	if cfg.OutSampleRate <= 0 {
		cfg.OutSampleRate = 24000
	}
	return &Service{cfg: cfg}, nil
}

func (s *Service) Name() string { return "openai-realtime" }

type sessionUpdate struct {
	Type    string         `json:"type"`
	Session realtimeConfig `json:"session"`
}

type realtimeConfig struct {
	Modalities        []string `json:"modalities"`
	Instructions      string   `json:"instructions"`
	InputAudioFormat  string   `json:"input_audio_format"`
	OutputAudioFormat string   `json:"output_audio_format"`
	// null disables application-level detection and leaves turn-taking to
	// the service.
	TurnDetection any `json:"turn_detection"`
}

type audioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type itemCreate struct {
	Type string `json:"type"`
	Item struct {
		Type    string        `json:"type"`
		Role    string        `json:"role"`
		Content []itemContent `json:"content"`
	} `json:"item"`
}

type itemContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type serverEvent struct {
	Type  string `json:"type"`
	Delta string `json:"delta,omitempty"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Run dials the realtime websocket, configures the session, then pumps frames
// both ways until the context is cancelled, the input closes, or the service
// fails.
func (s *Service) Run(ctx context.Context, in <-chan pipeline.Frame, out chan<- pipeline.Frame) error {
	u, err := url.Parse(s.cfg.BaseURL)
	if err != nil {
		return fmt.Errorf("parse realtime URL: %w", err)
	}
	q := u.Query()
	q.Set("model", s.cfg.Model)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+s.cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return fmt.Errorf("dial realtime websocket: %w", err)
	}
	defer conn.Close()

	var writeMu sync.Mutex
	writeJSON := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	update := sessionUpdate{
		Type: "session.update",
		Session: realtimeConfig{
			Modalities:        []string{"audio", "text"},
			Instructions:      s.cfg.Session.Instructions,
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
		},
	}
	if s.cfg.Session.TurnDetection != TurnDetectionNone {
		update.Session.TurnDetection = map[string]string{"type": s.cfg.Session.TurnDetection}
	}
	if err := writeJSON(update); err != nil {
		return fmt.Errorf("configure realtime session: %w", err)
	}

	readErr := make(chan error, 1)
	go func() {
		for {
			var evt serverEvent
			if err := conn.ReadJSON(&evt); err != nil {
				readErr <- fmt.Errorf("realtime read: %w", err)
				return
			}
			switch evt.Type {
			case "response.audio.delta":
				pcm, err := base64.StdEncoding.DecodeString(evt.Delta)
				if err != nil {
					readErr <- fmt.Errorf("decode audio delta: %w", err)
					return
				}
				frame := pipeline.AudioFrame{PCM: pcm, SampleRate: s.cfg.OutSampleRate, Channels: 1}
				select {
				case out <- frame:
				case <-ctx.Done():
					readErr <- ctx.Err()
					return
				}
			case "error":
				code, msg := "unknown", "realtime service error"
				if evt.Error != nil {
					code, msg = evt.Error.Code, evt.Error.Message
				}
				readErr <- fmt.Errorf("realtime error %s (retryable=%t): %s",
					code, reliability.IsRetryableRealtimeError(code), msg)
				return
			}
		}
	}()

	for {
		select {
		case f, ok := <-in:
			if !ok {
				return nil
			}
			switch frame := f.(type) {
			case pipeline.AudioFrame:
				msg := audioAppend{
					Type:  "input_audio_buffer.append",
					Audio: base64.StdEncoding.EncodeToString(frame.PCM),
				}
				if err := writeJSON(msg); err != nil {
					return fmt.Errorf("forward audio: %w", err)
				}
			case pipeline.TextFrame:
				if err := s.sendText(writeJSON, frame.Text); err != nil {
					return err
				}
			}
		case err := <-readErr:
			if err == nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// sendText injects an announcement as a user message and asks the service to
// respond, which is how queued text gets spoken into the room.
func (s *Service) sendText(writeJSON func(any) error, text string) error {
	var item itemCreate
	item.Type = "conversation.item.create"
	item.Item.Type = "message"
	item.Item.Role = "user"
	item.Item.Content = []itemContent{{Type: "input_text", Text: text}}
	if err := writeJSON(item); err != nil {
		return fmt.Errorf("forward text: %w", err)
	}
	if err := writeJSON(map[string]string{"type": "response.create"}); err != nil {
		return fmt.Errorf("request response: %w", err)
	}
	return nil
}
