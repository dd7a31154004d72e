package daily

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/chorus/internal/observability"
	"github.com/antoniostano/chorus/internal/pipeline"
)

// Participant is a remote party as reported by the room service. No
// participant data outlives its membership in the room.
type Participant struct {
	ID       string
	UserName string
}

// EventHandler receives presence events in wire order, on the transport's
// read goroutine. Handlers must only do bounded, fast work (queueing frames);
// a handler error is fatal to the transport.
type EventHandler interface {
	OnFirstParticipantJoined(ctx context.Context, p Participant) error
	OnParticipantJoined(ctx context.Context, p Participant) error
	OnParticipantLeft(ctx context.Context, p Participant, reason string) error
}

// Params configure the room connection.
type Params struct {
	RoomURL              string
	Token                string
	BotName              string
	AudioInEnabled       bool
	AudioOutEnabled      bool
	MicrophoneOutEnabled bool
	CameraOutEnabled     bool
	Metrics              *observability.Metrics
}

type wireInfo struct {
	UserName string `json:"userName"`
}

type wireParticipant struct {
	ID   string   `json:"id"`
	Info wireInfo `json:"info"`
}

type envelope struct {
	Type        string           `json:"type"`
	Participant *wireParticipant `json:"participant,omitempty"`
	First       bool             `json:"first,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	AudioBase64 string           `json:"audio,omitempty"`
	SampleRate  int              `json:"sample_rate,omitempty"`
	Channels    int              `json:"channels,omitempty"`
	Name        string           `json:"name,omitempty"`
	Code        string           `json:"code,omitempty"`
	Detail      string           `json:"detail,omitempty"`
}

// Transport is the room collaborator: it owns the signaling connection, the
// presence aggregate, and the pipeline endpoints for room audio.
type Transport struct {
	params Params
	ctx    context.Context
	conn   *websocket.Conn

	writeMu sync.Mutex

	handlerMu sync.RWMutex
	handler   EventHandler

	presentMu sync.RWMutex
	present   map[string]struct{}

	audioIn chan pipeline.Frame

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// Connect dials the room's signaling endpoint and announces the bot. The
// context bounds the dial and is handed to presence handlers later on.
func Connect(ctx context.Context, params Params) (*Transport, error) {
	if strings.TrimSpace(params.RoomURL) == "" {
		return nil, fmt.Errorf("room URL is required")
	}

	u, err := signalingURL(params.RoomURL, params.Token, params.BotName)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("dial room websocket: %w", err)
	}

	t := &Transport{
		params:  params,
		ctx:     ctx,
		conn:    conn,
		present: make(map[string]struct{}),
		audioIn: make(chan pipeline.Frame, 64),
		done:    make(chan struct{}),
	}

	if err := t.writeJSON(envelope{Type: "join", Name: params.BotName}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("announce bot: %w", err)
	}

	go t.readLoop()
	return t, nil
}

func signalingURL(roomURL, token, botName string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(roomURL))
	if err != nil {
		return "", fmt.Errorf("parse room URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported room URL scheme %q", u.Scheme)
	}
	q := u.Query()
	if strings.TrimSpace(token) != "" {
		q.Set("t", token)
	}
	if strings.TrimSpace(botName) != "" {
		q.Set("name", botName)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// SetEventHandler registers the presence handler. Events arriving before a
// handler is set are bookkept but not dispatched.
func (t *Transport) SetEventHandler(h EventHandler) {
	t.handlerMu.Lock()
	t.handler = h
	t.handlerMu.Unlock()
}

// PresentCount reports the live number of present participants. It is the
// sole presence oracle: callers must not keep their own tally.
func (t *Transport) PresentCount() int {
	t.presentMu.RLock()
	defer t.presentMu.RUnlock()
	return len(t.present)
}

// Input returns the inbound-audio source stage.
func (t *Transport) Input() pipeline.Stage {
	return &inputStage{t: t}
}

// Output returns the outbound-audio sink stage.
func (t *Transport) Output() pipeline.Stage {
	return &outputStage{t: t}
}

// Err reports the transport's terminal error, if any.
func (t *Transport) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}

// Leave closes the signaling connection. Safe to call more than once.
func (t *Transport) Leave() error {
	t.writeMu.Lock()
	_ = t.conn.WriteJSON(envelope{Type: "leave"})
	t.writeMu.Unlock()
	t.fail(nil)
	return nil
}

func (t *Transport) fail(err error) {
	t.closeOnce.Do(func() {
		t.errMu.Lock()
		t.err = err
		t.errMu.Unlock()
		close(t.done)
		_ = t.conn.Close()
	})
}

func (t *Transport) writeJSON(v any) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteJSON(v)
}

func (t *Transport) countFrame(stage, direction string) {
	if t.params.Metrics != nil {
		t.params.Metrics.FramesForwarded.WithLabelValues(stage, direction).Inc()
	}
}

func (t *Transport) currentHandler() EventHandler {
	t.handlerMu.RLock()
	defer t.handlerMu.RUnlock()
	return t.handler
}

func (t *Transport) readLoop() {
	for {
		var env envelope
		if err := t.conn.ReadJSON(&env); err != nil {
			select {
			case <-t.done:
			default:
				t.fail(fmt.Errorf("transport read: %w", err))
			}
			return
		}

		switch env.Type {
		case "audio-frame":
			if !t.params.AudioInEnabled || env.AudioBase64 == "" {
				continue
			}
			pcm, err := base64.StdEncoding.DecodeString(env.AudioBase64)
			if err != nil {
				t.fail(fmt.Errorf("decode inbound audio: %w", err))
				return
			}
			channels := env.Channels
			if channels <= 0 {
				channels = 1
			}
			frame := pipeline.AudioFrame{PCM: pcm, SampleRate: env.SampleRate, Channels: channels}
			select {
			case t.audioIn <- frame:
			case <-t.done:
				return
			case <-t.ctx.Done():
				return
			}

		case "participant-joined":
			p := participantFromWire(env.Participant)
			t.presentMu.Lock()
			t.present[p.ID] = struct{}{}
			t.presentMu.Unlock()

			if h := t.currentHandler(); h != nil {
				// The wire decides what counts as "first"; it is not
				// re-derived from the presence count here.
				if env.First {
					if err := h.OnFirstParticipantJoined(t.ctx, p); err != nil {
						t.fail(fmt.Errorf("first-join handler: %w", err))
						return
					}
				}
				if err := h.OnParticipantJoined(t.ctx, p); err != nil {
					t.fail(fmt.Errorf("join handler: %w", err))
					return
				}
			}

		case "participant-left":
			p := participantFromWire(env.Participant)
			t.presentMu.Lock()
			delete(t.present, p.ID)
			t.presentMu.Unlock()

			if h := t.currentHandler(); h != nil {
				if err := h.OnParticipantLeft(t.ctx, p, env.Reason); err != nil {
					t.fail(fmt.Errorf("leave handler: %w", err))
					return
				}
			}

		case "error":
			t.fail(fmt.Errorf("room error %s: %s", env.Code, env.Detail))
			return
		}
	}
}

func participantFromWire(w *wireParticipant) Participant {
	if w == nil {
		return Participant{}
	}
	return Participant{ID: w.ID, UserName: strings.TrimSpace(w.Info.UserName)}
}

type inputStage struct {
	t *Transport
}

func (s *inputStage) Name() string { return "daily-input" }

func (s *inputStage) Run(ctx context.Context, _ <-chan pipeline.Frame, out chan<- pipeline.Frame) error {
	for {
		select {
		case f := <-s.t.audioIn:
			select {
			case out <- f:
				s.t.countFrame(s.Name(), "in")
			case <-ctx.Done():
				return ctx.Err()
			}
		case <-s.t.done:
			return s.t.Err()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type outputStage struct {
	t *Transport
}

func (s *outputStage) Name() string { return "daily-output" }

func (s *outputStage) Run(ctx context.Context, in <-chan pipeline.Frame, _ chan<- pipeline.Frame) error {
	for {
		select {
		case f, ok := <-in:
			if !ok {
				return nil
			}
			audio, ok := f.(pipeline.AudioFrame)
			if !ok {
				// Text frames are consumed by the voice stage; anything else
				// reaching the sink is dropped.
				continue
			}
			if !s.t.params.AudioOutEnabled || !s.t.params.MicrophoneOutEnabled {
				continue
			}
			env := envelope{
				Type:        "audio-frame",
				AudioBase64: base64.StdEncoding.EncodeToString(audio.PCM),
				SampleRate:  audio.SampleRate,
				Channels:    audio.Channels,
			}
			if err := s.t.writeJSON(env); err != nil {
				return fmt.Errorf("write outbound audio: %w", err)
			}
			s.t.countFrame(s.Name(), "out")
		case <-s.t.done:
			return s.t.Err()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
