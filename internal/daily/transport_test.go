package daily

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/chorus/internal/pipeline"
)

type handlerCall struct {
	event  string
	name   string
	reason string
	count  int
}

// recordingHandler records calls with the live count at handling time.
type recordingHandler struct {
	t     *Transport
	mu    sync.Mutex
	calls []handlerCall
	fail  error
}

func (h *recordingHandler) record(event, name, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, handlerCall{event: event, name: name, reason: reason, count: h.t.PresentCount()})
}

func (h *recordingHandler) OnFirstParticipantJoined(_ context.Context, p Participant) error {
	h.record("first_join", p.UserName, "")
	return h.fail
}

func (h *recordingHandler) OnParticipantJoined(_ context.Context, p Participant) error {
	h.record("join", p.UserName, "")
	return h.fail
}

func (h *recordingHandler) OnParticipantLeft(_ context.Context, p Participant, reason string) error {
	h.record("leave", p.UserName, reason)
	return h.fail
}

func (h *recordingHandler) snapshot() []handlerCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]handlerCall, len(h.calls))
	copy(out, h.calls)
	return out
}

func (h *recordingHandler) waitFor(t *testing.T, n int) []handlerCall {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := h.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d handler calls, have %d", n, len(h.snapshot()))
	return nil
}

// testRoom runs script against each incoming signaling connection after
// consuming the bot's join hello.
func testRoom(t *testing.T, script func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		var hello envelope
		if err := conn.ReadJSON(&hello); err != nil || hello.Type != "join" {
			t.Errorf("expected join hello, got %+v err %v", hello, err)
			return
		}
		script(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func joinEnv(id, name string, first bool) envelope {
	return envelope{
		Type:        "participant-joined",
		First:       first,
		Participant: &wireParticipant{ID: id, Info: wireInfo{UserName: name}},
	}
}

func leaveEnv(id, name, reason string) envelope {
	return envelope{
		Type:        "participant-left",
		Reason:      reason,
		Participant: &wireParticipant{ID: id, Info: wireInfo{UserName: name}},
	}
}

func TestSignalingURL(t *testing.T) {
	got, err := signalingURL("https://example.daily.co/room", "tok", "Bot")
	if err != nil {
		t.Fatalf("signalingURL() error = %v", err)
	}
	if !strings.HasPrefix(got, "wss://example.daily.co/room?") {
		t.Fatalf("signalingURL() = %q", got)
	}
	if !strings.Contains(got, "t=tok") || !strings.Contains(got, "name=Bot") {
		t.Fatalf("signalingURL() missing query params: %q", got)
	}

	if _, err := signalingURL("ftp://example", "", ""); err == nil {
		t.Fatalf("signalingURL() should reject unsupported schemes")
	}
}

func TestPresenceDispatchAndCount(t *testing.T) {
	// The server waits for the gate so the handler is attached before any
	// presence traffic flows.
	gate := make(chan struct{})
	srv := testRoom(t, func(conn *websocket.Conn) {
		<-gate
		_ = conn.WriteJSON(joinEnv("p1", "Alice", true))
		_ = conn.WriteJSON(joinEnv("p2", "Bob", false))
		_ = conn.WriteJSON(leaveEnv("p1", "Alice", "leftCall"))
		_ = conn.WriteJSON(leaveEnv("p2", "Bob", "leftCall"))
		time.Sleep(time.Second)
	})

	tr, err := Connect(context.Background(), Params{RoomURL: wsURL(srv), BotName: "Bot", AudioInEnabled: true})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer tr.Leave()

	h := &recordingHandler{t: tr}
	tr.SetEventHandler(h)
	close(gate)

	calls := h.waitFor(t, 5)
	want := []handlerCall{
		{event: "first_join", name: "Alice", count: 1},
		{event: "join", name: "Alice", count: 1},
		{event: "join", name: "Bob", count: 2},
		{event: "leave", name: "Alice", reason: "leftCall", count: 1},
		{event: "leave", name: "Bob", reason: "leftCall", count: 0},
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("call %d = %+v, want %+v", i, calls[i], want[i])
		}
	}
	if tr.PresentCount() != 0 {
		t.Fatalf("PresentCount() = %d, want 0", tr.PresentCount())
	}
}

func TestInputStageForwardsAudio(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	srv := testRoom(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(envelope{
			Type:        "audio-frame",
			AudioBase64: base64.StdEncoding.EncodeToString(pcm),
			SampleRate:  24000,
			Channels:    1,
		})
		time.Sleep(time.Second)
	})

	tr, err := Connect(context.Background(), Params{RoomURL: wsURL(srv), AudioInEnabled: true})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer tr.Leave()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan pipeline.Frame, 1)
	go func() { _ = tr.Input().Run(ctx, nil, out) }()

	select {
	case f := <-out:
		audio, ok := f.(pipeline.AudioFrame)
		if !ok {
			t.Fatalf("frame = %#v, want AudioFrame", f)
		}
		if string(audio.PCM) != string(pcm) || audio.SampleRate != 24000 {
			t.Fatalf("audio frame = %+v", audio)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for inbound audio frame")
	}
}

func TestOutputStageWritesAudio(t *testing.T) {
	received := make(chan envelope, 1)
	srv := testRoom(t, func(conn *websocket.Conn) {
		var env envelope
		if err := conn.ReadJSON(&env); err == nil {
			received <- env
		}
		time.Sleep(time.Second)
	})

	tr, err := Connect(context.Background(), Params{
		RoomURL:              wsURL(srv),
		AudioOutEnabled:      true,
		MicrophoneOutEnabled: true,
	})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer tr.Leave()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in := make(chan pipeline.Frame, 2)
	in <- pipeline.TextFrame{Text: "ignored by the sink"}
	in <- pipeline.AudioFrame{PCM: []byte{9, 8, 7}, SampleRate: 24000, Channels: 1}
	go func() { _ = tr.Output().Run(ctx, in, nil) }()

	select {
	case env := <-received:
		if env.Type != "audio-frame" || env.SampleRate != 24000 {
			t.Fatalf("outbound envelope = %+v", env)
		}
		pcm, err := base64.StdEncoding.DecodeString(env.AudioBase64)
		if err != nil || string(pcm) != string([]byte{9, 8, 7}) {
			t.Fatalf("outbound audio = %v (err %v)", pcm, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for outbound audio")
	}
}

func TestHandlerErrorIsFatal(t *testing.T) {
	gate := make(chan struct{})
	srv := testRoom(t, func(conn *websocket.Conn) {
		<-gate
		_ = conn.WriteJSON(joinEnv("p1", "Alice", true))
		time.Sleep(time.Second)
	})

	tr, err := Connect(context.Background(), Params{RoomURL: wsURL(srv), AudioInEnabled: true})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer tr.Leave()

	boom := errors.New("queue broken")
	h := &recordingHandler{t: tr, fail: boom}
	tr.SetEventHandler(h)
	close(gate)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan pipeline.Frame, 1)
	errCh := make(chan error, 1)
	go func() { errCh <- tr.Input().Run(ctx, nil, out) }()

	select {
	case err := <-errCh:
		if err == nil || !errors.Is(err, boom) {
			t.Fatalf("input stage error = %v, want wrapped %v", err, boom)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("handler error did not surface through the input stage")
	}
}
