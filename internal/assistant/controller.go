package assistant

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/antoniostano/chorus/internal/daily"
	"github.com/antoniostano/chorus/internal/observability"
	"github.com/antoniostano/chorus/internal/pipeline"
	"github.com/antoniostano/chorus/internal/transcript"
)

// FrameQueue is the slice of the pipeline task the controller drives.
type FrameQueue interface {
	QueueFrame(ctx context.Context, f pipeline.Frame) error
	Cancel()
}

// Presence is the transport's live participant oracle. The controller never
// keeps its own tally; every decision reads the count fresh.
type Presence interface {
	PresentCount() int
}

const (
	fallbackJoinName  = "New user"
	fallbackLeaveName = "A user"

	transcriptSaveTimeout = 2 * time.Second
)

// Controller reacts to presence events: it injects announcement frames into
// the pipeline and terminates the session task when the room empties.
type Controller struct {
	task     FrameQueue
	presence Presence
	room     string
	store    transcript.Store
	metrics  *observability.Metrics
}

func NewController(task FrameQueue, presence Presence, room string, store transcript.Store, metrics *observability.Metrics) *Controller {
	return &Controller{
		task:     task,
		presence: presence,
		room:     room,
		store:    store,
		metrics:  metrics,
	}
}

// OnFirstParticipantJoined greets the first participant. The transport fires
// this at most once per session; the controller does not re-derive it.
func (c *Controller) OnFirstParticipantJoined(ctx context.Context, p daily.Participant) error {
	name := displayName(p, fallbackJoinName)
	log.Printf("first participant joined: %s", name)
	c.observeEvent("first_join")
	c.recordBestEffort(transcript.Event{Kind: transcript.KindFirstJoin, Participant: name})

	text := fmt.Sprintf("Hello %s! Welcome to the voice assistant room. Feel free to ask me anything.", name)
	return c.announce(ctx, "welcome", text)
}

// OnParticipantJoined announces a join unless the live count says this is
// effectively the first participant. A count of one here is a duplicate of
// the first-join greeting (or a rapid-join race) and is dropped, matching
// long-standing behavior.
func (c *Controller) OnParticipantJoined(ctx context.Context, p daily.Participant) error {
	count := c.presence.PresentCount()
	c.observeEvent("join")
	c.observePresent(count)
	if count <= 1 {
		c.observeEvent("join_suppressed")
		return nil
	}

	name := displayName(p, fallbackJoinName)
	log.Printf("participant joined: %s (present=%d)", name, count)
	c.recordBestEffort(transcript.Event{Kind: transcript.KindJoin, Participant: name})
	return c.announce(ctx, "join", fmt.Sprintf("%s has joined the room.", name))
}

// OnParticipantLeft announces a departure, or terminates the session task
// when the last participant is gone. Cancellation does not retract
// announcements already queued.
func (c *Controller) OnParticipantLeft(ctx context.Context, p daily.Participant, reason string) error {
	name := displayName(p, fallbackLeaveName)
	count := c.presence.PresentCount()
	log.Printf("participant left: %s (reason=%s, present=%d)", name, reason, count)
	c.observeEvent("leave")
	c.observePresent(count)
	c.recordBestEffort(transcript.Event{Kind: transcript.KindLeave, Participant: name, Text: reason})

	if count == 0 {
		log.Printf("all participants have left, shutting down")
		c.observeTermination("room_empty")
		c.recordBestEffort(transcript.Event{Kind: transcript.KindTermination, Text: "room empty"})
		c.task.Cancel()
		return nil
	}
	return c.announce(ctx, "leave", fmt.Sprintf("%s has left the room.", name))
}

// announce queues a text frame. A queue failure means the pipeline is broken,
// so it propagates instead of being swallowed.
func (c *Controller) announce(ctx context.Context, kind, text string) error {
	if err := c.task.QueueFrame(ctx, pipeline.TextFrame{Text: text}); err != nil {
		return fmt.Errorf("queue %s announcement: %w", kind, err)
	}
	if c.metrics != nil {
		c.metrics.AnnouncementsQueued.WithLabelValues(kind).Inc()
	}
	c.recordBestEffort(transcript.Event{Kind: transcript.KindAnnouncement, Text: text})
	return nil
}

func (c *Controller) recordBestEffort(event transcript.Event) {
	if c.store == nil {
		return
	}
	event.Room = c.room
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), transcriptSaveTimeout)
		defer cancel()
		if err := c.store.SaveEvent(ctx, event); err != nil {
			log.Printf("transcript save failed: %v", err)
		}
	}()
}

func (c *Controller) observeEvent(event string) {
	if c.metrics != nil {
		c.metrics.PresenceEvents.WithLabelValues(event).Inc()
	}
}

func (c *Controller) observePresent(count int) {
	if c.metrics != nil {
		c.metrics.PresentParticipants.Set(float64(count))
	}
}

func (c *Controller) observeTermination(reason string) {
	if c.metrics != nil {
		c.metrics.SessionTerminations.WithLabelValues(reason).Inc()
	}
}

func displayName(p daily.Participant, fallback string) string {
	if p.UserName == "" {
		return fallback
	}
	return p.UserName
}
