package transcript

import (
	"context"
	"time"
)

// Event records one session occurrence: a presence change or an announcement
// queued to the pipeline.
type Event struct {
	ID          string    `json:"id"`
	Room        string    `json:"room"`
	Kind        string    `json:"kind"`
	Participant string    `json:"participant,omitempty"`
	Text        string    `json:"text,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Event kinds written by the session controller.
const (
	KindFirstJoin    = "first_join"
	KindJoin         = "join"
	KindLeave        = "leave"
	KindAnnouncement = "announcement"
	KindTermination  = "termination"
)

// Store persists and retrieves session events. Writes are best-effort from
// the caller's point of view; a store failure never ends the session.
type Store interface {
	SaveEvent(ctx context.Context, event Event) error
	Recent(ctx context.Context, room string, limit int) ([]Event, error)
	Close() error
}
