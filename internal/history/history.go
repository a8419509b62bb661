package history

import (
	"context"
	"time"

	"github.com/mined-project/mined/internal/server"
)

// Event records one observed status transition of a managed server.
type Event struct {
	ServerID   int           `json:"server_id"`
	Name       string        `json:"name"`
	From       server.Status `json:"from"`
	To         server.Status `json:"to"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// Sink is a destination for transition events (audit/statistics systems).
// Implementations must be safe for concurrent use. Recording is
// best-effort: a sink error never blocks or fails the transition itself.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
