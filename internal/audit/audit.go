// Package audit publishes access events to a best-effort append-only
// log. Recording never blocks and never fails the gating path.
package audit

import "github.com/your-org/doorgate/internal/models"

// Recorder accepts one structured access event, fire-and-forget.
type Recorder interface {
	Record(ev models.AccessEvent)
}

// Nop discards every event. Used in tests and when NATS is not
// configured.
type Nop struct{}

func (Nop) Record(models.AccessEvent) {}
