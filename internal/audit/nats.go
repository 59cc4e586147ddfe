package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/doorgate/internal/models"
)

const (
	EventsStreamName  = "ACCESS_EVENTS"
	EventsSubjectBase = "access.events"
)

// NATSRecorder publishes access events to JetStream. Events are handed
// to a background goroutine through a buffered channel; when the buffer
// is full the event is dropped with a warning rather than stalling a
// door decision.
type NATSRecorder struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	events chan models.AccessEvent
	done   chan struct{}
}

func NewNATSRecorder(natsURL string) (*NATSRecorder, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	r := &NATSRecorder{
		nc:     nc,
		js:     js,
		events: make(chan models.AccessEvent, 256),
		done:   make(chan struct{}),
	}
	go r.publishLoop()

	return r, nil
}

// EnsureStream creates the events stream if it doesn't exist. Retries to
// cover NATS starting after the service.
func (r *NATSRecorder) EnsureStream(ctx context.Context) error {
	cfg := jetstream.StreamConfig{
		Name:        EventsStreamName,
		Subjects:    []string{EventsSubjectBase + ".>"},
		Retention:   jetstream.InterestPolicy,
		MaxAge:      24 * time.Hour,
		MaxMsgs:     1000000,
		Storage:     jetstream.FileStorage,
		Description: "Door access audit events",
	}

	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := r.js.CreateOrUpdateStream(opCtx, cfg)
		cancel()
		if err == nil {
			slog.Info("ensured NATS stream", "name", cfg.Name)
			return nil
		}
		if attempt == maxAttempts {
			return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
		}
		slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return nil
}

// Record queues the event for publishing. Never blocks.
func (r *NATSRecorder) Record(ev models.AccessEvent) {
	select {
	case r.events <- ev:
	default:
		slog.Warn("audit buffer full, dropping event", "uid", ev.UID, "kind", ev.Kind)
	}
}

func (r *NATSRecorder) publishLoop() {
	defer close(r.done)
	for ev := range r.events {
		data, err := json.Marshal(ev)
		if err != nil {
			slog.Warn("marshal access event", "error", err)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err = r.js.Publish(ctx, EventsSubjectBase+"."+ev.UID, data)
		cancel()
		if err != nil {
			slog.Warn("publish access event", "uid", ev.UID, "error", err)
		}
	}
}

// Ping reports whether the NATS connection is up.
func (r *NATSRecorder) Ping() error {
	if !r.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (r *NATSRecorder) Close() {
	close(r.events)
	<-r.done
	r.nc.Close()
}
