package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/doorgate/internal/audit"
	"github.com/your-org/doorgate/internal/face"
	"github.com/your-org/doorgate/internal/models"
	"github.com/your-org/doorgate/internal/observability"
)

var (
	// ErrNoActiveSession distinguishes "no attempt in flight for this
	// uid" from a frame that simply did not match.
	ErrNoActiveSession = errors.New("no active session")

	// ErrMissingUID is returned when a submission carries no uid and
	// inference is disabled.
	ErrMissingUID = errors.New("missing uid")
)

// Extractor finds faces in an encoded image and returns one embedding
// per face. Zero faces is not an error.
type Extractor interface {
	Extract(imageData []byte) ([][]float32, error)
}

// FrameArchive persists submitted frames for later audit browsing.
type FrameArchive interface {
	PutFrame(ctx context.Context, key string, data []byte) error
}

// Service wires the embedding store, the extractor and the session
// registry into the three gating operations a door/camera pair uses.
type Service struct {
	store     face.Store
	extractor Extractor
	registry  *Registry
	recorder  audit.Recorder
	frames    FrameArchive // optional

	threshold     float64
	allowInferred bool
}

func NewService(store face.Store, extractor Extractor, registry *Registry, recorder audit.Recorder, threshold float64, allowInferred bool) *Service {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	registry.OnEvict(func(uid string) {
		observability.SessionsExpired.Inc()
		observability.ActiveSessions.Dec()
	})
	return &Service{
		store:         store,
		extractor:     extractor,
		registry:      registry,
		recorder:      recorder,
		threshold:     threshold,
		allowInferred: allowInferred,
	}
}

// SetFrameArchive enables best-effort frame persistence.
func (s *Service) SetFrameArchive(a FrameArchive) { s.frames = a }

// Open starts (or refreshes) an access attempt for uid. It returns false
// when no reference face is on file, in which case no session is created.
func (s *Service) Open(ctx context.Context, uid string) (bool, error) {
	if uid == "" {
		return false, ErrMissingUID
	}

	_, err := s.store.Lookup(ctx, uid)
	if err != nil {
		if errors.Is(err, face.ErrUnknownIdentity) {
			observability.OpensDenied.Inc()
			s.recorder.Record(models.AccessEvent{
				ID:         uuid.New(),
				UID:        uid,
				Kind:       models.EventOpenDenied,
				Status:     string(StatusAbsent),
				OccurredAt: time.Now(),
			})
			return false, nil
		}
		return false, fmt.Errorf("lookup reference %q: %w", uid, err)
	}

	before := s.registry.Status(uid)
	s.registry.Open(uid)
	if before == StatusAbsent {
		observability.SessionsOpened.Inc()
		observability.ActiveSessions.Inc()
	}

	s.recorder.Record(models.AccessEvent{
		ID:         uuid.New(),
		UID:        uid,
		Kind:       models.EventOpen,
		Status:     string(StatusPending),
		OccurredAt: time.Now(),
	})
	return true, nil
}

// Submit evaluates one camera frame against uid's open session and
// returns the resulting status. An empty uid targets the most recently
// active pending session when inference is enabled.
//
// Undecodable frames and frames with no visible face count as
// non-matching; they only reject the attempt when lastFrame is set.
func (s *Service) Submit(ctx context.Context, uid string, frame []byte, lastFrame bool) (Status, error) {
	observability.FramesSubmitted.Inc()

	if uid == "" {
		if !s.allowInferred {
			return StatusAbsent, ErrMissingUID
		}
		inferred, ok := s.registry.MostRecentPending()
		if !ok {
			return StatusAbsent, ErrNoActiveSession
		}
		uid = inferred
	}

	current := s.registry.Status(uid)
	if current == StatusAbsent {
		return StatusAbsent, ErrNoActiveSession
	}
	if current.Terminal() {
		// Late frame after the verdict settled: keep it for audit,
		// never re-evaluate.
		key := s.archiveFrame(ctx, uid, frame)
		s.recordFrame(uid, current, maxDistance, lastFrame, key)
		return current, nil
	}

	// Slow work stays outside the registry; only the decision and the
	// transition are serialized per uid.
	decision := s.evaluate(ctx, uid, frame)

	status, ok := s.registry.Transition(uid, decision.Matched, lastFrame)
	if !ok {
		return StatusAbsent, ErrNoActiveSession
	}
	observability.Decisions.WithLabelValues(string(status)).Inc()

	key := s.archiveFrame(ctx, uid, frame)
	s.recordFrame(uid, status, decision.BestDistance, lastFrame, key)

	return status, nil
}

// Poll reports uid's session status without advancing the state machine.
// The read itself keeps an actively watched session alive.
func (s *Service) Poll(uid string) Status {
	return s.registry.Status(uid)
}

// evaluate runs decode+extract and the pure decision for one frame.
// Every failure degrades to a non-matching decision.
func (s *Service) evaluate(ctx context.Context, uid string, frame []byte) Decision {
	reference, err := s.store.Lookup(ctx, uid)
	if err != nil {
		// Reference removed mid-session: the frame cannot match.
		slog.Warn("reference unavailable during submit", "uid", uid, "error", err)
		return Decision{Matched: false, BestDistance: maxDistance}
	}

	start := time.Now()
	candidates, err := s.extractor.Extract(frame)
	observability.InferenceDuration.WithLabelValues("extract").Observe(time.Since(start).Seconds())
	if err != nil {
		slog.Warn("frame extraction failed", "uid", uid, "error", err)
		candidates = nil
	}

	return Decide(reference, candidates, s.threshold)
}

func (s *Service) archiveFrame(ctx context.Context, uid string, frame []byte) string {
	if s.frames == nil || len(frame) == 0 {
		return ""
	}
	key := fmt.Sprintf("frames/%s/%s.jpg", uid, uuid.New().String())
	if err := s.frames.PutFrame(ctx, key, frame); err != nil {
		slog.Warn("archive frame", "uid", uid, "error", err)
		return ""
	}
	return key
}

func (s *Service) recordFrame(uid string, status Status, bestDistance float64, lastFrame bool, frameKey string) {
	s.recorder.Record(models.AccessEvent{
		ID:           uuid.New(),
		UID:          uid,
		Kind:         models.EventFrame,
		Status:       string(status),
		BestDistance: bestDistance,
		LastFrame:    lastFrame,
		FrameKey:     frameKey,
		OccurredAt:   time.Now(),
	})
}
