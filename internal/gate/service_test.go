package gate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/your-org/doorgate/internal/face"
	"github.com/your-org/doorgate/internal/models"
)

// stubStore resolves references from a fixed map.
type stubStore struct {
	refs map[string][]float32
}

func (s *stubStore) Lookup(_ context.Context, uid string) ([]float32, error) {
	emb, ok := s.refs[uid]
	if !ok {
		return nil, face.ErrUnknownIdentity
	}
	return emb, nil
}

func (s *stubStore) Invalidate(string) {}
func (s *stubStore) InvalidateAll()    {}

// stubExtractor maps frame payloads to candidate embeddings.
type stubExtractor struct {
	frames map[string][][]float32
	err    error
}

func (e *stubExtractor) Extract(imageData []byte) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.frames[string(imageData)], nil
}

// captureRecorder collects audit events.
type captureRecorder struct {
	mu     sync.Mutex
	events []models.AccessEvent
}

func (r *captureRecorder) Record(ev models.AccessEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *captureRecorder) kinds() []models.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

// memArchive stores frames in memory.
type memArchive struct {
	mu     sync.Mutex
	frames map[string][]byte
}

func newMemArchive() *memArchive {
	return &memArchive{frames: make(map[string][]byte)}
}

func (a *memArchive) PutFrame(_ context.Context, key string, data []byte) error {
	a.mu.Lock()
	a.frames[key] = data
	a.mu.Unlock()
	return nil
}

func (a *memArchive) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.frames)
}

var (
	refAlice = []float32{1, 0}
	refBob   = []float32{0, 1}
)

func newTestService(t *testing.T) (*Service, *Registry, *testClock, *captureRecorder) {
	t.Helper()

	store := &stubStore{refs: map[string][]float32{
		"alice": refAlice,
		"bob":   refBob,
		"dave":  {0.5, 0.5},
	}}
	extractor := &stubExtractor{frames: map[string][][]float32{
		"frame-alice":    {{0.99, 0.01}},        // close to alice's reference
		"frame-stranger": {{-1, -1}},            // far from everything
		"frame-empty":    {},                    // no face in view
		"frame-crowd":    {{-1, -1}, {1, 0.01}}, // stranger plus alice
	}}
	registry, clock := newTestRegistry(45 * time.Second)
	recorder := &captureRecorder{}

	svc := NewService(store, extractor, registry, recorder, 0.5, false)
	return svc, registry, clock, recorder
}

func TestScenarioMatchedOnSecondFrame(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	ok, err := svc.Open(ctx, "alice")
	if err != nil || !ok {
		t.Fatalf("open = %v/%v, want true/nil", ok, err)
	}
	if st := svc.Poll("alice"); st != StatusPending {
		t.Fatalf("poll after open = %v, want pending", st)
	}

	st, err := svc.Submit(ctx, "alice", []byte("frame-alice"), false)
	if err != nil || st != StatusMatched {
		t.Fatalf("submit = %v/%v, want matched/nil", st, err)
	}
	if st := svc.Poll("alice"); st != StatusMatched {
		t.Errorf("poll after match = %v, want matched", st)
	}
}

func TestScenarioRejectedAfterLastFrame(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	if ok, _ := svc.Open(ctx, "bob"); !ok {
		t.Fatal("open bob failed")
	}

	for i := 0; i < 2; i++ {
		st, err := svc.Submit(ctx, "bob", []byte("frame-stranger"), false)
		if err != nil || st != StatusPending {
			t.Fatalf("mid-stream submit %d = %v/%v, want pending/nil", i, st, err)
		}
	}

	st, err := svc.Submit(ctx, "bob", []byte("frame-stranger"), true)
	if err != nil || st != StatusRejected {
		t.Fatalf("last submit = %v/%v, want rejected/nil", st, err)
	}
	if st := svc.Poll("bob"); st != StatusRejected {
		t.Errorf("poll = %v, want rejected", st)
	}
}

func TestScenarioUnknownIdentityDenied(t *testing.T) {
	svc, registry, _, recorder := newTestService(t)
	ctx := context.Background()

	ok, err := svc.Open(ctx, "carol")
	if err != nil {
		t.Fatalf("open returned error: %v", err)
	}
	if ok {
		t.Fatal("open for unknown identity must be denied")
	}
	if st := svc.Poll("carol"); st != StatusAbsent {
		t.Errorf("poll = %v, want absent", st)
	}
	if n := registry.Len(); n != 0 {
		t.Errorf("denied open created %d sessions", n)
	}

	kinds := recorder.kinds()
	if len(kinds) != 1 || kinds[0] != models.EventOpenDenied {
		t.Errorf("recorded kinds = %v, want [open_denied]", kinds)
	}
}

func TestScenarioAbandonedSessionExpires(t *testing.T) {
	svc, _, clock, _ := newTestService(t)
	ctx := context.Background()

	if ok, _ := svc.Open(ctx, "dave"); !ok {
		t.Fatal("open dave failed")
	}

	clock.Advance(46 * time.Second)

	if st := svc.Poll("dave"); st != StatusAbsent {
		t.Errorf("poll after TTL = %v, want absent", st)
	}
}

func TestSubmitWithoutSession(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.Submit(context.Background(), "alice", []byte("frame-alice"), false)
	if !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("err = %v, want ErrNoActiveSession", err)
	}
}

func TestSubmitEmptyFrameIsNonMatch(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	svc.Open(ctx, "alice")

	// No face in view yet: stays pending.
	st, err := svc.Submit(ctx, "alice", []byte("frame-empty"), false)
	if err != nil || st != StatusPending {
		t.Fatalf("empty frame = %v/%v, want pending/nil", st, err)
	}

	// Same frame as the declared last one: rejects.
	st, err = svc.Submit(ctx, "alice", []byte("frame-empty"), true)
	if err != nil || st != StatusRejected {
		t.Fatalf("empty last frame = %v/%v, want rejected/nil", st, err)
	}
}

func TestSubmitExtractionFailureDegradesToNonMatch(t *testing.T) {
	store := &stubStore{refs: map[string][]float32{"alice": refAlice}}
	extractor := &stubExtractor{err: errors.New("decode jpeg: bad payload")}
	registry, _ := newTestRegistry(45 * time.Second)

	svc := NewService(store, extractor, registry, nil, 0.5, false)
	ctx := context.Background()

	svc.Open(ctx, "alice")

	st, err := svc.Submit(ctx, "alice", []byte("garbage"), false)
	if err != nil || st != StatusPending {
		t.Fatalf("undecodable frame = %v/%v, want pending/nil", st, err)
	}
}

func TestSubmitCrowdFrameMatchesOnAnyFace(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	svc.Open(ctx, "alice")

	st, err := svc.Submit(ctx, "alice", []byte("frame-crowd"), false)
	if err != nil || st != StatusMatched {
		t.Fatalf("crowd frame = %v/%v, want matched/nil", st, err)
	}
}

func TestTerminalSubmitShortCircuits(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	archive := newMemArchive()
	svc.SetFrameArchive(archive)
	ctx := context.Background()

	svc.Open(ctx, "alice")
	if st, _ := svc.Submit(ctx, "alice", []byte("frame-alice"), false); st != StatusMatched {
		t.Fatal("setup: expected matched")
	}
	framesBefore := archive.count()

	// A stranger's last frame after the verdict must not flip it, but
	// is still archived for audit.
	st, err := svc.Submit(ctx, "alice", []byte("frame-stranger"), true)
	if err != nil || st != StatusMatched {
		t.Fatalf("late frame = %v/%v, want matched/nil", st, err)
	}
	if archive.count() != framesBefore+1 {
		t.Error("late frame was not archived")
	}
}

func TestSubmitMissingUIDRequiresInference(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	svc.Open(ctx, "alice")

	_, err := svc.Submit(ctx, "", []byte("frame-alice"), false)
	if !errors.Is(err, ErrMissingUID) {
		t.Errorf("err = %v, want ErrMissingUID when inference is off", err)
	}
}

func TestSubmitInferredUID(t *testing.T) {
	store := &stubStore{refs: map[string][]float32{"alice": refAlice}}
	extractor := &stubExtractor{frames: map[string][][]float32{
		"frame-alice": {{0.99, 0.01}},
	}}
	registry, _ := newTestRegistry(45 * time.Second)

	svc := NewService(store, extractor, registry, nil, 0.5, true)
	ctx := context.Background()

	// No pending session: distinguished from a non-matching frame.
	if _, err := svc.Submit(ctx, "", []byte("frame-alice"), false); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("err = %v, want ErrNoActiveSession", err)
	}

	svc.Open(ctx, "alice")

	st, err := svc.Submit(ctx, "", []byte("frame-alice"), false)
	if err != nil || st != StatusMatched {
		t.Fatalf("inferred submit = %v/%v, want matched/nil", st, err)
	}
}

func TestOpenRecordsAuditTrail(t *testing.T) {
	svc, _, _, recorder := newTestService(t)
	ctx := context.Background()

	svc.Open(ctx, "alice")
	svc.Submit(ctx, "alice", []byte("frame-alice"), false)

	kinds := recorder.kinds()
	if len(kinds) != 2 || kinds[0] != models.EventOpen || kinds[1] != models.EventFrame {
		t.Errorf("recorded kinds = %v, want [open frame]", kinds)
	}
}

func TestConcurrentSubmitsSettleDeterministically(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	svc.Open(ctx, "alice")

	var wg sync.WaitGroup
	statuses := make([]Status, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		statuses[0], _ = svc.Submit(ctx, "alice", []byte("frame-alice"), false)
	}()
	go func() {
		defer wg.Done()
		statuses[1], _ = svc.Submit(ctx, "alice", []byte("frame-stranger"), true)
	}()
	wg.Wait()

	final := svc.Poll("alice")
	if !final.Terminal() {
		t.Fatalf("final = %v, want terminal", final)
	}
	for i, st := range statuses {
		if !st.Terminal() {
			t.Errorf("submit %d returned non-terminal %v after race", i, st)
		}
	}
	// The verdict is stable no matter what arrives next.
	if st, _ := svc.Submit(ctx, "alice", []byte("frame-alice"), true); st != final {
		t.Errorf("verdict flipped from %v to %v", final, st)
	}
}
