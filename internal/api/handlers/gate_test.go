package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/doorgate/internal/face"
	"github.com/your-org/doorgate/internal/gate"
)

type stubFaceStore struct {
	refs map[string][]float32
}

func (s *stubFaceStore) Lookup(_ context.Context, uid string) ([]float32, error) {
	emb, ok := s.refs[uid]
	if !ok {
		return nil, face.ErrUnknownIdentity
	}
	return emb, nil
}

func (s *stubFaceStore) Invalidate(string) {}
func (s *stubFaceStore) InvalidateAll()    {}

type stubExtractor struct {
	frames map[string][][]float32
}

func (e *stubExtractor) Extract(imageData []byte) ([][]float32, error) {
	return e.frames[string(imageData)], nil
}

func newGateRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := &stubFaceStore{refs: map[string][]float32{
		"alice": {1, 0},
	}}
	extractor := &stubExtractor{frames: map[string][][]float32{
		"frame-match": {{0.99, 0.01}},
		"frame-miss":  {{-1, -1}},
	}}
	svc := gate.NewService(store, extractor, gate.NewRegistry(45*time.Second), nil, 0.5, false)

	h := NewGateHandler(svc)
	r := gin.New()
	r.POST("/v1/gate/open", h.Open)
	r.POST("/v1/gate/submit", h.Submit)
	r.GET("/v1/gate/result", h.Result)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func doFrame(t *testing.T, r *gin.Engine, path string, frame []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(frame))
	req.Header.Set("Content-Type", "image/jpeg")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func assertStatusField(t *testing.T, w *httptest.ResponseRecorder, want string) {
	t.Helper()
	var resp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	if resp.Status != want {
		t.Errorf("status = %q, want %q", resp.Status, want)
	}
}

func TestOpenKnownUID(t *testing.T) {
	r := newGateRouter(t)

	w := doJSON(t, r, http.MethodPost, "/v1/gate/open", `{"uid":"alice"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", w.Code)
	}
	var resp struct {
		Result string `json:"result"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Result != "yes" {
		t.Errorf("result = %q, want yes", resp.Result)
	}
}

func TestOpenUnknownUIDSaysNo(t *testing.T) {
	r := newGateRouter(t)

	w := doJSON(t, r, http.MethodPost, "/v1/gate/open", `{"uid":"stranger"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"result":"no"`) {
		t.Errorf("body = %s, want result no", w.Body.String())
	}
}

func TestOpenMissingUID(t *testing.T) {
	r := newGateRouter(t)

	if w := doJSON(t, r, http.MethodPost, "/v1/gate/open", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("code = %d, want 400", w.Code)
	}
	if w := doJSON(t, r, http.MethodPost, "/v1/gate/open", `not json`); w.Code != http.StatusBadRequest {
		t.Errorf("code = %d, want 400", w.Code)
	}
}

func TestSubmitLifecycle(t *testing.T) {
	r := newGateRouter(t)
	doJSON(t, r, http.MethodPost, "/v1/gate/open", `{"uid":"alice"}`)

	w := doFrame(t, r, "/v1/gate/submit?uid=alice", []byte("frame-miss"))
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", w.Code)
	}
	assertStatusField(t, w, "pending")

	w = doFrame(t, r, "/v1/gate/submit?uid=alice", []byte("frame-match"))
	assertStatusField(t, w, "matched")

	req := httptest.NewRequest(http.MethodGet, "/v1/gate/result?uid=alice", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assertStatusField(t, rec, "matched")
}

func TestSubmitLastFrameRejects(t *testing.T) {
	r := newGateRouter(t)
	doJSON(t, r, http.MethodPost, "/v1/gate/open", `{"uid":"alice"}`)

	w := doFrame(t, r, "/v1/gate/submit?uid=alice&last=1", []byte("frame-miss"))
	assertStatusField(t, w, "rejected")
}

func TestSubmitWithoutSessionIs404(t *testing.T) {
	r := newGateRouter(t)

	w := doFrame(t, r, "/v1/gate/submit?uid=alice", []byte("frame-match"))
	if w.Code != http.StatusNotFound {
		t.Fatalf("code = %d, want 404", w.Code)
	}
	assertStatusField(t, w, "no_session")
}

func TestSubmitEmptyBody(t *testing.T) {
	r := newGateRouter(t)
	doJSON(t, r, http.MethodPost, "/v1/gate/open", `{"uid":"alice"}`)

	if w := doFrame(t, r, "/v1/gate/submit?uid=alice", nil); w.Code != http.StatusBadRequest {
		t.Errorf("code = %d, want 400", w.Code)
	}
}

func TestSubmitMissingUID(t *testing.T) {
	r := newGateRouter(t)
	doJSON(t, r, http.MethodPost, "/v1/gate/open", `{"uid":"alice"}`)

	// uid inference is disabled in this router.
	if w := doFrame(t, r, "/v1/gate/submit", []byte("frame-match")); w.Code != http.StatusBadRequest {
		t.Errorf("code = %d, want 400", w.Code)
	}
}

func TestResultUnknownUIDIsAbsent(t *testing.T) {
	r := newGateRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/gate/result?uid=ghost", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", w.Code)
	}
	assertStatusField(t, w, "absent")
}

func TestResultMissingUID(t *testing.T) {
	r := newGateRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/gate/result", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("code = %d, want 400", w.Code)
	}
}
