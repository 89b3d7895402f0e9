package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"farmhands/internal/app/requester"
	"farmhands/internal/config"
	"farmhands/internal/litestore"
	"farmhands/internal/profile"
	"farmhands/internal/queue"
)

const scenarioA = `{"aiAgentId":"Agent_A","gameState":{"aiPosition":{"x":950,"y":950},"playerPosition":{"x":1000,"y":1000},"mapBounds":{"width":2000,"height":2000}}}`

var testAPIConfig = config.APIConfig{AllowedOrigins: []string{"http://localhost:5173"}, CaptureBytes: 1024}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	st, err := litestore.Open(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	svc := requester.NewService(queue.New(st, queue.DefaultPolicy()))
	return NewRouter(svc, st, nil, testAPIConfig)
}

func serve(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var errResp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return errResp["error"]
}

func TestSubmitDecisionAndStatus(t *testing.T) {
	router := newTestRouter(t)

	w := serve(router, http.MethodPost, "/api/game/ai-decision", scenarioA)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d body=%s", w.Code, w.Body.String())
	}
	var handle requester.JobHandle
	if err := json.NewDecoder(w.Body).Decode(&handle); err != nil {
		t.Fatalf("decode handle: %v", err)
	}
	if handle.JobID == "" || handle.Status != "queued" {
		t.Fatalf("unexpected handle %+v", handle)
	}

	w = serve(router, http.MethodGet, "/api/game/job-status/"+handle.JobID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var status map[string]any
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status["id"] != handle.JobID || status["name"] != "AIDecision" || status["state"] != "queued" {
		t.Fatalf("unexpected status %v", status)
	}
	if _, ok := status["returnvalue"]; !ok {
		t.Fatalf("status missing returnvalue: %v", status)
	}

	w = serve(router, http.MethodGet, "/api/game/health", "")
	var health requester.Health
	if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if w.Code != http.StatusOK || health.Status != "healthy" || health.WaitingJobs != 1 || health.QueueName != "GameAI" {
		t.Fatalf("health %d %+v", w.Code, health)
	}
}

func TestSubmitDecisionRejections(t *testing.T) {
	router := newTestRouter(t)
	tests := []struct {
		name string
		body string
		code string
	}{
		{name: "broken json", body: "{", code: "invalid_json"},
		{name: "missing agent", body: `{"gameState":{"aiPosition":{"x":1,"y":1},"playerPosition":{"x":1,"y":1},"mapBounds":{"width":10,"height":10}}}`, code: "invalid_request"},
		{name: "empty agent", body: `{"aiAgentId":"","gameState":{"aiPosition":{"x":1,"y":1},"playerPosition":{"x":1,"y":1},"mapBounds":{"width":10,"height":10}}}`, code: "invalid_request"},
		{name: "missing game state", body: `{"aiAgentId":"Agent_A"}`, code: "invalid_request"},
		{name: "missing player position", body: `{"aiAgentId":"Agent_A","gameState":{"aiPosition":{"x":1,"y":1},"mapBounds":{"width":10,"height":10}}}`, code: "invalid_request"},
		{name: "zero map", body: `{"aiAgentId":"Agent_A","gameState":{"aiPosition":{"x":1,"y":1},"playerPosition":{"x":1,"y":1},"mapBounds":{"width":0,"height":10}}}`, code: "invalid_request"},
		{name: "string coordinate", body: `{"aiAgentId":"Agent_A","gameState":{"aiPosition":{"x":"1","y":1},"playerPosition":{"x":1,"y":1},"mapBounds":{"width":10,"height":10}}}`, code: "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(router, http.MethodPost, "/api/game/ai-decision", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", w.Code)
			}
			if got := decodeError(t, w); got != tt.code {
				t.Fatalf("expected %s, got %q", tt.code, got)
			}
		})
	}
}

func TestJobStatusUnknownIs404(t *testing.T) {
	router := newTestRouter(t)
	w := serve(router, http.MethodGet, "/api/game/job-status/nope", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if got := decodeError(t, w); got != "job_not_found" {
		t.Fatalf("expected job_not_found, got %q", got)
	}
}

var errDown = errors.New("connection refused")

type downStore struct{}

func (downStore) Enqueue(context.Context, queue.Job) error { return errDown }
func (downStore) Claim(context.Context, string, string, time.Time, time.Duration) (queue.Job, error) {
	return queue.Job{}, errDown
}
func (downStore) Complete(context.Context, queue.Lease, json.RawMessage, time.Time) error {
	return errDown
}
func (downStore) Retry(context.Context, queue.Lease, string, time.Time) error { return errDown }
func (downStore) Fail(context.Context, queue.Lease, string, time.Time) error  { return errDown }
func (downStore) Get(context.Context, string) (queue.Job, error)              { return queue.Job{}, errDown }
func (downStore) CountWaiting(context.Context, string) (int, error)           { return 0, errDown }
func (downStore) Ping(context.Context) error                                  { return errDown }

func TestBackendDown(t *testing.T) {
	svc := requester.NewService(queue.New(downStore{}, queue.DefaultPolicy()))
	router := NewRouter(svc, downStore{}, nil, testAPIConfig)

	w := serve(router, http.MethodPost, "/api/game/ai-decision", scenarioA)
	if w.Code != http.StatusInternalServerError || decodeError(t, w) != "enqueue_failed" {
		t.Fatalf("expected 500 enqueue_failed, got %d", w.Code)
	}

	w = serve(router, http.MethodGet, "/api/game/health", "")
	var health requester.Health
	_ = json.NewDecoder(w.Body).Decode(&health)
	if w.Code != http.StatusInternalServerError || health.Status != "unhealthy" {
		t.Fatalf("health %d %+v", w.Code, health)
	}

	w = serve(router, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected /healthz 503, got %d", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/game/ai-decision", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Fatalf("allow origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/game/ai-decision", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}

func TestDebugVarsMounted(t *testing.T) {
	router := newTestRouter(t)
	w := serve(router, http.MethodGet, "/api/debug/vars", "")
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte("http_decision_submit_total")) {
		t.Fatalf("expected expvar output, got %d", w.Code)
	}
}

func TestDecisionRequestSchemaCompiles(t *testing.T) {
	if _, err := compileSchema(decisionRequestSchema); err != nil {
		t.Fatalf("compile: %v", err)
	}
}

func TestRouterMountsMCPWithProfiles(t *testing.T) {
	st, err := litestore.Open(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	p, err := profile.Default()
	if err != nil {
		t.Fatalf("default profile: %v", err)
	}
	svc := requester.NewService(queue.New(st, queue.DefaultPolicy()))

	if w := serve(NewRouter(svc, st, profile.NewHolder(p), testAPIConfig), http.MethodPost, "/mcp", "{}"); w.Code == http.StatusNotFound {
		t.Fatalf("POST /mcp not routed")
	}
	if w := serve(newTestRouter(t), http.MethodPost, "/mcp", "{}"); w.Code != http.StatusNotFound {
		t.Fatalf("mcp mounted without profiles: %d", w.Code)
	}
}
