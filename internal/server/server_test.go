package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"proctor/internal/broadcast"
	"proctor/internal/config"
	"proctor/internal/detection"
	"proctor/internal/detection_processor"
	"proctor/internal/repository"
	"proctor/internal/service"
)

type testServer struct {
	t       *testing.T
	handler http.Handler
	token   string
}

func newTestServer(t *testing.T, authEnabled bool) (*testServer, *broadcast.Hub) {
	t.Helper()
	logger := zap.NewNop()

	cfg := &config.Config{}
	cfg.Server.Mode = "test"
	cfg.Auth.Enabled = authEnabled
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Metrics.Enabled = true
	cfg.Metrics.Path = "/metrics"

	repos := repository.NewMemoryRepositories()
	points, err := detection.NewPointTable(nil, 0)
	if err != nil {
		t.Fatalf("NewPointTable: %v", err)
	}
	hub := broadcast.NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = hub.RunWithContext(ctx) }()

	processor := detection_processor.NewProcessor(repos, detection_processor.Options{
		Points:            points,
		Levels:            detection.DefaultLevelThresholds(),
		Severity:          detection.DefaultSeverityThresholds(),
		Cooldown:          30 * time.Second,
		HeadcountCooldown: true,
		Broadcaster:       hub,
	}, logger)

	srv := NewServer(cfg, Deps{
		Processor: processor,
		Points:    points,
		Auth:      service.NewAuthService(repos.Users, cfg.Auth.JWTSecret, time.Hour, logger),
		Reports:   service.NewReportService(repos, detection.DefaultSeverityThresholds(), logger),
		Hub:       hub,
	}, logger)
	return &testServer{t: t, handler: srv.Handler()}, hub
}

func (s *testServer) do(method, path string, body interface{}) (int, map[string]interface{}) {
	s.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			s.t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	out := map[string]interface{}{}
	if strings.HasPrefix(strings.TrimSpace(w.Body.String()), "{") {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			s.t.Fatalf("%s %s: decode %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w.Code, out
}

func (s *testServer) list(path string) []map[string]interface{} {
	s.t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		s.t.Fatalf("GET %s = %d %s", path, w.Code, w.Body.String())
	}
	var out []map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		s.t.Fatalf("GET %s: decode: %v", path, err)
	}
	return out
}

func (s *testServer) expect(method, path string, body interface{}, status int) map[string]interface{} {
	s.t.Helper()
	got, out := s.do(method, path, body)
	if got != status {
		s.t.Fatalf("%s %s = %d %v, want %d", method, path, got, out, status)
	}
	return out
}

func TestExamSessionFlow(t *testing.T) {
	s, _ := newTestServer(t, true)

	s.expect(http.MethodGet, "/api/sessions", nil, http.StatusUnauthorized)
	reg := s.expect(http.MethodPost, "/api/auth/register", map[string]string{"username": "alice", "password": "correct horse"}, http.StatusCreated)
	if reg["role"] != "admin" || reg["password_hash"] != nil {
		t.Fatalf("unexpected registration body %v", reg)
	}
	s.expect(http.MethodPost, "/api/auth/register", map[string]string{"username": "alice", "password": "correct horse"}, http.StatusConflict)
	s.expect(http.MethodPost, "/api/auth/login", map[string]string{"username": "alice", "password": "wrong password"}, http.StatusUnauthorized)
	login := s.expect(http.MethodPost, "/api/auth/login", map[string]string{"username": "alice", "password": "correct horse"}, http.StatusOK)
	s.token = login["token"].(string)

	s.expect(http.MethodPost, "/api/sessions", map[string]interface{}{"expected_count": 2}, http.StatusBadRequest)
	created := s.expect(http.MethodPost, "/api/sessions", map[string]interface{}{"name": "Chemistry final", "expected_count": 2}, http.StatusCreated)
	id := int64(created["id"].(float64))
	if created["status"] != "PENDING" {
		t.Fatalf("new session status = %v", created["status"])
	}

	batch := map[string]interface{}{
		"session_id": id,
		"detections": []map[string]interface{}{
			{"person_id": "s1", "class_name": "cell phone", "confidence": 0.9},
		},
		"head_count": map[string]int{"detected": 3},
	}
	s.expect(http.MethodPost, "/api/detect/process", batch, http.StatusConflict)

	started := s.expect(http.MethodPost, fmt.Sprintf("/api/sessions/%d/start", id), map[string]string{"stream_url": "rtsp://cam/2"}, http.StatusOK)
	if started["status"] != "ACTIVE" || started["stream_url"] != "rtsp://cam/2" {
		t.Fatalf("unexpected started session %v", started)
	}
	if active := s.list("/api/sessions/active"); len(active) != 1 {
		t.Fatalf("active sessions = %d, want 1", len(active))
	}

	result := s.expect(http.MethodPost, "/api/detect/process", batch, http.StatusOK)
	if events := result["detections"].([]interface{}); len(events) != 2 {
		t.Fatalf("recorded %d events, want phone plus extra person", len(events))
	}
	if hc := result["head_count"].(map[string]interface{}); hc["detected"].(float64) != 3 {
		t.Fatalf("unexpected head count %v", hc)
	}
	// Same detection again inside the cooldown window.
	again := s.expect(http.MethodPost, "/api/detect/process", batch, http.StatusOK)
	if again["suppressed"].(float64) != 1 {
		t.Fatalf("repeat detection not suppressed: %v", again)
	}

	if events := s.list(fmt.Sprintf("/api/detect/events/%d", id)); len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	scores := s.list(fmt.Sprintf("/api/detect/scores/%d", id))
	if len(scores) != 2 || scores[0]["tracking_id"] != "extra_1" {
		t.Fatalf("unexpected scores %v", scores)
	}
	stats := s.expect(http.MethodGet, fmt.Sprintf("/api/detect/stats/%d", id), nil, http.StatusOK)
	if stats["total_detections"].(float64) != 2 || stats["phone_count"].(float64) != 1 {
		t.Fatalf("unexpected stats %v", stats)
	}

	alerts := s.list(fmt.Sprintf("/api/alerts/%d", id))
	if len(alerts) != 2 {
		t.Fatalf("alerts = %d, want 2", len(alerts))
	}
	alertID := int64(alerts[0]["id"].(float64))
	acked := s.expect(http.MethodPut, fmt.Sprintf("/api/alerts/%d/acknowledge", alertID), nil, http.StatusOK)
	if acked["acknowledged"] != true || acked["acknowledged_by"] != "alice" {
		t.Fatalf("unexpected acknowledgement %v", acked)
	}
	s.expect(http.MethodPut, "/api/alerts/999/acknowledge", nil, http.StatusNotFound)

	eventID := int64(s.list(fmt.Sprintf("/api/detect/events/%d", id))[0]["id"].(float64))
	s.expect(http.MethodPut, fmt.Sprintf("/api/events/%d/resolve", eventID), nil, http.StatusOK)
	s.expect(http.MethodPut, "/api/events/999/resolve", nil, http.StatusNotFound)

	s.expect(http.MethodPost, fmt.Sprintf("/api/sessions/%d/resume", id), nil, http.StatusConflict)
	s.expect(http.MethodPost, fmt.Sprintf("/api/sessions/%d/pause", id), nil, http.StatusOK)
	s.expect(http.MethodPost, "/api/detect/headcount", map[string]interface{}{"session_id": id, "detected": 1}, http.StatusConflict)
	s.expect(http.MethodPost, fmt.Sprintf("/api/sessions/%d/resume", id), nil, http.StatusOK)
	headcount := s.expect(http.MethodPut, fmt.Sprintf("/api/sessions/%d/headcount", id), map[string]int{"detected": 1}, http.StatusOK)
	if events := headcount["events"].([]interface{}); len(events) != 1 {
		t.Fatalf("deficit events = %d, want 1", len(events))
	}

	ended := s.expect(http.MethodPost, fmt.Sprintf("/api/sessions/%d/end", id), nil, http.StatusOK)
	if ended["status"] != "COMPLETED" || ended["total_violations"].(float64) != 3 {
		t.Fatalf("unexpected ended session %v", ended)
	}

	report := s.expect(http.MethodGet, fmt.Sprintf("/api/reports/%d", id), nil, http.StatusOK)
	if report["missing_count"].(float64) != 1 || report["status"] != "COMPLETED" {
		t.Fatalf("unexpected report %v", report)
	}
	dashboard := s.expect(http.MethodGet, "/api/reports/dashboard", nil, http.StatusOK)
	if dashboard["completed_sessions"].(float64) != 1 {
		t.Fatalf("unexpected dashboard %v", dashboard)
	}

	s.expect(http.MethodGet, "/api/sessions/999", nil, http.StatusNotFound)
	s.expect(http.MethodGet, "/api/sessions/abc", nil, http.StatusBadRequest)
	s.expect(http.MethodDelete, fmt.Sprintf("/api/sessions/%d", id), nil, http.StatusNoContent)
	s.expect(http.MethodGet, fmt.Sprintf("/api/reports/%d", id), nil, http.StatusNotFound)
	s.expect(http.MethodPost, "/api/auth/logout", nil, http.StatusOK)
}

func TestAuthDisabledAndOperationalRoutes(t *testing.T) {
	s, _ := newTestServer(t, false)

	s.expect(http.MethodGet, "/ping", nil, http.StatusOK)
	s.expect(http.MethodPost, "/api/sessions", map[string]interface{}{"name": "Open exam"}, http.StatusCreated)
	if sessions := s.list("/api/sessions"); len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}

	settings := s.expect(http.MethodGet, "/api/settings", nil, http.StatusOK)
	scoring := settings["scoring"].(map[string]interface{})
	if scoring["basePoints"].(map[string]interface{})["EXTRA_PERSON"].(float64) != 50 || settings["authEnabled"] != false {
		t.Fatalf("unexpected settings %v", settings)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "proctor_api_requests_total") {
		t.Fatalf("metrics endpoint = %d", w.Code)
	}
}

func TestLiveFeedReceivesBatches(t *testing.T) {
	s, hub := newTestServer(t, false)
	httpSrv := httptest.NewServer(s.handler)
	t.Cleanup(httpSrv.Close)

	created := s.expect(http.MethodPost, "/api/sessions", map[string]interface{}{"name": "Live exam"}, http.StatusCreated)
	id := int64(created["id"].(float64))
	s.expect(http.MethodPost, fmt.Sprintf("/api/sessions/%d/start", id), nil, http.StatusOK)

	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + fmt.Sprintf("/ws?session_id=%d", id)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("live client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.expect(http.MethodPost, "/api/detect/process", map[string]interface{}{
		"session_id": id,
		"detections": []map[string]interface{}{{"person_id": "s9", "class_name": "earphone"}},
	}, http.StatusOK)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg broadcast.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if msg.SessionID != id {
		t.Fatalf("unexpected live message %+v", msg)
	}

	bad := httptest.NewRequest(http.MethodGet, "/ws?session_id=x", nil)
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, bad)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad session_id status = %d", w.Code)
	}
}
