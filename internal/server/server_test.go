package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"guardline/internal/config"
	"guardline/internal/db"
	"guardline/internal/domain"
	"guardline/internal/engine"
	"guardline/internal/migrate"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	clock  *time.Time
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func (s *testServer) setNow(t time.Time) { *s.clock = t }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("test")
	cfg.Deployment.Timezone = "UTC"
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	clock := time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)
	e.Now = func() time.Time { return clock }
	e.Events.Now = func() time.Time { return clock }
	ctx := context.Background()
	if err := e.Repo.UpsertDeployConfig(ctx, cfg); err != nil {
		t.Fatalf("seed deploy config: %v", err)
	}
	if _, err := e.CreateService(ctx, domain.Service{ID: "svc-norte", Code: "COL-NORTE", Name: "Colinas Norte"}, "tester"); err != nil {
		t.Fatalf("seed service: %v", err)
	}
	if _, err := e.CreateGuard(ctx, domain.Guard{ID: "guard-1", Username: "jperez", ServiceCodes: []string{"COL-NORTE"}}, "tester"); err != nil {
		t.Fatalf("seed guard: %v", err)
	}
	if _, err := e.CreateGuard(ctx, domain.Guard{ID: "sup-1", Username: "mgarcia", Role: "supervisor"}, "tester"); err != nil {
		t.Fatalf("seed supervisor: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              "test-secret",
			AllowLegacyGuardHeader: true,
			EnableDevLogin:         true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		clock:  &clock,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asGuard(id string) map[string]string {
	return map[string]string{"X-Guard-Id": id}
}

type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func TestShiftLifecycleHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/shifts/schedule", map[string]any{
		"guard_id":             "guard-1",
		"service_id":           "svc-norte",
		"scheduled_start_time": "2024-03-05T09:00:00Z",
		"scheduled_end_time":   "2024-03-05T17:00:00Z",
	}, asGuard("sup-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("schedule status %d: %s", res.StatusCode, string(data))
	}
	var scheduled ShiftResponse
	if err := json.Unmarshal(data, &scheduled); err != nil {
		t.Fatalf("unmarshal shift: %v", err)
	}
	if scheduled.Status != "scheduled" {
		t.Fatalf("expected scheduled, got %s", scheduled.Status)
	}

	srv.setNow(time.Date(2024, 3, 5, 8, 50, 0, 0, time.UTC))
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/shifts/biometric-entry", map[string]any{}, asGuard("guard-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("biometric status %d: %s", res.StatusCode, string(data))
	}

	srv.setNow(time.Date(2024, 3, 5, 9, 10, 0, 0, time.UTC))
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/shifts/start", map[string]any{
		"service_id": "svc-norte",
		"location":   map[string]any{"latitude": 4.71, "longitude": -74.07},
	}, asGuard("guard-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start status %d: %s", res.StatusCode, string(data))
	}
	var started ShiftResponse
	if err := json.Unmarshal(data, &started); err != nil {
		t.Fatalf("unmarshal started: %v", err)
	}
	if started.Status != "active" {
		t.Fatalf("expected active, got %s", started.Status)
	}

	srv.setNow(time.Date(2024, 3, 5, 13, 0, 0, 0, time.UTC))
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/shifts/break/start", map[string]any{}, asGuard("guard-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("break start status %d: %s", res.StatusCode, string(data))
	}
	srv.setNow(time.Date(2024, 3, 5, 13, 30, 0, 0, time.UTC))
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/shifts/break/end", map[string]any{}, asGuard("guard-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("break end status %d: %s", res.StatusCode, string(data))
	}

	srv.setNow(time.Date(2024, 3, 5, 17, 5, 0, 0, time.UTC))
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/shifts/end", map[string]any{
		"notes": "sin novedad",
	}, asGuard("guard-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("end status %d: %s", res.StatusCode, string(data))
	}
	var done ShiftResponse
	if err := json.Unmarshal(data, &done); err != nil {
		t.Fatalf("unmarshal done: %v", err)
	}
	if done.Status != "completed" {
		t.Fatalf("expected completed, got %s", done.Status)
	}
	if done.TotalBreakMinutes != 30 {
		t.Fatalf("expected 30 break minutes, got %d", done.TotalBreakMinutes)
	}
	if done.TotalWorkedMinutes != 445 {
		t.Fatalf("expected 445 worked minutes, got %d", done.TotalWorkedMinutes)
	}
}

func TestBiometricOutOfWindowHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/shifts/schedule", map[string]any{
		"guard_id":             "guard-1",
		"service_id":           "svc-norte",
		"scheduled_start_time": "2024-03-05T09:00:00Z",
		"scheduled_end_time":   "2024-03-05T17:00:00Z",
	}, asGuard("sup-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("schedule status %d: %s", res.StatusCode, string(data))
	}

	srv.setNow(time.Date(2024, 3, 5, 8, 30, 0, 0, time.UTC))
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/shifts/biometric-entry", map[string]any{}, asGuard("guard-1"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(data))
	}
	var envelope errorEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "out_of_window" {
		t.Fatalf("expected out_of_window, got %s", envelope.Error.Code)
	}
}

func TestActiveShiftNotFound(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/shifts/active", nil, asGuard("guard-1"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
	var envelope errorEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("expected not_found, got %s", envelope.Error.Code)
	}
}

func TestUnauthenticatedRequest(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/shifts", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
}

func TestHealthNoAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestDevLoginAndBearerToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"guard_id": "guard-1",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal token: %v", err)
	}
	if login.Token == "" {
		t.Fatal("expected token")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/shifts/available-services", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("available services status %d: %s", res.StatusCode, string(data))
	}
	var services []ServiceResponse
	if err := json.Unmarshal(data, &services); err != nil {
		t.Fatalf("unmarshal services: %v", err)
	}
	if len(services) != 1 || services[0].Code != "COL-NORTE" {
		t.Fatalf("unexpected services: %+v", services)
	}
}

func TestServiceStatsHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/shifts/schedule", map[string]any{
		"guard_id":             "guard-1",
		"service_id":           "svc-norte",
		"scheduled_start_time": "2024-03-05T09:00:00Z",
		"scheduled_end_time":   "2024-03-05T17:00:00Z",
	}, asGuard("sup-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("schedule status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/services/svc-norte/shifts/stats", nil, asGuard("sup-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stats status %d: %s", res.StatusCode, string(data))
	}
	var stats []ShiftStatsResponse
	if err := json.Unmarshal(data, &stats); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if len(stats) != 1 || stats[0].Status != "scheduled" || stats[0].Count != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
