package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/goodtune/comptrack/internal/auth"
	"github.com/goodtune/comptrack/internal/clock"
	"github.com/goodtune/comptrack/internal/comp"
	"github.com/goodtune/comptrack/internal/config"
	"github.com/goodtune/comptrack/internal/opday"
	"github.com/goodtune/comptrack/internal/session"
	"github.com/goodtune/comptrack/internal/storage/redis"
	"github.com/rs/zerolog"
)

var local = time.FixedZone("UTC-3", -3*60*60)

type testEnv struct {
	server   *httptest.Server
	clock    *clock.Fake
	registry *session.Registry
	mr       *miniredis.Miniredis
}

type snapshotJSON struct {
	State          string `json:"state"`
	UserID         string `json:"user_id"`
	WarningVisible bool   `json:"warning_visible"`
	RemainingMS    int64  `json:"remaining_ms"`
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	store, err := redis.Open(config.RedisConfig{
		Host:         mr.Addr(),
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
	})
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	clk := clock.NewFake(time.Date(2024, 5, 1, 20, 0, 0, 0, local))
	logger := zerolog.Nop()

	resolver, err := opday.New(opday.DefaultConfig(), clk)
	if err != nil {
		t.Fatalf("opday.New failed: %v", err)
	}

	registry, err := session.NewRegistry(session.RegistryConfig{
		Monitor: session.Config{
			Timeout:     30 * time.Minute,
			WarningTime: 5 * time.Minute,
		},
	}, clk, nil, logger)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	t.Cleanup(registry.CloseAll)

	srv := NewServer(Config{PushInterval: 10 * time.Millisecond}, Deps{
		Auth:     auth.NewProvider(store.Sessions(), "test-secret", 12*time.Hour, clk, logger),
		Registry: registry,
		Comps:    comp.NewService(store.Comps(), resolver, clk, logger),
		Resolver: resolver,
		Health:   store,
		Clock:    clk,
	}, logger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, clock: clk, registry: registry, mr: mr}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (e *testEnv) openSession(t *testing.T, userID string) string {
	t.Helper()

	req, _ := http.NewRequest(http.MethodPost, e.server.URL+"/api/session", nil)
	req.Header.Set("X-Auth-User", userID)
	req.Header.Set("X-Auth-Name", "Manager "+userID)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201 opening session, got %d", resp.StatusCode)
	}

	var out struct {
		Token   string       `json:"token"`
		Monitor snapshotJSON `json:"monitor"`
	}
	decode(t, resp, &out)
	if out.Token == "" {
		t.Fatal("Expected a token")
	}
	if out.Monitor.State != "active" {
		t.Fatalf("Expected active monitor, got %q", out.Monitor.State)
	}
	return out.Token
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("Expected status %d, got %d", want, resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	env := setupTestServer(t)

	expectStatus(t, env.do(t, "GET", "/health", "", nil), http.StatusOK)

	env.mr.Close()
	expectStatus(t, env.do(t, "GET", "/health", "", nil), http.StatusServiceUnavailable)
}

func TestDay(t *testing.T) {
	env := setupTestServer(t)

	tests := []struct {
		name  string
		query string
		day   string
		label string
		turn  string
	}{
		{"now", "", "2024-05-01", "01/05/2024 a 02/05/2024", "night"},
		{"before cutover", "?at=2024-05-02T04:59:59-03:00", "2024-05-01", "01/05/2024 a 02/05/2024", "night"},
		{"at cutover", "?at=2024-05-02T05:00:00-03:00", "2024-05-02", "02/05/2024 a 03/05/2024", "morning"},
		{"utc input", "?at=2024-05-02T07:59:00Z", "2024-05-01", "01/05/2024 a 02/05/2024", "night"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, "GET", "/api/day"+tt.query, "", nil)
			expectStatus(t, resp, http.StatusOK)

			var info struct {
				Day   string `json:"day"`
				Label string `json:"label"`
				Turn  string `json:"turn"`
			}
			decode(t, resp, &info)

			if info.Day != tt.day || info.Label != tt.label || info.Turn != tt.turn {
				t.Errorf("Expected %s/%q/%s, got %s/%q/%s", tt.day, tt.label, tt.turn, info.Day, info.Label, info.Turn)
			}
		})
	}

	expectStatus(t, env.do(t, "GET", "/api/day?at=yesterday", "", nil), http.StatusBadRequest)
}

func TestOpenSession_RequiresIdentity(t *testing.T) {
	env := setupTestServer(t)

	expectStatus(t, env.do(t, "POST", "/api/session", "", nil), http.StatusUnauthorized)
	if env.registry.Len() != 0 {
		t.Errorf("Expected no monitored sessions, got %d", env.registry.Len())
	}
}

func TestAuthMiddleware(t *testing.T) {
	env := setupTestServer(t)

	expectStatus(t, env.do(t, "GET", "/api/session", "", nil), http.StatusUnauthorized)
	expectStatus(t, env.do(t, "GET", "/api/session", "garbage", nil), http.StatusUnauthorized)
	expectStatus(t, env.do(t, "GET", "/api/comps", "garbage", nil), http.StatusUnauthorized)

	token := env.openSession(t, "mgr-1")
	expectStatus(t, env.do(t, "GET", "/api/session", token, nil), http.StatusOK)
}

func TestSession_WarningAndExtend(t *testing.T) {
	env := setupTestServer(t)
	token := env.openSession(t, "mgr-1")

	env.clock.Advance(27 * time.Minute)

	var snap snapshotJSON
	resp := env.do(t, "GET", "/api/session", token, nil)
	expectStatus(t, resp, http.StatusOK)
	decode(t, resp, &snap)
	if snap.State != "warning" || !snap.WarningVisible {
		t.Fatalf("Expected visible warning, got %+v", snap)
	}
	if snap.RemainingMS != (3 * time.Minute).Milliseconds() {
		t.Errorf("Expected 180000ms remaining, got %d", snap.RemainingMS)
	}

	// Passive activity does not dismiss the warning.
	resp = env.do(t, "POST", "/api/session/activity", token, map[string]string{"kind": "mousemove"})
	expectStatus(t, resp, http.StatusOK)
	decode(t, resp, &snap)
	if snap.State != "warning" {
		t.Errorf("Expected warning after activity, got %s", snap.State)
	}

	resp = env.do(t, "POST", "/api/session/extend", token, nil)
	expectStatus(t, resp, http.StatusOK)
	decode(t, resp, &snap)
	if snap.State != "active" || snap.WarningVisible || snap.RemainingMS != 0 {
		t.Errorf("Expected active session after extend, got %+v", snap)
	}

	var notices struct {
		Notices []struct {
			Level string `json:"level"`
			Title string `json:"title"`
		} `json:"notices"`
	}
	resp = env.do(t, "GET", "/api/session/notices", token, nil)
	expectStatus(t, resp, http.StatusOK)
	decode(t, resp, &notices)
	if len(notices.Notices) != 2 || notices.Notices[0].Level != "warning" || notices.Notices[1].Level != "success" {
		t.Errorf("Expected warning then success notices, got %+v", notices.Notices)
	}

	// The previous deadline passes without a sign-out.
	env.clock.Advance(5 * time.Minute)
	expectStatus(t, env.do(t, "GET", "/api/session", token, nil), http.StatusOK)
}

func TestSession_ActivityKeepsAlive(t *testing.T) {
	env := setupTestServer(t)
	token := env.openSession(t, "mgr-1")

	for i := 0; i < 4; i++ {
		env.clock.Advance(20 * time.Minute)
		expectStatus(t, env.do(t, "POST", "/api/session/activity", token, map[string]string{"kind": "keypress"}), http.StatusOK)
	}

	var snap snapshotJSON
	resp := env.do(t, "GET", "/api/session", token, nil)
	expectStatus(t, resp, http.StatusOK)
	decode(t, resp, &snap)
	if snap.State != "active" {
		t.Errorf("Expected active session, got %s", snap.State)
	}
}

func TestSession_ActivityRequiresKind(t *testing.T) {
	env := setupTestServer(t)
	token := env.openSession(t, "mgr-1")

	expectStatus(t, env.do(t, "POST", "/api/session/activity", token, map[string]string{}), http.StatusBadRequest)
	expectStatus(t, env.do(t, "POST", "/api/session/activity", token, map[string]string{"what": "x"}), http.StatusBadRequest)
}

func TestSession_ExpiryRevokesToken(t *testing.T) {
	env := setupTestServer(t)
	token := env.openSession(t, "mgr-1")

	env.clock.Advance(30 * time.Minute)

	expectStatus(t, env.do(t, "GET", "/api/session", token, nil), http.StatusUnauthorized)
	expectStatus(t, env.do(t, "GET", "/api/comps", token, nil), http.StatusUnauthorized)

	var health struct {
		OpenSessions int `json:"open_sessions"`
	}
	resp := env.do(t, "GET", "/health", "", nil)
	expectStatus(t, resp, http.StatusOK)
	decode(t, resp, &health)
	if health.OpenSessions != 0 {
		t.Errorf("Expected 0 open sessions after expiry, got %d", health.OpenSessions)
	}
}

func TestSession_Logout(t *testing.T) {
	env := setupTestServer(t)
	token := env.openSession(t, "mgr-1")
	other := env.openSession(t, "mgr-2")

	expectStatus(t, env.do(t, "DELETE", "/api/session", token, nil), http.StatusNoContent)
	expectStatus(t, env.do(t, "GET", "/api/session", token, nil), http.StatusUnauthorized)

	// Sessions are isolated.
	expectStatus(t, env.do(t, "GET", "/api/session", other, nil), http.StatusOK)
	if env.registry.Len() != 1 {
		t.Errorf("Expected 1 open session, got %d", env.registry.Len())
	}
}

func TestComps_Lifecycle(t *testing.T) {
	env := setupTestServer(t)
	token := env.openSession(t, "mgr-1")

	expectStatus(t, env.do(t, "POST", "/api/comps", token, map[string]interface{}{
		"waiter": "joao", "reason": "birthday", "amount_cents": 0,
	}), http.StatusBadRequest)

	var created struct {
		ID             string `json:"id"`
		IssuedBy       string `json:"issued_by"`
		OperationalDay string `json:"operational_day"`
		Turn           string `json:"turn"`
	}
	resp := env.do(t, "POST", "/api/comps", token, map[string]interface{}{
		"waiter": "joao", "reason": "birthday", "amount_cents": 1500,
	})
	expectStatus(t, resp, http.StatusCreated)
	decode(t, resp, &created)
	if created.IssuedBy != "mgr-1" || created.OperationalDay != "2024-05-01" || created.Turn != "night" {
		t.Errorf("Unexpected comp: %+v", created)
	}

	// 04:30 the next morning still belongs to 2024-05-01.
	env.clock.Set(time.Date(2024, 5, 2, 4, 30, 0, 0, local))
	env.do(t, "POST", "/api/session/reset", token, nil)
	expectStatus(t, env.do(t, "POST", "/api/comps", token, map[string]interface{}{
		"waiter": "maria", "reason": "delay", "amount_cents": 500,
	}), http.StatusCreated)

	var list struct {
		Day   string `json:"day"`
		Label string `json:"label"`
		Count int    `json:"count"`
	}
	resp = env.do(t, "GET", "/api/comps", token, nil)
	expectStatus(t, resp, http.StatusOK)
	decode(t, resp, &list)
	if list.Day != "2024-05-01" || list.Count != 2 || list.Label != "01/05/2024 a 02/05/2024" {
		t.Errorf("Unexpected list: %+v", list)
	}

	expectStatus(t, env.do(t, "GET", "/api/comps?day=nope", token, nil), http.StatusBadRequest)
	expectStatus(t, env.do(t, "GET", "/api/comps/"+created.ID, token, nil), http.StatusOK)
	expectStatus(t, env.do(t, "GET", "/api/comps/missing", token, nil), http.StatusNotFound)

	var summary struct {
		Count      int64            `json:"count"`
		TotalCents int64            `json:"total_cents"`
		ByWaiter   map[string]int64 `json:"by_waiter"`
	}
	resp = env.do(t, "GET", "/api/days/today", token, nil)
	expectStatus(t, resp, http.StatusOK)
	decode(t, resp, &summary)
	if summary.Count != 2 || summary.TotalCents != 2000 || summary.ByWaiter["maria"] != 500 {
		t.Errorf("Unexpected summary: %+v", summary)
	}

	expectStatus(t, env.do(t, "DELETE", "/api/comps/"+created.ID, token, nil), http.StatusOK)
	expectStatus(t, env.do(t, "DELETE", "/api/comps/"+created.ID, token, nil), http.StatusNotFound)

	resp = env.do(t, "GET", "/api/days/2024-05-01/summary", token, nil)
	expectStatus(t, resp, http.StatusOK)
	decode(t, resp, &summary)
	if summary.Count != 1 || summary.TotalCents != 500 {
		t.Errorf("Expected totals reversed after delete, got %+v", summary)
	}

	expectStatus(t, env.do(t, "GET", "/api/days/01-05-2024/summary", token, nil), http.StatusBadRequest)

	var days struct {
		Days []string `json:"days"`
	}
	resp = env.do(t, "GET", "/api/days", token, nil)
	expectStatus(t, resp, http.StatusOK)
	decode(t, resp, &days)
	if len(days.Days) != 1 || days.Days[0] != "2024-05-01" {
		t.Errorf("Expected [2024-05-01], got %v", days.Days)
	}
}

func TestWebSocket(t *testing.T) {
	env := setupTestServer(t)
	token := env.openSession(t, "mgr-1")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/session/ws?token=" + token
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer func() { _ = conn.CloseNow() }()

	type event struct {
		Type   string        `json:"type"`
		State  *snapshotJSON `json:"state"`
		Notice *struct {
			Title string `json:"title"`
		} `json:"notice"`
	}

	readUntil := func(match func(event) bool) event {
		t.Helper()
		for {
			var ev event
			if err := wsjson.Read(ctx, conn, &ev); err != nil {
				t.Fatalf("read failed: %v", err)
			}
			if match(ev) {
				return ev
			}
		}
	}

	first := readUntil(func(ev event) bool { return ev.Type == "state" })
	if first.State.State != "active" {
		t.Fatalf("Expected active state, got %s", first.State.State)
	}

	if err := wsjson.Write(ctx, conn, map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	readUntil(func(ev event) bool { return ev.Type == "pong" })

	env.clock.Advance(26 * time.Minute)
	readUntil(func(ev event) bool { return ev.Type == "notice" && ev.Notice.Title == "Session about to expire" })
	readUntil(func(ev event) bool { return ev.Type == "state" && ev.State.WarningVisible })

	if err := wsjson.Write(ctx, conn, map[string]string{"type": "extend"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	readUntil(func(ev event) bool { return ev.Type == "state" && ev.State.State == "active" })

	env.clock.Advance(30 * time.Minute)
	readUntil(func(ev event) bool { return ev.Type == "state" && ev.State.State == "idle" })

	var ev event
	err = wsjson.Read(ctx, conn, &ev)
	if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Errorf("Expected normal closure after expiry, got %v", err)
	}
}

func TestWebSocket_RequiresToken(t *testing.T) {
	env := setupTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/session/ws"
	_, resp, err := websocket.Dial(ctx, url, nil)
	if err == nil {
		t.Fatal("Expected dial to fail without a token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %v", resp)
	}
}

func TestAbandonSession_LogsRevokeFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := redis.Open(config.RedisConfig{
		Host:         mr.Addr(),
		DialTimeout:  "1s",
		ReadTimeout:  "1s",
		WriteTimeout: "1s",
	})
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	var logs bytes.Buffer
	logger := zerolog.New(&logs)
	clk := clock.NewFake(time.Date(2024, 5, 1, 20, 0, 0, 0, local))

	srv := NewServer(Config{}, Deps{
		Auth:  auth.NewProvider(store.Sessions(), "test-secret", time.Hour, clk, logger),
		Clock: clk,
	}, logger)

	mr.Close()
	srv.abandonSession(context.Background(), "s1")

	if !strings.Contains(logs.String(), "Failed to revoke session") {
		t.Errorf("Expected revoke failure to be logged, got %q", logs.String())
	}
	if !strings.Contains(logs.String(), `"session_id":"s1"`) {
		t.Errorf("Expected session id in log, got %q", logs.String())
	}
}
