package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"runtime"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"scriptgate/internal/auditlog"
	"scriptgate/internal/chat"
	"scriptgate/internal/config"
	"scriptgate/internal/domain"
	"scriptgate/internal/runner"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// mockProvider implements domain.Provider for testing.
type mockProvider struct {
	content string
	err     error
	delay   time.Duration
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) Healthy(ctx context.Context) error { return nil }

func (m *mockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return &domain.ChatResponse{Content: m.content}, nil
}

// memRecorder collects audit entries in memory.
type memRecorder struct {
	mu      sync.Mutex
	entries []auditlog.Entry
}

func (m *memRecorder) Record(ctx context.Context, e auditlog.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memRecorder) all() []auditlog.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.entries)
}

func shTarget(script string) runner.Target {
	return runner.Target{Command: "sh", Args: []string{"-c", script}}
}

type fixture struct {
	server *Server
	audit  *memRecorder
	prov   *mockProvider
}

func newFixture(t *testing.T, targets map[string]runner.Target, routes []Route) *fixture {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("gateway tests need a POSIX shell")
	}
	logger := testLogger()
	prov := &mockProvider{content: "Happy to help with propane routing."}
	svc := chat.NewService(chat.ServiceConfig{
		Provider:   prov,
		MaxTokens:  256,
		BookingURL: "https://example.com/book",
		Logger:     logger,
	})
	audit := &memRecorder{}
	srv := New(Config{
		ServiceName: "test-api",
		Version:     "1.2.3",
		Table:       NewTable(routes),
		Runner:      runner.New(runner.Config{Targets: targets, KillGrace: time.Second, Logger: logger}),
		Chat:        svc,
		Audit:       audit,
		Logger:      logger,
	})
	srv.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 678_000_000, time.UTC) }
	return &fixture{server: srv, audit: audit, prov: prov}
}

func defaultFixture(t *testing.T) *fixture {
	targets := map[string]runner.Target{
		"qualify": shTarget(`cat >/dev/null; printf '{"qualified": true, "score": 82}'`),
		"echo":    shTarget(`cat`),
		"list":    shTarget(`cat >/dev/null; printf '[1,2,3]'`),
		"stamped": shTarget(`cat >/dev/null; printf '{"timestamp":"keep-me"}'`),
		"failing": shTarget(`cat >/dev/null; echo '{"error":"bad"}'; echo boom >&2; exit 2`),
		"garbled": shTarget(`cat >/dev/null; printf 'not json at all'`),
		"slow":    shTarget(`sleep 5`),
		"ghost":   {Command: "definitely-not-a-real-binary-xyz"},
	}
	routes := []Route{
		{Name: "index", Method: "GET", Path: "/", Kind: config.RouteDocs},
		{Name: "health", Method: "GET", Path: "/health", Kind: config.RouteHealth, Summary: "Health check"},
		{Name: "qualify", Method: "POST", Path: "/qualify", Kind: config.RouteScript, Target: "qualify",
			Summary:  "Qualify MCA application",
			Required: []string{"company_name", "annual_revenue", "credit_score", "business_age_months"},
			Optional: []string{"industry"}, Timeout: 5 * time.Second,
			Example: map[string]any{"company_name": "Acme Corp"}},
		{Name: "echo", Method: "POST", Path: "/echo", Kind: config.RouteScript, Target: "echo", Timeout: 5 * time.Second},
		{Name: "list", Method: "POST", Path: "/list", Kind: config.RouteScript, Target: "list", Timeout: 5 * time.Second},
		{Name: "stamped", Method: "POST", Path: "/stamped", Kind: config.RouteScript, Target: "stamped", Timeout: 5 * time.Second},
		{Name: "failing", Method: "POST", Path: "/failing", Kind: config.RouteScript, Target: "failing", Timeout: 5 * time.Second},
		{Name: "garbled", Method: "POST", Path: "/garbled", Kind: config.RouteScript, Target: "garbled", Timeout: 5 * time.Second},
		{Name: "slow", Method: "POST", Path: "/slow", Kind: config.RouteScript, Target: "slow", Timeout: 300 * time.Millisecond},
		{Name: "ghost", Method: "POST", Path: "/ghost", Kind: config.RouteScript, Target: "ghost", Timeout: 5 * time.Second},
		{Name: "chat", Method: "POST", Path: "/chat", Kind: config.RouteChat,
			Summary: "Website chatbot", Required: []string{"message"}, Timeout: 2 * time.Second},
	}
	return newFixture(t, targets, routes)
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("response is not a JSON object: %v\n%s", err, rec.Body.String())
	}
	return m
}

func assertEnvelope(t *testing.T, rec *httptest.ResponseRecorder, status int, errType string) map[string]any {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status: got %d want %d: %s", rec.Code, status, rec.Body.String())
	}
	body := decode(t, rec)
	if body["error_type"] != errType {
		t.Errorf("error_type: got %v want %s", body["error_type"], errType)
	}
	if s, _ := body["error"].(string); s == "" {
		t.Error("error message missing")
	}
	if body["timestamp"] != "2025-01-02T03:04:05.678Z" {
		t.Errorf("timestamp: %v", body["timestamp"])
	}
	return body
}

func stringList(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		s, _ := it.(string)
		out = append(out, s)
	}
	return out
}

func TestScript_SuccessInjectsTimestamp(t *testing.T) {
	f := defaultFixture(t)
	rec := f.do("POST", "/qualify", `{"company_name":"Acme","annual_revenue":500000,"credit_score":650,"business_age_months":24}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["qualified"] != true || body["score"] != float64(82) {
		t.Errorf("target output not forwarded: %v", body)
	}
	if body["timestamp"] != "2025-01-02T03:04:05.678Z" {
		t.Errorf("timestamp not injected: %v", body["timestamp"])
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Errorf("content type: %s", rec.Header().Get("Content-Type"))
	}
}

func TestScript_PayloadReachesTarget(t *testing.T) {
	f := defaultFixture(t)
	rec := f.do("POST", "/echo", `{"domain":"stripe.com","nested":{"a":[1,2]}}`)
	body := decode(t, rec)
	if body["domain"] != "stripe.com" {
		t.Errorf("echo: %v", body)
	}
	if _, ok := body["nested"].(map[string]any); !ok {
		t.Errorf("nested value lost: %v", body)
	}
}

func TestScript_ExistingTimestampAndNonObjectsUntouched(t *testing.T) {
	f := defaultFixture(t)

	rec := f.do("POST", "/stamped", `{"x":1}`)
	if body := decode(t, rec); body["timestamp"] != "keep-me" {
		t.Errorf("existing timestamp overwritten: %v", body["timestamp"])
	}

	rec = f.do("POST", "/list", `{"x":1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[1,2,3]" {
		t.Errorf("array output changed: %s", got)
	}
}

func TestScript_MissingFieldsInDeclaredOrder(t *testing.T) {
	f := defaultFixture(t)
	rec := f.do("POST", "/qualify", `{"company_name":"Acme","industry":"Retail"}`)
	body := assertEnvelope(t, rec, http.StatusBadRequest, "missing_fields")

	want := []string{"annual_revenue", "credit_score", "business_age_months"}
	if got := stringList(body["missing_fields"]); !slices.Equal(got, want) {
		t.Errorf("missing_fields: got %v want %v", got, want)
	}
	if got := stringList(body["received_fields"]); !slices.Equal(got, []string{"company_name", "industry"}) {
		t.Errorf("received_fields: %v", got)
	}
	if got := stringList(body["required_fields"]); len(got) != 4 {
		t.Errorf("required_fields: %v", got)
	}
}

func TestScript_ValidationNeverInvokesTarget(t *testing.T) {
	f := defaultFixture(t)
	// The slow target would time out if it ran. An empty object is reported
	// as empty_body, not as missing_fields listing every required field.
	start := time.Now()
	rec := f.do("POST", "/slow", `{}`)
	assertEnvelope(t, rec, http.StatusBadRequest, "empty_body")
	if time.Since(start) > 250*time.Millisecond {
		t.Error("validation failure should not launch the target")
	}
}

func TestScript_NotJSON(t *testing.T) {
	f := defaultFixture(t)
	for _, body := range []string{`not json`, `[1,2]`, `null`, `"str"`, `{"a":1} {"b":2}`} {
		rec := f.do("POST", "/echo", body)
		assertEnvelope(t, rec, http.StatusBadRequest, "not_json")
	}

	req := httptest.NewRequest("POST", "/echo", strings.NewReader(`{"a":1}`))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assertEnvelope(t, rec, http.StatusBadRequest, "not_json")

	// No Content-Type at all is accepted.
	req = httptest.NewRequest("POST", "/echo", strings.NewReader(`{"a":1}`))
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("missing content type: %d %s", rec.Code, rec.Body.String())
	}
}

func TestScript_BodyTooLarge(t *testing.T) {
	f := defaultFixture(t)
	f.server.maxBody = 16
	rec := f.do("POST", "/echo", `{"padding":"`+strings.Repeat("x", 64)+`"}`)
	assertEnvelope(t, rec, http.StatusRequestEntityTooLarge, ErrTypeBodyTooLarge)
}

func TestScript_NonZeroExit(t *testing.T) {
	f := defaultFixture(t)
	rec := f.do("POST", "/failing", `{"a":1}`)
	body := assertEnvelope(t, rec, http.StatusInternalServerError, "non_zero_exit")
	if body["exit_code"] != float64(2) || body["target"] != "failing" {
		t.Errorf("envelope: %v", body)
	}
	if strings.Contains(rec.Body.String(), "boom") {
		t.Error("stderr must not reach the client")
	}
}

func TestScript_NonZeroExitStderrStaysOutOfWarnLog(t *testing.T) {
	f := defaultFixture(t)
	var logs bytes.Buffer
	f.server.logger = slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn}))

	rec := f.do("POST", "/failing", `{"a":1}`)
	assertEnvelope(t, rec, http.StatusInternalServerError, "non_zero_exit")

	out := logs.String()
	if !strings.Contains(out, "request failed") {
		t.Errorf("expected the failure to be logged, got:\n%s", out)
	}
	if strings.Contains(out, "boom") {
		t.Errorf("full stderr logged at warn:\n%s", out)
	}
}

func TestScript_MalformedOutput(t *testing.T) {
	f := defaultFixture(t)
	rec := f.do("POST", "/garbled", `{"a":1}`)
	body := assertEnvelope(t, rec, http.StatusInternalServerError, "malformed_output")
	if body["stdout"] != "not json at all" {
		t.Errorf("stdout preview: %v", body["stdout"])
	}
	if s, _ := body["parse_error"].(string); s == "" {
		t.Error("parse_error missing")
	}
}

func TestScript_Timeout(t *testing.T) {
	f := defaultFixture(t)
	start := time.Now()
	rec := f.do("POST", "/slow", `{"a":1}`)
	body := assertEnvelope(t, rec, http.StatusGatewayTimeout, "timeout")
	if ms, _ := body["elapsed_ms"].(float64); ms < 300 {
		t.Errorf("elapsed_ms: %v", body["elapsed_ms"])
	}
	if time.Since(start) > 3*time.Second {
		t.Error("timeout took too long to report")
	}
}

func TestScript_LaunchFailure(t *testing.T) {
	f := defaultFixture(t)
	rec := f.do("POST", "/ghost", `{"a":1}`)
	body := assertEnvelope(t, rec, http.StatusInternalServerError, "launch_failure")
	if body["target"] != "ghost" {
		t.Errorf("target: %v", body["target"])
	}
}

func TestDispatch_RouteNotFound(t *testing.T) {
	f := defaultFixture(t)
	rec := f.do("GET", "/nope", "")
	body := assertEnvelope(t, rec, http.StatusNotFound, "route_not_found")
	if body["path"] != "/nope" || body["method"] != "GET" {
		t.Errorf("envelope: %v", body)
	}
	endpoints := stringList(body["available_endpoints"])
	if !slices.Contains(endpoints, "POST /qualify") || !slices.Contains(endpoints, "GET /health") {
		t.Errorf("available_endpoints: %v", endpoints)
	}
}

func TestDispatch_MethodNotAllowed(t *testing.T) {
	f := defaultFixture(t)
	rec := f.do("GET", "/qualify", "")
	body := assertEnvelope(t, rec, http.StatusMethodNotAllowed, "method_not_allowed")
	if got := stringList(body["allowed_methods"]); !slices.Equal(got, []string{"POST"}) {
		t.Errorf("allowed_methods: %v", got)
	}
	if allow := rec.Header().Get("Allow"); !strings.Contains(allow, "POST") {
		t.Errorf("Allow header: %q", allow)
	}
}

func TestDispatch_OptionsPreflight(t *testing.T) {
	f := defaultFixture(t)
	rec := f.do("OPTIONS", "/chat", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status: %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS origin")
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Methods"), "POST") {
		t.Error("missing CORS methods")
	}
	if rec.Body.Len() != 0 {
		t.Error("preflight should have no body")
	}
}

func TestMiddleware_RequestID(t *testing.T) {
	f := defaultFixture(t)
	rec := f.do("GET", "/health", "")
	if rec.Header().Get(headerRequestID) == "" {
		t.Error("generated request id missing")
	}

	req := httptest.NewRequest("GET", "/nope", nil)
	req.Header.Set(headerRequestID, "abc-123")
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	if rec.Header().Get(headerRequestID) != "abc-123" {
		t.Errorf("incoming request id not echoed: %q", rec.Header().Get(headerRequestID))
	}
}

func TestMiddleware_CORSAllowList(t *testing.T) {
	f := defaultFixture(t)
	f.server.corsOrigins = []string{"https://site.example"}

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Origin", "https://site.example")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://site.example" {
		t.Errorf("allowed origin not echoed: %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}

	req = httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("unknown origin should not be allowed")
	}
}

func TestMiddleware_RecoversPanic(t *testing.T) {
	f := defaultFixture(t)
	h := f.server.observe(f.server.recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	})))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	body := assertEnvelope(t, rec, http.StatusInternalServerError, "internal_error")
	if strings.Contains(rec.Body.String(), "kaboom") {
		t.Errorf("panic value leaked: %v", body)
	}
}

func TestChat_PropaneFirstTurn(t *testing.T) {
	f := defaultFixture(t)
	rec := f.do("POST", "/chat", `{"message":"We are looking for a propane delivery system","conversation_history":[],"page_context":{"page_type":"propane"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["detected_industry"] != "propane" {
		t.Errorf("industry: %v", body["detected_industry"])
	}
	if body["should_offer_booking"] != false {
		t.Errorf("booking: %v", body["should_offer_booking"])
	}
	if v, present := body["booking_url"]; !present || v != nil {
		t.Errorf("booking_url should be null: %v", v)
	}
	if body["response"] != "Happy to help with propane routing." {
		t.Errorf("response: %v", body["response"])
	}
	if _, ok := body["timestamp"].(string); !ok {
		t.Error("timestamp missing")
	}
}

func TestChat_BookingOffered(t *testing.T) {
	f := defaultFixture(t)
	rec := f.do("POST", "/chat", `{"message":"Can we book a demo for next week?"}`)
	body := decode(t, rec)
	if body["should_offer_booking"] != true || body["booking_url"] != "https://example.com/book" {
		t.Errorf("booking: %v", body)
	}
}

func TestChat_InvalidMessage(t *testing.T) {
	f := defaultFixture(t)
	for _, payload := range []string{`{"message":"   "}`, `{"message":42}`, `{"message":null}`} {
		rec := f.do("POST", "/chat", payload)
		body := assertEnvelope(t, rec, http.StatusBadRequest, "invalid_field")
		if body["field"] != "message" {
			t.Errorf("field: %v", body["field"])
		}
	}

	rec := f.do("POST", "/chat", `{"message":"hi","conversation_history":"nope"}`)
	body := assertEnvelope(t, rec, http.StatusBadRequest, "invalid_field")
	if body["field"] != "conversation_history" {
		t.Errorf("field: %v", body["field"])
	}

	rec = f.do("POST", "/chat", `{"conversation_history":[]}`)
	assertEnvelope(t, rec, http.StatusBadRequest, "missing_fields")
}

func TestChat_GenerationError(t *testing.T) {
	f := defaultFixture(t)
	f.prov.err = errors.New("upstream 500")
	rec := f.do("POST", "/chat", `{"message":"hello"}`)
	body := assertEnvelope(t, rec, http.StatusInternalServerError, "generation_error")
	if body["provider"] != "mock" {
		t.Errorf("provider: %v", body["provider"])
	}
	if strings.Contains(rec.Body.String(), "upstream 500") {
		t.Error("provider error detail leaked")
	}
}

func TestChat_GenerationDeadline(t *testing.T) {
	f := defaultFixture(t)
	f.prov.delay = 5 * time.Second
	routes := f.server.table.Routes()
	for i := range routes {
		if routes[i].Kind == config.RouteChat {
			routes[i].Timeout = 100 * time.Millisecond
		}
	}
	f.server.table = NewTable(routes)

	rec := f.do("POST", "/chat", `{"message":"hello"}`)
	body := assertEnvelope(t, rec, http.StatusGatewayTimeout, "timeout")
	if _, ok := body["elapsed_ms"].(float64); !ok {
		t.Errorf("elapsed_ms missing: %v", body)
	}
}

func TestHealth(t *testing.T) {
	f := defaultFixture(t)
	rec := f.do("GET", "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	body := decode(t, rec)
	if body["status"] != "healthy" || body["service"] != "test-api" || body["version"] != "1.2.3" {
		t.Errorf("health: %v", body)
	}
	avail, _ := body["targets_available"].(map[string]any)
	if avail["qualify"] != true || avail["ghost"] != false {
		t.Errorf("targets_available: %v", avail)
	}
	prov, _ := body["provider"].(map[string]any)
	if prov["name"] != "mock" || prov["healthy"] != true {
		t.Errorf("provider: %v", prov)
	}
}

func TestDocs(t *testing.T) {
	cfg := config.Defaults()
	srv := New(Config{
		ServiceName: "resultant-ai-api",
		Version:     "1.0.0",
		Table:       TableFromConfig(cfg),
		Logger:      testLogger(),
	})

	for _, path := range []string{"/", "/api/docs"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status %d", path, rec.Code)
		}
		body := decode(t, rec)
		endpoints, _ := body["endpoints"].(map[string]any)
		for _, ep := range []string{"GET /health", "POST /audit", "POST /enrich", "POST /qualify", "POST /chat"} {
			if _, ok := endpoints[ep]; !ok {
				t.Errorf("%s: endpoint %s missing from %v", path, ep, endpoints)
			}
		}
		docs, _ := body["documentation"].(map[string]any)
		qualify, _ := docs["qualify"].(map[string]any)
		if qualify["endpoint"] != "/qualify" || qualify["method"] != "POST" {
			t.Errorf("qualify docs: %v", qualify)
		}
		if got := stringList(qualify["required_fields"]); len(got) != 4 {
			t.Errorf("qualify required: %v", got)
		}
		if _, ok := qualify["example"].(map[string]any); !ok {
			t.Error("qualify example missing")
		}
	}
}

func TestMetricsRouteOnlyWhenEnabled(t *testing.T) {
	cfg := config.Defaults()
	if _, _, known, _ := TableFromConfig(cfg).Match("GET", "/metrics"); known {
		t.Error("metrics route present while disabled")
	}

	cfg.Metrics.Enabled = true
	srv := New(Config{Table: TableFromConfig(cfg), Logger: testLogger()})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "scriptgate_uptime_seconds") {
		t.Errorf("metrics body: %s", rec.Body.String())
	}
}

func TestAuditRecordsOutcomeKinds(t *testing.T) {
	f := defaultFixture(t)
	f.do("POST", "/qualify", `{"company_name":"Acme","annual_revenue":1,"credit_score":1,"business_age_months":1}`)
	f.do("POST", "/failing", `{"a":1}`)
	f.do("POST", "/qualify", `{}`)
	f.do("GET", "/health", "")
	f.do("GET", "/nope", "")
	f.do("POST", "/chat", `{"message":"hello"}`)

	entries := f.audit.all()
	var kinds []string
	for _, e := range entries {
		kinds = append(kinds, e.Kind)
		if e.RequestID == "" {
			t.Error("entry without request id")
		}
	}
	want := []string{"success", "non_zero_exit", "empty_body", "success"}
	if !slices.Equal(kinds, want) {
		t.Errorf("kinds: got %v want %v", kinds, want)
	}
	if entries[1].Status != http.StatusInternalServerError || entries[1].Target != "failing" {
		t.Errorf("entry: %+v", entries[1])
	}
	if entries[3].Target != "mock" || entries[3].Route != "/chat" {
		t.Errorf("chat entry: %+v", entries[3])
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	f := defaultFixture(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- f.server.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/health"
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server not reachable: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status: %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestSuccessBody(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	cases := map[string]string{
		`  {"a":1}  `: `{"a":1,"timestamp":"2025-01-02T03:04:05.000Z"}`,
		`"text"`:      `"text"`,
		`42`:          `42`,
	}
	for in, want := range cases {
		if got := successBody(json.RawMessage(in), now); !bytes.Equal(got, []byte(want)) {
			t.Errorf("successBody(%s): got %s want %s", in, got, want)
		}
	}
}
