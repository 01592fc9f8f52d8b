package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"scriptgate/internal/config"
	"scriptgate/internal/domain"
	"scriptgate/internal/runner"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleRequest() domain.ChatRequest {
	return domain.ChatRequest{
		System: "be brief",
		Messages: []domain.Turn{
			{Role: domain.RoleAssistant, Content: "Hi there"},
			{Role: domain.RoleUser, Content: "propane routing?"},
		},
		MaxTokens: 128,
	}
}

func TestClaude_Chat(t *testing.T) {
	var got claudeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path: %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-test" {
			t.Errorf("api key header: %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Error("missing anthropic-version header")
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"content":[{"type":"text","text":"Hello "},{"type":"text","text":"world"}],"stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":4}}`)
	}))
	defer srv.Close()

	c := NewClaude(ClaudeConfig{APIKey: "sk-test", APIBase: srv.URL, Logger: testLogger()})
	resp, err := c.Chat(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "Hello world" {
		t.Errorf("content: %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 14 || resp.FinishReason != "end_turn" {
		t.Errorf("usage/finish: %+v", resp)
	}
	if got.Model != claudeDefaultModel || got.MaxTokens != 128 || got.System != "be brief" {
		t.Errorf("request: %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[1].Content != "propane routing?" {
		t.Errorf("messages: %+v", got.Messages)
	}
}

func TestClaude_FoldsSystemTurns(t *testing.T) {
	var got claudeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		io.WriteString(w, `{"content":[{"type":"text","text":"ok"}]}`)
	}))
	defer srv.Close()

	c := NewClaude(ClaudeConfig{APIKey: "k", APIBase: srv.URL})
	req := sampleRequest()
	req.Messages = append([]domain.Turn{{Role: domain.RoleSystem, Content: "page: propane"}}, req.Messages...)
	if _, err := c.Chat(context.Background(), req); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got.System != "be brief\n\npage: propane" {
		t.Errorf("system: %q", got.System)
	}
	if len(got.Messages) != 2 {
		t.Errorf("system turn should not be sent as a message: %+v", got.Messages)
	}
}

func TestClaude_NoKey(t *testing.T) {
	c := NewClaude(ClaudeConfig{})
	if err := c.Healthy(context.Background()); err == nil {
		t.Error("expected unhealthy without key")
	}
	if _, err := c.Chat(context.Background(), sampleRequest()); err == nil {
		t.Error("expected error without key")
	}
}

func TestClaude_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":"rate limited"}`)
	}))
	defer srv.Close()

	c := NewClaude(ClaudeConfig{APIKey: "k", APIBase: srv.URL})
	_, err := c.Chat(context.Background(), sampleRequest())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests || !strings.Contains(apiErr.Body, "rate limited") {
		t.Errorf("api error: %+v", apiErr)
	}
}

func TestOpenAI_Chat(t *testing.T) {
	var got oaiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/chat/completions":
			if r.Header.Get("Authorization") != "Bearer sk-oai" {
				t.Errorf("auth: %q", r.Header.Get("Authorization"))
			}
			json.NewDecoder(r.Body).Decode(&got)
			io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"Sure."},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`)
		case "/models":
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIKey: "sk-oai", APIBase: srv.URL + "/", Model: "gpt-test"})
	resp, err := o.Chat(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "Sure." || resp.Usage.TotalTokens != 5 {
		t.Errorf("response: %+v", resp)
	}
	if got.Model != "gpt-test" || len(got.Messages) != 3 || got.Messages[0].Role != domain.RoleSystem {
		t.Errorf("request: %+v", got)
	}
	if err := o.Healthy(context.Background()); err != nil {
		t.Errorf("Healthy: %v", err)
	}
}

func TestOpenAI_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIBase: srv.URL})
	if _, err := o.Chat(context.Background(), sampleRequest()); err == nil {
		t.Error("expected error for empty choices")
	}
}

func TestOpenAI_UnauthorizedHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{Name: "groq", APIBase: srv.URL})
	err := o.Healthy(context.Background())
	if err == nil || !strings.Contains(err.Error(), "groq") {
		t.Errorf("expected named auth error, got %v", err)
	}
}

func TestOllama_Chat(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/chat":
			json.NewDecoder(r.Body).Decode(&got)
			io.WriteString(w, `{"message":{"role":"assistant","content":"local reply"},"done":true,"done_reason":"stop","prompt_eval_count":7,"eval_count":3}`)
		case "/api/tags":
			io.WriteString(w, `{"models":[]}`)
		}
	}))
	defer srv.Close()

	o := NewOllama(OllamaConfig{APIBase: srv.URL})
	resp, err := o.Chat(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "local reply" || resp.Usage.TotalTokens != 10 {
		t.Errorf("response: %+v", resp)
	}
	if got.Stream || got.Model != ollamaDefaultModel {
		t.Errorf("request: %+v", got)
	}
	if n, _ := got.Options["num_predict"].(float64); n != 128 {
		t.Errorf("num_predict: %v", got.Options["num_predict"])
	}
	if err := o.Healthy(context.Background()); err != nil {
		t.Errorf("Healthy: %v", err)
	}
}

func TestOllama_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	o := NewOllama(OllamaConfig{APIBase: base, Timeout: time.Second})
	if err := o.Healthy(context.Background()); err == nil {
		t.Error("expected unreachable error")
	}
}

func newScriptRunner(t *testing.T, script string) *runner.Runner {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("script provider tests need a POSIX shell")
	}
	return runner.New(runner.Config{
		Targets: map[string]runner.Target{
			"gen": {Command: "sh", Args: []string{"-c", script}},
		},
		KillGrace: time.Second,
	})
}

func TestScript_Chat(t *testing.T) {
	r := newScriptRunner(t, `cat >/dev/null; printf '{"response":"scripted","usage":{"total_tokens":1}}'`)
	s := NewScript(ScriptConfig{Target: "gen", Invoker: r})

	resp, err := s.Chat(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "scripted" || resp.Usage.TotalTokens != 1 {
		t.Errorf("response: %+v", resp)
	}
	if err := s.Healthy(context.Background()); err != nil {
		t.Errorf("Healthy: %v", err)
	}
}

func TestScript_ReceivesConversation(t *testing.T) {
	r := newScriptRunner(t, `input=$(cat); case "$input" in *'"propane routing?"'*) printf '{"response":"seen"}';; *) printf '{"response":"missing"}';; esac`)
	s := NewScript(ScriptConfig{Target: "gen", Invoker: r})

	resp, err := s.Chat(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "seen" {
		t.Errorf("script did not receive the conversation: %q", resp.Content)
	}
}

func TestScript_Timeout(t *testing.T) {
	r := newScriptRunner(t, `sleep 5`)
	s := NewScript(ScriptConfig{Target: "gen", Invoker: r})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := s.Chat(ctx, sampleRequest())
	if !errors.Is(err, context.DeadlineExceeded) || !errors.Is(err, ErrScriptTimeout) {
		t.Errorf("expected deadline error, got %v", err)
	}
}

func TestScript_Failure(t *testing.T) {
	r := newScriptRunner(t, `exit 3`)
	s := NewScript(ScriptConfig{Target: "gen", Invoker: r})
	if _, err := s.Chat(context.Background(), sampleRequest()); err == nil {
		t.Error("expected error on non-zero exit")
	}
	if err := NewScript(ScriptConfig{Target: "missing", Invoker: r}).Healthy(context.Background()); err == nil {
		t.Error("expected unknown target to be unhealthy")
	}
}

func TestScript_RequiresResponseString(t *testing.T) {
	cases := map[string]string{
		"error object":  `cat >/dev/null; printf '{"error":"upstream refused"}'`,
		"null response": `cat >/dev/null; printf '{"response":null}'`,
		"number":        `cat >/dev/null; printf '{"response":42}'`,
	}
	for name, script := range cases {
		t.Run(name, func(t *testing.T) {
			r := newScriptRunner(t, script)
			s := NewScript(ScriptConfig{Target: "gen", Invoker: r})
			resp, err := s.Chat(context.Background(), sampleRequest())
			if err == nil {
				t.Fatalf("expected error, got reply %+v", resp)
			}
		})
	}

	r := newScriptRunner(t, `cat >/dev/null; printf '{"error":"upstream refused"}'`)
	_, err := NewScript(ScriptConfig{Target: "gen", Invoker: r}).Chat(context.Background(), sampleRequest())
	if !errors.Is(err, ErrNoResponse) {
		t.Errorf("expected ErrNoResponse, got %v", err)
	}

	r = newScriptRunner(t, `cat >/dev/null; printf '{"response":""}'`)
	resp, err := NewScript(ScriptConfig{Target: "gen", Invoker: r}).Chat(context.Background(), sampleRequest())
	if err != nil || resp.Content != "" {
		t.Errorf("an explicit empty string is a valid reply: %+v %v", resp, err)
	}
}

func TestFactory_Get(t *testing.T) {
	cfg := config.Defaults()
	cfg.Providers["claude"] = config.ProviderConfig{Enabled: true, APIKey: "k"}
	cfg.Providers["groq"] = config.ProviderConfig{Enabled: true, APIBase: "https://api.groq.test/v1"}
	cfg.Providers["mystery"] = config.ProviderConfig{Enabled: true}

	f := NewFactory(cfg, nil, testLogger())

	p, err := f.ChatProvider()
	if err != nil {
		t.Fatalf("ChatProvider: %v", err)
	}
	if p.Name() != "claude" {
		t.Errorf("chat provider: %s", p.Name())
	}
	again, _ := f.Get("claude")
	if again != p {
		t.Error("provider should be cached")
	}

	g, err := f.Get("groq")
	if err != nil {
		t.Fatalf("Get groq: %v", err)
	}
	if g.Name() != "groq" {
		t.Errorf("openai-compatible fallback name: %s", g.Name())
	}

	if _, err := f.Get("openai"); err == nil {
		t.Error("disabled provider should error")
	}
	if _, err := f.Get("nope"); err == nil {
		t.Error("unknown provider should error")
	}
	if _, err := f.Get("mystery"); err == nil {
		t.Error("provider without constructor or base should error")
	}
}

func TestFactory_ScriptNeedsRunner(t *testing.T) {
	cfg := config.Defaults()
	cfg.Providers["script"] = config.ProviderConfig{Enabled: true, Target: "gen"}

	if _, err := NewFactory(cfg, nil, testLogger()).Get("script"); err == nil {
		t.Error("expected error without runner")
	}

	r := newScriptRunner(t, `printf '{"response":"x"}'`)
	p, err := NewFactory(cfg, r, testLogger()).Get("script")
	if err != nil {
		t.Fatalf("Get script: %v", err)
	}
	if p.Name() != "script" {
		t.Errorf("name: %s", p.Name())
	}
}

func TestFactory_CheckAll(t *testing.T) {
	cfg := config.Defaults()
	cfg.Providers["claude"] = config.ProviderConfig{Enabled: true}

	statuses := NewFactory(cfg, nil, testLogger()).CheckAll(context.Background())
	if len(statuses) != len(cfg.Providers) {
		t.Fatalf("statuses: %d", len(statuses))
	}
	for i := 1; i < len(statuses); i++ {
		if statuses[i-1].Name > statuses[i].Name {
			t.Error("statuses not sorted")
		}
	}
	for _, st := range statuses {
		switch {
		case st.Name == "claude" && st.Err == nil:
			t.Error("claude without key should report an error")
		case !st.Enabled && st.Err != nil:
			t.Errorf("disabled provider %s should not be probed", st.Name)
		}
	}
}
