package frontdoor

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/polyglot-agent-gateway/internal/auth"
	"github.com/tjfontaine/polyglot-agent-gateway/internal/domain"
	"github.com/tjfontaine/polyglot-agent-gateway/internal/engine/enginetest"
	"github.com/tjfontaine/polyglot-agent-gateway/internal/gateway"
	"github.com/tjfontaine/polyglot-agent-gateway/internal/server"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(eng *enginetest.Scripted) chi.Router {
	gw := gateway.New(eng, gateway.WithLogger(testLogger()))
	r := chi.NewRouter()
	r.Use(server.AuthMiddleware(auth.NewAuthenticator(nil)))
	NewAnthropic(gw, testLogger()).Register(r)
	NewOpenAI(gw, testLogger()).Register(r)
	return r
}

func TestHandleMessages_Complete(t *testing.T) {
	r := newTestRouter(&enginetest.Scripted{Steps: []enginetest.Step{
		{Text: "The answer is 42."},
		{Usage: &domain.Usage{InputTokens: 5, OutputTokens: 6}},
		{Stop: domain.StopEndTurn},
	}})

	body := `{"model": "agent-model", "max_tokens": 100, "messages": [{"role": "user", "content": "question"}]}`
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/messages", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Type       string `json:"type"`
		StopReason string `json:"stop_reason"`
		Content    []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Type != "message" || resp.StopReason != "end_turn" {
		t.Errorf("resp = %+v", resp)
	}
	if len(resp.Content) != 1 || resp.Content[0].Text != "The answer is 42." {
		t.Errorf("content = %+v", resp.Content)
	}
}

func TestHandleMessages_ExternalToolHalt(t *testing.T) {
	r := newTestRouter(&enginetest.Scripted{Steps: []enginetest.Step{
		{Text: "Let me check."},
		{Tool: &enginetest.ToolCall{ID: "toolu_9", Name: "get_weather", Input: map[string]any{"location": "SF"}}},
	}})

	body := `{
		"model": "agent-model", "max_tokens": 100,
		"messages": [{"role": "user", "content": "weather?"}],
		"tools": [{"name": "get_weather", "description": "d", "input_schema": {"type": "object"}}]
	}`
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/messages", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		StopReason string `json:"stop_reason"`
		Content    []struct {
			Type string `json:"type"`
			Name string `json:"name"`
			ID   string `json:"id"`
		} `json:"content"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.StopReason != "tool_use" {
		t.Errorf("stop_reason = %q", resp.StopReason)
	}
	var toolBlock bool
	for _, block := range resp.Content {
		if block.Type == "tool_use" && block.Name == "get_weather" && block.ID == "toolu_9" {
			toolBlock = true
		}
	}
	if !toolBlock {
		t.Errorf("tool_use block missing: %s", rec.Body.String())
	}
}

func TestHandleChatCompletions_Complete(t *testing.T) {
	r := newTestRouter(&enginetest.Scripted{Steps: []enginetest.Step{
		{Text: "done"},
		{Usage: &domain.Usage{InputTokens: 2, OutputTokens: 1}},
		{Stop: domain.StopEndTurn},
	}})

	body := `{"model": "agent-model", "messages": [{"role": "user", "content": "hi"}]}`
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/chat/completions", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Object  string `json:"object"`
		Choices []struct {
			FinishReason string `json:"finish_reason"`
			Message      struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Object != "chat.completion" || len(resp.Choices) != 1 {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Choices[0].Message.Content != "done" || resp.Choices[0].FinishReason != "stop" {
		t.Errorf("choice = %+v", resp.Choices[0])
	}
	if resp.Usage.TotalTokens != 3 {
		t.Errorf("total_tokens = %d", resp.Usage.TotalTokens)
	}
}

func TestHandle_ValidationError(t *testing.T) {
	r := newTestRouter(&enginetest.Scripted{})

	tests := []struct {
		name string
		path string
		body string
	}{
		{"messages missing max_tokens", "/v1/messages", `{"model": "m", "messages": [{"role": "user", "content": "x"}]}`},
		{"chat missing model", "/v1/chat/completions", `{"messages": [{"role": "user", "content": "x"}]}`},
		{"malformed json", "/v1/messages", `{not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest("POST", tt.path, strings.NewReader(tt.body)))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400: %s", rec.Code, rec.Body.String())
			}
			var resp map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Errorf("error body is not JSON: %v", err)
			}
		})
	}
}

func TestHandle_EngineFailure(t *testing.T) {
	r := newTestRouter(&enginetest.Scripted{RunErr: io.ErrUnexpectedEOF})

	body := `{"model": "m", "max_tokens": 10, "messages": [{"role": "user", "content": "x"}]}`
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/messages", strings.NewReader(body)))

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleMessages_Streaming(t *testing.T) {
	r := newTestRouter(&enginetest.Scripted{Steps: []enginetest.Step{
		{Text: "chunk one "},
		{Text: "chunk two"},
		{Usage: &domain.Usage{InputTokens: 4, OutputTokens: 2}},
		{Stop: domain.StopEndTurn},
	}})

	body := `{"model": "m", "max_tokens": 10, "stream": true, "messages": [{"role": "user", "content": "x"}]}`
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/messages", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	out := rec.Body.String()
	for _, marker := range []string{"message_start", "chunk one ", "chunk two", "message_stop"} {
		if !strings.Contains(out, marker) {
			t.Errorf("stream missing %q:\n%s", marker, out)
		}
	}
}

func TestHandleChatCompletions_StreamingDone(t *testing.T) {
	r := newTestRouter(&enginetest.Scripted{Steps: []enginetest.Step{
		{Text: "streamed"},
		{Stop: domain.StopEndTurn},
	}})

	body := `{"model": "m", "stream": true, "messages": [{"role": "user", "content": "x"}]}`
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/chat/completions", strings.NewReader(body)))

	out := rec.Body.String()
	if !strings.HasSuffix(out, "data: [DONE]\n\n") {
		t.Errorf("stream does not end with DONE:\n%s", out)
	}
}

func TestHandleChatCompletions_StreamUsageOptIn(t *testing.T) {
	script := func() *enginetest.Scripted {
		return &enginetest.Scripted{Steps: []enginetest.Step{
			{Text: "hi"},
			{Usage: &domain.Usage{InputTokens: 3, OutputTokens: 1}},
			{Stop: domain.StopEndTurn},
		}}
	}

	t.Run("default omits usage chunk", func(t *testing.T) {
		r := newTestRouter(script())
		body := `{"model": "m", "stream": true, "messages": [{"role": "user", "content": "x"}]}`
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/chat/completions", strings.NewReader(body)))

		if strings.Contains(rec.Body.String(), `"usage"`) {
			t.Errorf("usage chunk present without stream_options:\n%s", rec.Body.String())
		}
	})

	t.Run("include_usage adds usage chunk", func(t *testing.T) {
		r := newTestRouter(script())
		body := `{"model": "m", "stream": true, "stream_options": {"include_usage": true}, "messages": [{"role": "user", "content": "x"}]}`
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/chat/completions", strings.NewReader(body)))

		if !strings.Contains(rec.Body.String(), `"total_tokens":4`) {
			t.Errorf("usage chunk missing:\n%s", rec.Body.String())
		}
	})
}

func TestHandle_StreamSetupErrorIsJSON(t *testing.T) {
	r := newTestRouter(&enginetest.Scripted{RunErr: io.ErrUnexpectedEOF})

	body := `{"model": "m", "max_tokens": 10, "stream": true, "messages": [{"role": "user", "content": "x"}]}`
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/messages", strings.NewReader(body)))

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want JSON error", ct)
	}
}
