package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/kurozu/pkg/provider/llm"
	"github.com/MrWong99/kurozu/pkg/types"
)

func history() []types.Message {
	return []types.Message{
		{Role: types.RoleSystem, Content: "instruction"},
		{Role: types.RoleUser, Content: "元の高校に戻せ"},
		{Role: types.RoleAssistant, Content: "断る"},
		{Role: types.RoleUser, Content: "なぜだ"},
	}
}

func TestBuildRequest_ForwardsEntireHistory(t *testing.T) {
	t.Parallel()

	req, err := buildRequest(llm.CompletionRequest{Messages: history(), Temperature: 0.7, MaxTokens: 1000})
	if err != nil {
		t.Fatalf("buildRequest: %v", err)
	}
	if req.SystemInstruction == nil || req.SystemInstruction.Parts[0].Text != "instruction" {
		t.Fatalf("systemInstruction = %+v", req.SystemInstruction)
	}
	if req.SystemInstruction.Role != "" {
		t.Errorf("systemInstruction role = %q, want empty", req.SystemInstruction.Role)
	}
	if len(req.Contents) != 3 {
		t.Fatalf("contents len = %d, want 3", len(req.Contents))
	}
	wantRoles := []string{"user", "model", "user"}
	for i, c := range req.Contents {
		if c.Role != wantRoles[i] {
			t.Errorf("contents[%d].role = %q, want %q", i, c.Role, wantRoles[i])
		}
	}
	if req.Contents[2].Parts[0].Text != "なぜだ" {
		t.Errorf("last turn = %q", req.Contents[2].Parts[0].Text)
	}
	if *req.GenerationConfig.Temperature != 0.7 || req.GenerationConfig.MaxOutputTokens != 1000 {
		t.Errorf("generationConfig = %+v", req.GenerationConfig)
	}
}

func TestBuildRequest_RejectsLateSystemMessage(t *testing.T) {
	t.Parallel()

	msgs := append(history(), types.Message{Role: types.RoleSystem, Content: "late"})
	if _, err := buildRequest(llm.CompletionRequest{Messages: msgs}); err == nil {
		t.Fatal("expected error for system message after the first position")
	}
}

func TestParseResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		status       int
		body         string
		wantText     string
		wantMalform  bool
		wantProvider bool
	}{
		{
			name:     "candidate text",
			status:   200,
			body:     `{"candidates":[{"content":{"role":"model","parts":[{"text":"ok"}]}}]}`,
			wantText: "ok",
		},
		{
			name:        "missing candidates",
			status:      200,
			body:        `{"promptFeedback":{"blockReason":"SAFETY"}}`,
			wantMalform: true,
		},
		{
			name:        "empty parts",
			status:      200,
			body:        `{"candidates":[{"content":{"parts":[]}}]}`,
			wantMalform: true,
		},
		{
			name:         "reported error",
			status:       400,
			body:         `{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`,
			wantProvider: true,
		},
		{
			name:         "error object with 200",
			status:       200,
			body:         `{"error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED"}}`,
			wantProvider: true,
		},
		{
			name:        "not json",
			status:      200,
			body:        `<html>`,
			wantMalform: true,
		},
		{
			name:         "gateway error page",
			status:       502,
			body:         `<html>bad gateway</html>`,
			wantProvider: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp, err := parseResponse(tt.status, []byte(tt.body))
			var pe *llm.ProviderError
			switch {
			case tt.wantMalform:
				if !errors.Is(err, llm.ErrMalformedResponse) {
					t.Fatalf("err = %v, want ErrMalformedResponse", err)
				}
			case tt.wantProvider:
				if !errors.As(err, &pe) {
					t.Fatalf("err = %v, want *llm.ProviderError", err)
				}
				if errors.Is(err, llm.ErrMalformedResponse) {
					t.Error("provider error must not match ErrMalformedResponse")
				}
			default:
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if resp.Content != tt.wantText {
					t.Errorf("Content = %q, want %q", resp.Content, tt.wantText)
				}
			}
		})
	}
}

func TestComplete_WireContract(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/gemini-2.5-flash:generateContent" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("key"); got != "g-key" {
			t.Errorf("key = %q", got)
		}
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if _, ok := body["systemInstruction"]; !ok {
			t.Error("systemInstruction missing")
		}
		contents, _ := body["contents"].([]any)
		if len(contents) != 3 {
			t.Errorf("contents len = %d, want 3", len(contents))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"これでクイズ2は終了だ"}]}}]}`)
	}))
	defer srv.Close()

	p, err := New("g-key", "gemini-2.5-flash", WithBaseURL(srv.URL+"/v1beta"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{Messages: history(), Temperature: 0.7, MaxTokens: 1000})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "これでクイズ2は終了だ" {
		t.Errorf("Content = %q", resp.Content)
	}
}

func TestComplete_TransportFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p, _ := New("g-key", "gemini-2.5-flash", WithBaseURL(url))
	_, err := p.Complete(context.Background(), llm.CompletionRequest{Messages: history()})
	if err == nil {
		t.Fatal("expected transport error")
	}
	var pe *llm.ProviderError
	if errors.As(err, &pe) || errors.Is(err, llm.ErrMalformedResponse) {
		t.Errorf("transport failure classified as %v", err)
	}
}
