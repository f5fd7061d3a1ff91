package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/kurozu/pkg/provider/tts"
)

func TestSynthesize_WireContract(t *testing.T) {
	t.Parallel()

	clip := []byte{0xff, 0xfb, 0x90, 0x00, 0x01}
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/speech" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("Authorization = %q", auth)
		}
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write(clip)
	}))
	defer srv.Close()

	p, err := New("sk-test", WithBaseURL(srv.URL+"/v1/"), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := p.Synthesize(context.Background(), "黒水だ", tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !bytes.Equal(got, clip) {
		t.Errorf("clip = %v, want %v", got, clip)
	}

	want := map[string]any{"model": "tts-1", "voice": "ash", "input": "黒水だ", "speed": 1.0}
	for k, v := range want {
		if body[k] != v {
			t.Errorf("%s = %v, want %v", k, body[k], v)
		}
	}
}

func TestSynthesize_VoiceOverride(t *testing.T) {
	t.Parallel()

	p, err := New("sk-test", WithVoice("onyx"), WithSpeed(1.2))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	params := p.buildParams("x", tts.VoiceProfile{})
	if params.Voice != "onyx" || params.Speed.Value != 1.2 {
		t.Errorf("defaults not applied: voice=%v speed=%v", params.Voice, params.Speed.Value)
	}
	params = p.buildParams("x", tts.VoiceProfile{ID: "ash", SpeedFactor: 0.9})
	if params.Voice != "ash" || params.Speed.Value != 0.9 {
		t.Errorf("override not applied: voice=%v speed=%v", params.Voice, params.Speed.Value)
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"bad input","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	p, _ := New("sk-test", WithBaseURL(srv.URL+"/v1/"), WithMaxRetries(0))
	if _, err := p.Synthesize(context.Background(), "x", tts.VoiceProfile{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestNew_RequiresKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty key")
	}
}
