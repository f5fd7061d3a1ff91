package google

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/kurozu/pkg/provider/tts"
)

func TestSynthesize_DecodesAudioContent(t *testing.T) {
	t.Parallel()

	clip := []byte("ID3-fake-mp3")
	var got synthesizeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/text:synthesize" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if k := r.URL.Query().Get("key"); k != "g-key" {
			t.Errorf("key = %q", k)
		}
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"audioContent": base64.StdEncoding.EncodeToString(clip),
		})
	}))
	defer srv.Close()

	p, err := New("g-key", WithBaseURL(srv.URL+"/v1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := p.Synthesize(context.Background(), "くろうずだ", tts.VoiceProfile{SpeedFactor: 1.0})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !bytes.Equal(out, clip) {
		t.Errorf("clip = %q, want %q", out, clip)
	}
	if got.Input.Text != "くろうずだ" || got.Voice.LanguageCode != "ja-JP" || got.AudioConfig.AudioEncoding != "MP3" {
		t.Errorf("request = %+v", got)
	}
}

func TestSynthesize_ReportedError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error":{"code":403,"message":"API not enabled","status":"PERMISSION_DENIED"}}`)
	}))
	defer srv.Close()

	p, _ := New("g-key", WithBaseURL(srv.URL+"/v1"))
	if _, err := p.Synthesize(context.Background(), "x", tts.VoiceProfile{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestSynthesize_MissingAudioContent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	p, _ := New("g-key", WithBaseURL(srv.URL+"/v1"))
	if _, err := p.Synthesize(context.Background(), "x", tts.VoiceProfile{}); err == nil {
		t.Fatal("expected error")
	}
}
