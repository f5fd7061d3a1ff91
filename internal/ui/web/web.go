// Package web bridges the orchestrator to browser clients over a websocket.
//
// Each client connected to /ws receives every view event as one JSON text
// message and sends triggers as JSON objects:
//
//	{"trigger":"submit","text":"こんにちは"}
//	{"trigger":"select_model","choice":"b"}
//	{"trigger":"toggle_tts","stage":"stage2","enabled":false}
//	{"trigger":"jump","screen":"quiz2"}
//
// A refused trigger is answered with a "notice" event to that client only.
// /avatar serves the image that decorates assistant turns.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/kurozu/internal/orchestrator"
	"github.com/MrWong99/kurozu/internal/screen"
	"github.com/MrWong99/kurozu/internal/session"
	"github.com/MrWong99/kurozu/internal/view"
	"github.com/MrWong99/kurozu/pkg/types"
)

// clientBuffer is the number of events queued per client before events
// start being dropped for it.
const clientBuffer = 512

// writeTimeout bounds one websocket write.
const writeTimeout = 5 * time.Second

// Firer applies triggers. *orchestrator.Orchestrator implements it.
type Firer interface {
	Fire(ctx context.Context, t orchestrator.Trigger) error
}

// Message is the wire form of a trigger.
type Message struct {
	Trigger string `json:"trigger"`
	Stage   string `json:"stage,omitempty"`
	Text    string `json:"text,omitempty"`
	Choice  string `json:"choice,omitempty"`
	Enabled bool   `json:"enabled,omitempty"`
	Screen  string `json:"screen,omitempty"`
}

// Decode converts m. Unknown stage, choice, or screen names are errors;
// unknown trigger kinds are left for the orchestrator to refuse.
func (m Message) Decode() (orchestrator.Trigger, error) {
	t := orchestrator.Trigger{
		Kind:    orchestrator.TriggerKind(m.Trigger),
		Text:    m.Text,
		Enabled: m.Enabled,
	}
	var err error
	if m.Stage != "" {
		if t.Stage, err = session.ParseStage(m.Stage); err != nil {
			return t, err
		}
	}
	if m.Choice != "" {
		if t.Choice, err = types.ParseProviderChoice(m.Choice); err != nil {
			return t, err
		}
	}
	if m.Screen != "" {
		if t.Screen, err = screen.Parse(m.Screen); err != nil {
			return t, err
		}
	}
	return t, nil
}

// Server serves the websocket bridge and the avatar.
type Server struct {
	orch       Firer
	hub        *view.Broadcast
	avatar     []byte
	avatarType string
	origins    []string
}

// Option configures a [Server].
type Option func(*Server)

// WithAvatar serves img with content type ct on /avatar.
func WithAvatar(img []byte, ct string) Option {
	return func(s *Server) {
		s.avatar = img
		s.avatarType = ct
	}
}

// WithOriginPatterns allows cross-origin websocket clients matching
// patterns (see websocket.AcceptOptions).
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// New returns a Server firing into orch and relaying events from hub.
func New(orch Firer, hub *view.Broadcast, opts ...Option) *Server {
	s := &Server{orch: orch, hub: hub}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds the routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /avatar", s.handleAvatar)
}

func (s *Server) handleAvatar(w http.ResponseWriter, r *http.Request) {
	if len(s.avatar) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", s.avatarType)
	w.Header().Set("Cache-Control", "max-age=3600")
	_, _ = w.Write(s.avatar)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		slog.Warn("web: websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events := make(chan view.Event, clientBuffer)
	remove := s.hub.Add(view.SinkFunc(func(e view.Event) {
		select {
		case events <- e:
		default:
			slog.Warn("web: client too slow, event dropped", "remote", r.RemoteAddr, "kind", string(e.Kind))
		}
	}))
	defer remove()

	slog.Info("web: client connected", "remote", r.RemoteAddr)
	go s.readLoop(ctx, cancel, conn, events)

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			slog.Info("web: client disconnected", "remote", r.RemoteAddr)
			return
		case e := <-events:
			if err := write(ctx, conn, e); err != nil {
				slog.Debug("web: write failed", "remote", r.RemoteAddr, "err", err)
				return
			}
		}
	}
}

// readLoop applies incoming triggers until the connection closes. Refusals
// are queued as notices for this client.
func (s *Server) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, events chan<- view.Event) {
	defer cancel()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				slog.Debug("web: read failed", "err", err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		if err := s.dispatch(ctx, data); err != nil {
			select {
			case events <- view.Event{Kind: view.KindNotice, Text: err.Error()}:
			default:
			}
		}
	}
}

func (s *Server) dispatch(ctx context.Context, data []byte) error {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("web: malformed message: %w", err)
	}
	t, err := m.Decode()
	if err != nil {
		return err
	}
	return s.orch.Fire(ctx, t)
}

func write(ctx context.Context, conn *websocket.Conn, e view.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
