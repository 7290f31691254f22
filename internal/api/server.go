// Package api provides the local HTTP API for observing the pipeline.
// GET endpoints are public (read-only snapshots).
// POST endpoints require a bearer token (consumer controls).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/talgya/interval/internal/ambient"
	"github.com/talgya/interval/internal/attention"
	"github.com/talgya/interval/internal/biometrics"
	"github.com/talgya/interval/internal/crystal"
	"github.com/talgya/interval/internal/engine"
	"github.com/talgya/interval/internal/persistence"
	"github.com/talgya/interval/internal/texture"
)

const maxSSEConns = 2

// heartbeatEvery keeps idle SSE connections open through proxies.
const heartbeatEvery = 15 * time.Second

// Server serves the pipeline over HTTP.
type Server struct {
	Pipeline *engine.Pipeline
	Eng      *engine.Engine
	Journal  *persistence.Journal // optional, backs /events history
	Addr     string
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.

	// Active SSE connection count (atomic).
	sseConns int32

	srv *http.Server
}

// Handler builds the routed handler.
func (s *Server) Handler() http.Handler {
	controlLimiter := NewRateLimiter(120, time.Minute)
	control := func(h http.HandlerFunc) http.HandlerFunc {
		return s.adminOnly(RateLimitMiddleware(controlLimiter, h))
	}

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/snapshot", s.handleSnapshot)
	mux.HandleFunc("/api/v1/harmonics", s.handleHarmonics)
	mux.HandleFunc("/api/v1/sync", s.handleSync)
	mux.HandleFunc("/api/v1/poetry", s.handlePoetry)
	mux.HandleFunc("/api/v1/moments", s.handleMoments)
	mux.HandleFunc("/api/v1/crystals", s.handleCrystals)
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.HandleFunc("/api/v1/stream", s.handleStream)

	// GET reads, POST controls.
	mux.HandleFunc("/api/v1/biometrics", control(s.handleBiometrics))
	mux.HandleFunc("/api/v1/phase", control(s.handlePhase))
	mux.HandleFunc("/api/v1/texture", control(s.handleTexture))
	mux.HandleFunc("/api/v1/crystal/", control(s.handleCrystal))
	mux.HandleFunc("/api/v1/ambient", control(s.handleAmbient))
	mux.HandleFunc("/api/v1/speed", control(s.handleSpeed))
	mux.HandleFunc("/api/v1/audio", control(s.handleAudio))

	return corsMiddleware(mux)
}

// Start listens on Addr and serves in a goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.Addr, err)
	}
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", ln.Addr().String(), "admin_auth", s.AdminKey != "")

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Shutdown stops the server, waiting for in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set INTERVAL_CORS_ORIGINS to a comma-separated list of extra origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:4173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("INTERVAL_CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth on POST requests.
// GET requests pass through (for endpoints that support both GET and POST).
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "control endpoints disabled (no INTERVAL_ADMIN_KEY set)", http.StatusForbidden)
				return
			}

			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}

		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	phase := s.Pipeline.Phase()
	status := map[string]any{
		"name":        "interval",
		"tick":        s.Eng.Tick(),
		"elapsed":     engine.Elapsed(s.Eng.Tick(), s.Eng.Interval),
		"speed":       s.Eng.Speed(),
		"running":     s.Eng.Running(),
		"phase":       phase.Name,
		"intensity":   phase.Intensity,
		"overridden":  s.Pipeline.Overridden(),
		"crystals":    len(s.Pipeline.Crystals()),
		"audio":       s.Pipeline.AudioEnabled(),
		"environment": s.Pipeline.Ambient().Environment,
		"stats":       s.Pipeline.Stats(),
	}
	writeJSON(w, status)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Pipeline.Snapshot())
}

func (s *Server) handleBiometrics(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var v biometrics.Vector
		if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		v = s.Pipeline.OverrideBiometrics(v)
		slog.Info("biometrics overridden", "heart", v.HeartRate, "attention", v.AttentionLevel)
	}

	writeJSON(w, map[string]any{
		"biometrics": s.Pipeline.Biometrics(),
		"metrics":    s.Pipeline.Metrics(),
	})
}

func (s *Server) handleHarmonics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Pipeline.Harmonics())
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	sample := s.Pipeline.Sync()
	writeJSON(w, map[string]any{
		"phase":      sample.Phase,
		"sync_level": sample.SyncLevel,
		"resonance":  sample.Resonance,
		"inhaling":   sample.Inhaling(),
	})
}

func (s *Server) handlePoetry(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Pipeline.Poetry())
}

func (s *Server) handleMoments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Pipeline.Moments())
}

type crystalView struct {
	crystal.Crystal
	Opacity float64 `json:"opacity"`
}

func (s *Server) handleCrystals(w http.ResponseWriter, r *http.Request) {
	now := s.Pipeline.Now()
	cs := s.Pipeline.Crystals()
	out := make([]crystalView, len(cs))
	for i, c := range cs {
		out[i] = crystalView{Crystal: c, Opacity: crystal.Opacity(c, now)}
	}
	writeJSON(w, out)
}

// handleCrystal toggles the selection on POST and describes the selection on GET.
func (s *Server) handleCrystal(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/crystal/")

	if r.Method == http.MethodPost {
		if id == "" {
			http.Error(w, "missing crystal id", http.StatusBadRequest)
			return
		}
		selected := s.Pipeline.SelectCrystal(id)
		writeJSON(w, map[string]string{"selected": selected})
		return
	}

	detail, ok := s.Pipeline.SelectedCrystal()
	if !ok {
		http.Error(w, "no crystal selected", http.StatusNotFound)
		return
	}
	writeJSON(w, detail)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.Journal == nil {
		http.Error(w, "journal not available", http.StatusServiceUnavailable)
		return
	}
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	events, err := s.Journal.RecentEvents(r.URL.Query().Get("category"), limit)
	if err != nil {
		slog.Error("read journal events failed", "error", err)
		http.Error(w, "journal read failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, events)
}

func (s *Server) handlePhase(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var req struct {
			Name      attention.Name `json:"name"`
			Intensity float64        `json:"intensity"`
			Clear     bool           `json:"clear"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Clear {
			s.Pipeline.ClearPhaseOverride()
			slog.Info("phase override cleared")
		} else {
			if !req.Name.Valid() {
				http.Error(w, fmt.Sprintf("unknown phase %q (use: flow, stress, calm, distracted)", req.Name), http.StatusBadRequest)
				return
			}
			s.Pipeline.SetPhaseOverride(attention.Phase{Name: req.Name, Intensity: req.Intensity})
			slog.Info("phase overridden", "phase", req.Name, "intensity", req.Intensity)
		}
	}

	writeJSON(w, map[string]any{
		"phase":      s.Pipeline.Phase(),
		"overridden": s.Pipeline.Overridden(),
	})
}

func (s *Server) handleTexture(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var req struct {
			X      float64 `json:"x"`
			Y      float64 `json:"y"`
			Radius float64 `json:"radius"`
			Reset  bool    `json:"reset"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Reset {
			s.Pipeline.ResetTexture()
		} else {
			s.Pipeline.PointerSample(texture.Point{X: req.X, Y: req.Y}, req.Radius)
		}
	}

	tex := s.Pipeline.Texture()
	writeJSON(w, map[string]any{
		"texture": tex,
		"label":   tex.Label(),
	})
}

func (s *Server) handleAmbient(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var req struct {
			Environment string `json:"environment"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if err := s.Pipeline.SetEnvironment(req.Environment); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, ambient.ErrUnknownEnvironment) {
				status = http.StatusBadRequest
			}
			http.Error(w, err.Error(), status)
			return
		}
		slog.Info("environment changed", "environment", req.Environment)
	}

	state := s.Pipeline.Ambient()
	writeJSON(w, map[string]any{
		"state":  state,
		"preset": ambient.Environments[state.Environment],
	})
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Speed < 0 || req.Speed > 1000 {
			http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
			return
		}
		s.Eng.SetSpeed(req.Speed)
		slog.Info("speed changed", "speed", req.Speed)
	}

	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		if err := s.Pipeline.EnableAudio(); err != nil {
			http.Error(w, "audio unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	writeJSON(w, map[string]bool{"enabled": s.Pipeline.AudioEnabled()})
}

// handleStream provides an SSE endpoint for real-time event streaming.
// Limits concurrent connections.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	// Connection limit.
	current := atomic.AddInt32(&s.sseConns, 1)
	if current > maxSSEConns {
		atomic.AddInt32(&s.sseConns, -1)
		http.Error(w, "too many SSE connections", http.StatusServiceUnavailable)
		return
	}
	defer atomic.AddInt32(&s.sseConns, -1)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// SSE headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	subID, ch := s.Pipeline.Subscribe()
	defer s.Pipeline.Unsubscribe(subID)

	// Current state as catch-up.
	writeSSE(w, "snapshot", s.Pipeline.Snapshot())
	flusher.Flush()

	slog.Info("SSE client connected", "sub_id", subID)

	heartbeat := time.NewTicker(heartbeatEvery)
	defer heartbeat.Stop()

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, e.Category, e)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			slog.Info("SSE client disconnected", "sub_id", subID)
			return
		}
	}
}

// writeSSE writes a single named event in SSE format.
func writeSSE(w http.ResponseWriter, name string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
