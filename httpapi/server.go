package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"pkt.systems/groundstation/core"
	"pkt.systems/groundstation/internal/catalog"
	"pkt.systems/groundstation/internal/eventbus"
	"pkt.systems/pslog"
)

// Server serves the event channel, the telemetry stream and read-only
// catalog endpoints.
type Server struct {
	cfg      Config
	service  *core.Service
	bus      *eventbus.Bus
	hub      *Hub
	catalog  []catalog.Definition
	basePath string
}

// NewServer constructs an HTTP server.
func NewServer(cfg Config, service *core.Service, bus *eventbus.Bus, hub *Hub, defs []catalog.Definition) *Server {
	if hub == nil {
		hub = NewHub(cfg.HistorySize)
	}
	return &Server{
		cfg:      cfg.withDefaults(),
		service:  service,
		bus:      bus,
		hub:      hub,
		catalog:  append([]catalog.Definition(nil), defs...),
		basePath: normalizeBasePath(cfg.BasePath),
	}
}

// Hub returns the telemetry hub backing /api/stream.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/catalog", s.handleCatalog)
	mux.HandleFunc("/api/clients", s.handleClients)
	mux.HandleFunc("/api/stream", s.handleStream)
	mux.HandleFunc("/ws", s.handleEvents)

	var handler http.Handler = mux
	if s.basePath != "" {
		handler = http.StripPrefix(s.basePath, mux)
	}
	return withRequestLogging(handler)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type catalogEntry struct {
	Name    string `json:"name"`
	Title   string `json:"title"`
	Render  string `json:"render"`
	Span    int    `json:"span"`
	Allowed bool   `json:"default"`
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	global := s.service.GlobalDefault()
	inGlobal := make(map[string]bool, len(global))
	for _, name := range global {
		inGlobal[string(name)] = true
	}
	entries := make([]catalogEntry, 0, len(s.catalog))
	for _, def := range s.catalog {
		entries = append(entries, catalogEntry{
			Name:    string(def.Name),
			Title:   def.Title,
			Render:  string(def.Render),
			Span:    def.DefaultSpan,
			Allowed: inGlobal[string(def.Name)],
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"widgets": entries})
}

func (s *Server) handleClients(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"clients":    s.service.Clients(),
		"admin_held": s.service.AdminHeld(),
		"global":     s.service.GlobalDefault(),
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	log := pslog.Ctx(r.Context())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	lastID := parseUint(r.Header.Get("Last-Event-ID"))
	if lastID == 0 {
		lastID = parseUint(r.URL.Query().Get("last_id"))
	}

	ch, unsubscribe, _, history := s.hub.Subscribe()
	defer unsubscribe()

	written := lastID
	replayCount := 0
	if lastID > 0 {
		for _, event := range history {
			if event.Seq <= written {
				continue
			}
			_ = writeSSEvent(w, event)
			written = event.Seq
			replayCount++
		}
	}
	flusher.Flush()

	notify := r.Context().Done()
	log.Info("http stream opened", "last_id", lastID, "replay", replayCount)
	for {
		select {
		case <-notify:
			log.Info("http stream closed")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if event.Seq <= written {
				continue
			}
			if err := writeSSEvent(w, event); err != nil {
				log.Debug("http stream write failed", "err", err)
				continue
			}
			written = event.Seq
			flusher.Flush()
		}
	}
}

func decodeJSON(body io.Reader, target any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeSSEvent(w http.ResponseWriter, event StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if event.Seq > 0 {
		_, _ = fmt.Fprintf(w, "id: %d\n", event.Seq)
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", strings.TrimSpace(string(data)))
	return nil
}

func parseUint(value string) uint64 {
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}
