package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"pkt.systems/groundstation/core"
	"pkt.systems/groundstation/internal/eventbus"
	"pkt.systems/groundstation/internal/logx"
	"pkt.systems/groundstation/schema"
	"pkt.systems/pslog"
)

var errExpectedConnect = errors.New("first frame must be connect")

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		HandshakeTimeout: s.cfg.HandshakeTimeout,
		CheckOrigin:      s.checkOrigin,
	}
}

// checkOrigin allows every origin when none are configured. Requests without
// an Origin header come from non-browser clients and are allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(s.cfg.AllowedOrigins, "*") {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		allowed = strings.TrimRight(strings.TrimSpace(allowed), "/")
		if strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, parsed.Host) {
			return true
		}
	}
	return false
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	log := pslog.Ctx(r.Context())
	if !s.checkOrigin(r) {
		log.Warn("http events origin rejected", "origin", r.Header.Get("Origin"))
		writeError(w, http.StatusForbidden, errors.New("origin not allowed"))
		return
	}
	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug("http events upgrade failed", "err", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameBytes)

	auth, err := s.readConnect(conn)
	if err != nil {
		log.Info("http events handshake failed", "err", err)
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error())
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.WriteTimeout))
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	session := core.NewSessionID()
	events, unsubscribe := s.bus.Subscribe(session)
	defer unsubscribe()

	ctx := r.Context()
	record, err := s.service.Connect(ctx, core.ConnectRequest{
		Session: session,
		Address: clientIP(r),
		Auth:    auth,
	})
	if err != nil {
		log.Info("http events connect rejected", "err", err)
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error())
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.WriteTimeout))
		return
	}
	log = logx.WithClientSession(ctx, record.ID, session)
	ctx = logx.ContextWithClientSessionLogger(ctx, log, record.ID, session)
	defer s.service.Disconnect(ctx, session)
	log.Info("http events connected", "kind", record.Kind, "remote", record.Address)

	done := make(chan struct{})
	defer close(done)
	go s.writeLoop(conn, events, done, log)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("http events read failed", "err", err)
			}
			log.Info("http events disconnected")
			return
		}
		var envelope schema.Envelope
		if err := decodeJSON(bytes.NewReader(data), &envelope); err != nil {
			log.Debug("http events frame ignored", "err", err)
			continue
		}
		if err := s.service.HandleEvent(ctx, session, envelope); err != nil {
			log.Debug("http events handle failed", "event", envelope.Event, "err", err)
		}
	}
}

// readConnect reads the first frame, which must be a connect event.
func (s *Server) readConnect(conn *websocket.Conn) (schema.ConnectAuth, error) {
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return schema.ConnectAuth{}, err
	}
	var envelope schema.Envelope
	if err := decodeJSON(bytes.NewReader(data), &envelope); err != nil {
		return schema.ConnectAuth{}, err
	}
	if envelope.Event != schema.EventConnect {
		return schema.ConnectAuth{}, errExpectedConnect
	}
	var auth schema.ConnectAuth
	if len(envelope.Data) > 0 && string(envelope.Data) != "null" {
		if err := json.Unmarshal(envelope.Data, &auth); err != nil {
			return schema.ConnectAuth{}, err
		}
	}
	return auth, nil
}

func (s *Server) writeLoop(conn *websocket.Conn, events <-chan eventbus.Event, done <-chan struct{}, log pslog.Logger) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteJSON(ev.Envelope); err != nil {
				log.Debug("http events write failed", "event", ev.Envelope.Event, "err", err)
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Debug("http events ping failed", "err", err)
				_ = conn.Close()
				return
			}
		}
	}
}
