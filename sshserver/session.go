package sshserver

import (
	"context"
	"io"
	"net"

	gliderssh "github.com/gliderlabs/ssh"

	"pkt.systems/groundstation/core"
	"pkt.systems/groundstation/internal/kv"
	"pkt.systems/groundstation/internal/logx"
	"pkt.systems/groundstation/internal/viewer"
	"pkt.systems/groundstation/schema"
)

const (
	defaultWidth = 100
	keyCtrlC     = 0x03
)

func (s *Server) handleSession(sess gliderssh.Session) {
	clientID := viewerID(sess.User(), sess.RemoteAddr())
	session := core.NewSessionID()
	log := s.logger.With("client", clientID, "session", session, "remote", sess.RemoteAddr().String())
	ctx, cancel := context.WithCancel(logx.ContextWithClientSessionLogger(sess.Context(), log, clientID, session))
	defer cancel()

	width := defaultWidth
	pty, winCh, hasPty := sess.Pty()
	if hasPty && pty.Window.Width > 0 {
		width = pty.Window.Width
	}

	events, unsubscribe := s.EventBus.Subscribe(session)
	defer unsubscribe()

	dash := viewer.New(s.Catalog, kv.NewMemory(), viewer.WithClientID(clientID), viewer.WithLogger(log))
	if _, err := s.Service.Connect(ctx, core.ConnectRequest{
		Session: session,
		Address: remoteHost(sess.RemoteAddr()),
		Auth:    schema.ConnectAuth{ID: clientID},
	}); err != nil {
		log.Warn("ssh viewer connect failed", "err", err)
		_, _ = io.WriteString(sess, "connect failed: "+err.Error()+"\n")
		return
	}
	defer s.Service.Disconnect(ctx, session)
	log.Info("ssh session opened", "pty", hasPty, "width", width)

	go readKeys(sess, cancel)

	scr := newScreen(sess)
	if hasPty {
		scr.EnterAltScreen()
		defer scr.ExitAltScreen()
	}
	redraw := func() {
		if err := scr.Render(dash.Render(width)); err != nil {
			log.Debug("ssh render failed", "err", err)
			cancel()
		}
	}
	redraw()

	for {
		select {
		case <-ctx.Done():
			log.Info("ssh session closed")
			return
		case win, ok := <-winCh:
			if !ok {
				winCh = nil
				continue
			}
			if win.Width > 0 {
				width = win.Width
			}
			redraw()
		case ev, ok := <-events:
			if !ok {
				return
			}
			if dash.Apply(ev.Envelope) {
				redraw()
			}
		}
	}
}

// readKeys ends the session on q, Q or Ctrl-C, or when input closes.
func readKeys(r io.Reader, cancel context.CancelFunc) {
	defer cancel()
	buf := make([]byte, 64)
	for {
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			if b == 'q' || b == 'Q' || b == keyCtrlC {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func remoteHost(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
