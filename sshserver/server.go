package sshserver

import (
	"context"
	"errors"
	"net"
	"strings"

	gliderssh "github.com/gliderlabs/ssh"
	"golang.org/x/crypto/ssh"

	"pkt.systems/groundstation/core"
	"pkt.systems/groundstation/internal/catalog"
	"pkt.systems/groundstation/internal/eventbus"
	"pkt.systems/groundstation/schema"
	"pkt.systems/pslog"
)

// Server exposes a read-only dashboard over SSH. Every session joins the core
// as a Viewer.
type Server struct {
	Addr               string
	HostKeyPath        string
	AuthorizedKeysPath string
	Listener           net.Listener
	Service            *core.Service
	EventBus           *eventbus.Bus
	Catalog            []catalog.Definition
	logger             pslog.Logger
	authorized         map[string]struct{}
}

// ListenAndServe starts the SSH server and shuts down on context cancellation.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.logger == nil {
		s.logger = pslog.Ctx(ctx)
	}
	if s.Service == nil || s.EventBus == nil {
		return errors.New("ssh viewer requires the core service and event bus")
	}

	signer, err := EnsureHostKey(s.HostKeyPath)
	if err != nil {
		return err
	}
	authorized, err := LoadAuthorizedKeys(s.AuthorizedKeysPath)
	if err != nil {
		return err
	}
	s.authorized = authorized

	server := &gliderssh.Server{
		Addr:    s.Addr,
		Handler: s.handleSession,
	}
	if s.authorized != nil {
		server.PublicKeyHandler = s.handlePublicKey
		s.logger.Info("ssh authorized keys loaded", "keys", len(s.authorized))
	} else {
		s.logger.Warn("ssh viewer open to any client", "authorized_keys", s.AuthorizedKeysPath)
	}
	server.AddHostKey(signer)

	errCh := make(chan error, 1)
	go func() {
		if s.Listener != nil {
			errCh <- server.Serve(s.Listener)
			return
		}
		errCh <- server.ListenAndServe()
	}()
	s.logger.Info("ssh listening", "addr", s.listenAddr())

	select {
	case <-ctx.Done():
		_ = server.Close()
		return nil
	case err := <-errCh:
		if errors.Is(err, gliderssh.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) listenAddr() string {
	if s.Listener != nil {
		return s.Listener.Addr().String()
	}
	return s.Addr
}

func (s *Server) handlePublicKey(ctx gliderssh.Context, key gliderssh.PublicKey) bool {
	fingerprint := ssh.FingerprintSHA256(key)
	log := s.logger.With("user", ctx.User(), "remote", remoteAddr(ctx), "fingerprint", fingerprint)
	if _, ok := s.authorized[fingerprint]; !ok {
		log.Warn("ssh pubkey rejected", "reason", "no matching key")
		return false
	}
	log.Info("ssh pubkey accepted")
	return true
}

func remoteAddr(ctx gliderssh.Context) string {
	if ctx == nil || ctx.RemoteAddr() == nil {
		return ""
	}
	return ctx.RemoteAddr().String()
}

// viewerID builds the client id of an SSH session, replacing characters a
// client id cannot carry.
func viewerID(user string, remote net.Addr) schema.ClientID {
	host := remoteHost(remote)
	if user == "" {
		user = "anonymous"
	}
	raw := "ssh:" + user + "@" + host
	id := strings.Map(func(r rune) rune {
		if r <= ' ' || r > '~' {
			return '_'
		}
		return r
	}, raw)
	if len(id) > 128 {
		id = id[:128]
	}
	return schema.ClientID(id)
}
