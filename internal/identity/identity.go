// Package identity issues the stable per-installation client id and the
// per-session admin token.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/google/uuid"

	"pkt.systems/groundstation/internal/kv"
	"pkt.systems/groundstation/schema"
	"pkt.systems/pslog"
)

const (
	// ClientIDKey is where the client id lives in the persistent store.
	ClientIDKey = "client.id"
	// SessionTokenKey is where the admin token lives in the session store.
	SessionTokenKey = "admin.token"
)

// Provider owns client identity. Construct one per process and pass it to
// whatever needs it.
type Provider struct {
	persistent kv.Store
	session    kv.Store
	newID      func() string
	newToken   func() (string, error)
	clientID   schema.ClientID
	log        pslog.Logger
}

// Option customizes a Provider.
type Option func(*Provider)

// WithIDGenerator overrides client id generation.
func WithIDGenerator(fn func() string) Option {
	return func(p *Provider) { p.newID = fn }
}

// WithTokenGenerator overrides session token generation.
func WithTokenGenerator(fn func() (string, error)) Option {
	return func(p *Provider) { p.newToken = fn }
}

// WithLogger sets the logger.
func WithLogger(logger pslog.Logger) Option {
	return func(p *Provider) { p.log = logger }
}

// New constructs a Provider. persistent survives restarts; session is cleared by EndSession.
func New(persistent, session kv.Store, opts ...Option) (*Provider, error) {
	if persistent == nil || session == nil {
		return nil, errors.New("identity stores are required")
	}
	p := &Provider{
		persistent: persistent,
		session:    session,
		newID:      func() string { return uuid.Must(uuid.NewV7()).String() },
		newToken:   newToken,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = pslog.Ctx(context.Background())
	}
	return p, nil
}

// ClientID returns the persisted client id, creating it on first use. A store
// that cannot be read or written still yields a stable id for this process.
func (p *Provider) ClientID() schema.ClientID {
	if p.clientID != "" {
		return p.clientID
	}
	value, ok, err := p.persistent.Get(ClientIDKey)
	switch {
	case err != nil:
		p.log.Debug("identity client id load failed", "err", err)
	case ok:
		if id := schema.ClientID(strings.TrimSpace(value)); schema.ValidateClientID(id) == nil {
			p.clientID = id
			return id
		}
		p.log.Debug("identity client id invalid, regenerating")
	}
	id := schema.ClientID(p.newID())
	if err := p.persistent.Set(ClientIDKey, string(id)); err != nil {
		p.log.Debug("identity client id save failed", "err", err)
	} else {
		p.log.Trace("identity client id save ok", "client", id)
	}
	p.clientID = id
	return id
}

// SessionToken returns the admin token for the current session, creating one if needed.
func (p *Provider) SessionToken() (string, error) {
	if value, ok, err := p.session.Get(SessionTokenKey); err == nil && ok && strings.TrimSpace(value) != "" {
		return value, nil
	}
	token, err := p.newToken()
	if err != nil {
		return "", err
	}
	if err := p.session.Set(SessionTokenKey, token); err != nil {
		return "", err
	}
	return token, nil
}

// AdminID is the client id an admin session presents: ADMIN_ plus the token prefix.
func AdminID(token string) schema.ClientID {
	prefix := token
	if len(prefix) > 5 {
		prefix = prefix[:5]
	}
	return schema.ClientID("ADMIN_" + prefix)
}

// EndSession clears the session token.
func (p *Provider) EndSession() error {
	return p.session.Remove(SessionTokenKey)
}

func newToken() (string, error) {
	var buf [24]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf[:]), nil
}
