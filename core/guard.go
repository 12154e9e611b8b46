package core

import (
	"strings"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"pkt.systems/groundstation/schema"
)

// adminHold is the single admin seat. The holding token may be shared by
// several sessions (one admin with several tabs).
type adminHold struct {
	token    string
	sessions map[schema.SessionID]struct{}
}

func (h *adminHold) claim(token string, session schema.SessionID) error {
	if h.token != "" && h.token != token {
		return schema.ErrAdminActive
	}
	h.token = token
	if h.sessions == nil {
		h.sessions = make(map[schema.SessionID]struct{})
	}
	h.sessions[session] = struct{}{}
	return nil
}

// release drops session from the hold and reports whether the seat became free.
func (h *adminHold) release(session schema.SessionID) bool {
	if _, ok := h.sessions[session]; !ok {
		return false
	}
	delete(h.sessions, session)
	if len(h.sessions) > 0 {
		return false
	}
	h.token = ""
	return true
}

func (h *adminHold) held() bool {
	return h.token != ""
}

// AdminHeld reports whether the admin seat is currently claimed.
func (s *Service) AdminHeld() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admin.held()
}

// verifyCredentials checks the optional password and TOTP factors.
func (s *Service) verifyCredentials(auth schema.ConnectAuth) error {
	if hash := strings.TrimSpace(s.cfg.AdminPasswordHash); hash != "" {
		if auth.AdminPassword == "" {
			return schema.ErrInvalidCredentials
		}
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(auth.AdminPassword)); err != nil {
			return schema.ErrInvalidCredentials
		}
	}
	if secret := strings.TrimSpace(s.cfg.AdminTOTPSecret); secret != "" {
		if !totp.Validate(strings.TrimSpace(auth.TOTP), secret) {
			return schema.ErrInvalidCredentials
		}
	}
	return nil
}
