package identity

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"pkt.systems/groundstation/internal/kv"
	"pkt.systems/pslog"
)

func TestClientIDIsStableAcrossProviders(t *testing.T) {
	persistent := kv.NewMemory()
	first, err := New(persistent, kv.NewMemory())
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	id := first.ClientID()
	parsed, err := uuid.Parse(string(id))
	if err != nil {
		t.Fatalf("expected uuid client id, got %q: %v", id, err)
	}
	if parsed.Version() != 7 {
		t.Fatalf("expected uuid v7, got v%d", parsed.Version())
	}
	second, err := New(persistent, kv.NewMemory())
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if got := second.ClientID(); got != id {
		t.Fatalf("expected persisted id %q, got %q", id, got)
	}
}

func TestSessionTokenIndependentOfClientID(t *testing.T) {
	session := kv.NewMemory()
	p, err := New(kv.NewMemory(), session, WithTokenGenerator(func() (string, error) { return "tok123456", nil }))
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	token, err := p.SessionToken()
	if err != nil {
		t.Fatalf("session token: %v", err)
	}
	if token != "tok123456" {
		t.Fatalf("unexpected token %q", token)
	}
	again, _ := p.SessionToken()
	if again != token {
		t.Fatalf("expected token reuse within session")
	}
	if err := p.EndSession(); err != nil {
		t.Fatalf("end session: %v", err)
	}
	if _, ok, _ := session.Get(SessionTokenKey); ok {
		t.Fatalf("expected token cleared")
	}
	if p.ClientID() == "" {
		t.Fatalf("expected client id to survive end of session")
	}
}

func TestTokenGeneratorError(t *testing.T) {
	p, _ := New(kv.NewMemory(), kv.NewMemory(), WithTokenGenerator(func() (string, error) { return "", errors.New("no entropy") }))
	if _, err := p.SessionToken(); err == nil {
		t.Fatalf("expected token error")
	}
}

func TestAdminID(t *testing.T) {
	if got := AdminID("abcdefgh"); got != "ADMIN_abcde" {
		t.Fatalf("unexpected admin id %q", got)
	}
	if got := AdminID("ab"); got != "ADMIN_ab" {
		t.Fatalf("unexpected short admin id %q", got)
	}
}

func TestNewRequiresStores(t *testing.T) {
	if _, err := New(nil, kv.NewMemory()); err == nil {
		t.Fatalf("expected error for missing store")
	}
}

type brokenStore struct{}

func (brokenStore) Get(string) (string, bool, error) { return "", false, errors.New("disk gone") }
func (brokenStore) Set(string, string) error { return errors.New("read-only") }
func (brokenStore) Remove(string) error { return errors.New("read-only") }

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestClientIDSurvivesBrokenStore(t *testing.T) {
	out := &lockedBuffer{}
	logger := pslog.NewWithOptions(out, pslog.Options{
		Mode:     pslog.ModeStructured,
		NoColor:  true,
		MinLevel: pslog.DebugLevel,
	})
	p, err := New(brokenStore{}, kv.NewMemory(), WithLogger(logger))
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	id := p.ClientID()
	if id == "" || p.ClientID() != id {
		t.Fatalf("client id not stable within the process: %q", id)
	}
	logs := out.String()
	for _, want := range []string{"identity client id load failed", "identity client id save failed", "read-only"} {
		if !strings.Contains(logs, want) {
			t.Fatalf("expected %q in logs:\n%s", want, logs)
		}
	}
}
