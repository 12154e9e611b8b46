package sshserver

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"pkt.systems/groundstation/core"
	"pkt.systems/groundstation/internal/catalog"
	"pkt.systems/groundstation/internal/eventbus"
	"pkt.systems/groundstation/internal/widgets"
)

func TestEnsureHostKeyCreatesAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "host_key")
	first, err := EnsureHostKey(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode = %v", info.Mode().Perm())
	}
	second, err := EnsureHostKey(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !bytes.Equal(first.PublicKey().Marshal(), second.PublicKey().Marshal()) {
		t.Fatalf("reloaded key differs")
	}
	if _, err := EnsureHostKey(" "); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestLoadAuthorizedKeys(t *testing.T) {
	dir := t.TempDir()
	keys, err := LoadAuthorizedKeys(filepath.Join(dir, "missing"))
	if err != nil || keys != nil {
		t.Fatalf("missing file: keys=%v err=%v", keys, err)
	}
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	path := filepath.Join(dir, "authorized_keys")
	line := append([]byte("# operators\n"), ssh.MarshalAuthorizedKey(sshPub)...)
	if err := os.WriteFile(path, line, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	keys, err = LoadAuthorizedKeys(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := keys[ssh.FingerprintSHA256(sshPub)]; !ok || len(keys) != 1 {
		t.Fatalf("keys = %v", keys)
	}
}

func TestViewerID(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("192.0.2.7"), Port: 2222}
	if got := viewerID("ops", addr); got != "ssh:ops@192.0.2.7" {
		t.Fatalf("viewerID = %q", got)
	}
	if got := viewerID("a b", nil); got != "ssh:a_b@" {
		t.Fatalf("viewerID = %q", got)
	}
	if got := viewerID("", addr); got != "ssh:anonymous@192.0.2.7" {
		t.Fatalf("viewerID = %q", got)
	}
}

func TestReadKeysStopsOnQuit(t *testing.T) {
	for _, input := range []string{"xq", "\x03", ""} {
		done := make(chan struct{})
		readKeys(strings.NewReader(input), func() { close(done) })
		select {
		case <-done:
		default:
			t.Fatalf("input %q did not cancel", input)
		}
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSessionRendersDashboard(t *testing.T) {
	bus := eventbus.New(nil)
	defs := widgets.Catalog()
	service, err := core.NewService(core.ServiceConfig{Catalog: catalog.Names(defs)}, core.ServiceDeps{EventSink: bus})
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("listen unavailable: %v", err)
	}
	srv := &Server{
		HostKeyPath: filepath.Join(t.TempDir(), "host_key"),
		Listener:    listener,
		Service:     service,
		EventBus:    bus,
		Catalog:     defs,
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.ListenAndServe(ctx) }()

	client, err := ssh.Dial("tcp", listener.Addr().String(), &ssh.ClientConfig{
		User:            "tester",
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         2 * time.Second,
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	sess, err := client.NewSession()
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	defer sess.Close()
	out := &syncBuffer{}
	sess.Stdout = out
	stdin, err := sess.StdinPipe()
	if err != nil {
		t.Fatalf("stdin: %v", err)
	}
	if err := sess.Shell(); err != nil {
		t.Fatalf("shell: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for !strings.Contains(out.String(), "Temperature") {
		if time.Now().After(deadline) {
			t.Fatalf("dashboard not rendered:\n%s", out.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
	clients := service.Clients()
	if len(clients) != 1 || clients[0].ID != "ssh:tester@127.0.0.1" {
		t.Fatalf("clients = %+v", clients)
	}

	_, _ = io.WriteString(stdin, "q")
	waitErr := make(chan error, 1)
	go func() { waitErr <- sess.Wait() }()
	select {
	case <-waitErr:
	case <-time.After(3 * time.Second):
		t.Fatalf("session did not end on q")
	}
	deadline = time.Now().Add(3 * time.Second)
	for len(service.Clients()) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("ssh viewer not disconnected")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
