package persist

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"pkt.systems/groundstation/schema"
	"pkt.systems/pslog"
)

// PermissionsName is the snapshot name the permission state is stored under.
const PermissionsName = "permissions"

// PermissionSnapshot captures the server-side permission state for persistence.
// Clients holds explicit overrides only; absent clients inherit the global default.
type PermissionSnapshot struct {
	Global  []schema.WidgetName                       `json:"global"`
	Clients map[schema.ClientID]schema.PermissionSet `json:"clients,omitempty"`
}

// Store persists snapshots to disk as JSON documents.
type Store struct {
	dir string
	log pslog.Logger
}

// NewStore constructs a persistent store at the given directory.
func NewStore(dir string) (*Store, error) {
	return NewStoreWithLogger(dir, nil)
}

// NewStoreWithLogger constructs a persistent store with logging.
func NewStoreWithLogger(dir string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("state_dir", dir)
	}
	return &Store{dir: dir, log: logger}, nil
}

// LoadPermissions reads the permission snapshot.
func (s *Store) LoadPermissions() (PermissionSnapshot, bool, error) {
	var snapshot PermissionSnapshot
	ok, err := s.load(PermissionsName, &snapshot)
	if err != nil || !ok {
		return PermissionSnapshot{}, ok, err
	}
	snapshot.Global = schema.NormalizeWidgetNames(snapshot.Global)
	if s.log != nil {
		s.log.Debug("state load ok", "name", PermissionsName, "global", len(snapshot.Global), "clients", len(snapshot.Clients))
	}
	return snapshot, true, nil
}

// SavePermissions writes the permission snapshot.
func (s *Store) SavePermissions(snapshot PermissionSnapshot) error {
	if snapshot.Global == nil {
		snapshot.Global = []schema.WidgetName{}
	}
	if err := s.save(PermissionsName, snapshot); err != nil {
		return err
	}
	if s.log != nil {
		s.log.Trace("state save ok", "name", PermissionsName, "clients", len(snapshot.Clients))
	}
	return nil
}

// Path returns the file a named snapshot is stored in.
func (s *Store) Path(name string) string {
	return s.pathFor(name)
}

func (s *Store) load(name string, out any) (bool, error) {
	path := s.pathFor(name)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if s.log != nil {
				s.log.Debug("state load miss", "name", name)
			}
			return false, nil
		}
		if s.log != nil {
			s.log.Warn("state load failed", "name", name, "err", err)
		}
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		if s.log != nil {
			s.log.Warn("state load failed", "name", name, "err", err)
		}
		return false, err
	}
	return true, nil
}

func (s *Store) save(name string, value any) error {
	path := s.pathFor(name)
	fail := func(err error) error {
		if s.log != nil {
			s.log.Warn("state save failed", "name", name, "err", err)
		}
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fail(err)
	}
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fail(err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "state-*.json")
	if err != nil {
		return fail(err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fail(err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		return fail(err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fail(err)
	}
	return nil
}

func (s *Store) pathFor(name string) string {
	clean := sanitize(name)
	if clean == "" {
		clean = "unknown"
	}
	return filepath.Join(s.dir, clean+".json")
}

func sanitize(value string) string {
	var b strings.Builder
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	return b.String()
}
