package bundle

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/toolgate-dev/toolgate/internal/domain/policy"
)

// Store keeps registered bundle versions and the rollout state on disk:
//
//	<dir>/versions/<version-id>.yaml
//	<dir>/rollout.json
//
// Version files are immutable once written; rollout.json is replaced by
// write-to-temp + rename so readers never see a torn file.
type Store struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// NewStore opens (creating if needed) a bundle store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "versions"), 0o755); err != nil {
		return nil, fmt.Errorf("create bundle store: %w", err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

// WithClock overrides the time source. Test hook.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) versionPath(version string) string {
	return filepath.Join(s.dir, "versions", version+".yaml")
}

func (s *Store) rolloutPath() string {
	return filepath.Join(s.dir, "rollout.json")
}

// Register stores raw bundle bytes under a derived version ID and
// returns it. Registering identical bytes again returns the same ID;
// a version file holding different bytes is ErrVersionConflict.
func (s *Store) Register(raw []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	version := policy.VersionID(raw, s.now())
	path := s.versionPath(version)

	existing, err := os.ReadFile(path)
	switch {
	case err == nil:
		if !bytes.Equal(existing, raw) {
			return "", fmt.Errorf("%w: %s", policy.ErrVersionConflict, version)
		}
		return version, nil
	case errors.Is(err, fs.ErrNotExist):
		// New version.
	default:
		return "", fmt.Errorf("read version %s: %w", version, err)
	}

	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("write version %s: %w", version, err)
	}
	return version, nil
}

// Load returns the raw bytes of a registered version.
func (s *Store) Load(version string) ([]byte, error) {
	raw, err := os.ReadFile(s.versionPath(version))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", policy.ErrVersionNotFound, version)
	}
	if err != nil {
		return nil, fmt.Errorf("read version %s: %w", version, err)
	}
	return raw, nil
}

// Versions lists registered version IDs in lexical (and therefore
// chronological) order.
func (s *Store) Versions() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, "versions"))
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) == ".yaml" {
			out = append(out, name[:len(name)-len(".yaml")])
		}
	}
	sort.Strings(out)
	return out, nil
}

// Rollout reads the current rollout state. A missing file is an empty
// rollout, not an error.
func (s *Store) Rollout() (policy.Rollout, error) {
	raw, err := os.ReadFile(s.rolloutPath())
	if errors.Is(err, fs.ErrNotExist) {
		return policy.Rollout{}, nil
	}
	if err != nil {
		return policy.Rollout{}, fmt.Errorf("read rollout: %w", err)
	}
	var r policy.Rollout
	if err := json.Unmarshal(raw, &r); err != nil {
		return policy.Rollout{}, fmt.Errorf("corrupt rollout file: %w", err)
	}
	return r, nil
}

// SetRollout replaces the rollout state atomically.
func (s *Store) SetRollout(r policy.Rollout) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal rollout: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, "rollout-*.json.tmp")
	if err != nil {
		return fmt.Errorf("write rollout: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write rollout: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write rollout: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.rolloutPath()); err != nil {
		return fmt.Errorf("install rollout: %w", err)
	}
	return nil
}
