package persist

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"pkt.systems/querydesk/schema"
	"pkt.systems/pslog"
)

// TabRecord captures one editor tab for persistence. Query results and
// in-flight state are never written.
type TabRecord struct {
	ID                schema.TabID            `json:"id"`
	Label             string                  `json:"label"`
	IsSaved           bool                    `json:"is_saved"`
	SavedAt           time.Time               `json:"saved_at,omitzero"`
	QueryStatement    string                  `json:"query_statement"`
	SelectedStatement string                  `json:"selected_statement,omitempty"`
	Connection        schema.ConnectionTarget `json:"connection,omitempty"`
	// SavedStatement is the last executed statement. Nil means the tab was
	// never executed.
	SavedStatement *string `json:"saved_statement,omitempty"`
}

// UserSnapshot captures a user's ordered tabs and current pointer.
type UserSnapshot struct {
	Current schema.TabID `json:"current,omitempty"`
	Tabs    []TabRecord  `json:"tabs"`
}

// Store persists user snapshots as one JSON file per user.
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

// Load reads a user snapshot from disk. A missing file is not an error.
func (s *Store) Load(userID schema.UserID) (UserSnapshot, bool, error) {
	data, err := os.ReadFile(s.pathForUser(userID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.debug("state load miss", "user", userID)
			return UserSnapshot{}, false, nil
		}
		s.warn("state load failed", "user", userID, "err", err)
		return UserSnapshot{}, false, err
	}
	snapshot, err := decodeSnapshot(data)
	if err != nil {
		s.warn("state load failed", "user", userID, "err", err)
		return UserSnapshot{}, false, err
	}
	s.debug("state load ok", "user", userID, "tabs", len(snapshot.Tabs))
	return snapshot, true, nil
}

// Save writes a user snapshot atomically through a temp file and rename.
func (s *Store) Save(userID schema.UserID, snapshot UserSnapshot) error {
	if err := s.writeSnapshot(s.pathForUser(userID), snapshot); err != nil {
		s.warn("state save failed", "user", userID, "err", err)
		return err
	}
	if s.log != nil {
		s.log.Trace("state save ok", "user", userID, "tabs", len(snapshot.Tabs))
	}
	return nil
}

func (s *Store) writeSnapshot(path string, snapshot UserSnapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := encodeSnapshot(snapshot, true)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "state-*.json")
	if err != nil {
		return err
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		cleanup()
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *Store) debug(msg string, kv ...any) {
	if s.log != nil {
		s.log.Debug(msg, kv...)
	}
}

func (s *Store) warn(msg string, kv ...any) {
	if s.log != nil {
		s.log.Warn(msg, kv...)
	}
}

func (s *Store) pathForUser(userID schema.UserID) string {
	return filepath.Join(s.dir, userKey(userID)+".json")
}

func encodeSnapshot(snapshot UserSnapshot, indent bool) ([]byte, error) {
	if snapshot.Tabs == nil {
		snapshot.Tabs = []TabRecord{}
	}
	if indent {
		return json.MarshalIndent(snapshot, "", "  ")
	}
	return json.Marshal(snapshot)
}

func decodeSnapshot(data []byte) (UserSnapshot, error) {
	var snapshot UserSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return UserSnapshot{}, err
	}
	return snapshot, nil
}

// userKey maps a user id to a file and row safe key.
func userKey(userID schema.UserID) string {
	name := sanitize(string(userID))
	if name == "" {
		name = "unknown"
	}
	return name
}

func sanitize(value string) string {
	var b strings.Builder
	for _, r := range value {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
