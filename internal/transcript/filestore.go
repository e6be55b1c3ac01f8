package transcript

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

const (
	filePrefix = "chat_memory_"
	fileExt    = ".jsonl"

	// TimestampLayout is YYYY-MM-DD_HHMMSS; lexicographic order is chronological.
	TimestampLayout = "2006-01-02_150405"
)

// ErrInvalidID is returned for ids that NewID could not have produced.
var ErrInvalidID = errors.New("invalid session id")

// An id is a creation timestamp, optionally followed by -N to tell apart
// sessions created in the same second.
var idPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}_\d{6}(-[1-9]\d*)?$`)

func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// NewID returns the session id for a session created at t.
func NewID(t time.Time) string {
	return t.Format(TimestampLayout)
}

// FileName maps a session id to its transcript file name.
func FileName(id string) string {
	return filePrefix + id + fileExt
}

// IDFromFileName is the inverse of FileName.
func IDFromFileName(name string) (string, bool) {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileExt) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileExt)
	if !ValidID(id) {
		return "", false
	}
	return id, true
}

// FileStore keeps one JSONL file per session inside a directory.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: expandHome(dir)}
}

func (s *FileStore) Dir() string { return s.dir }

// Prepare creates the transcript directory if it is missing.
func (s *FileStore) Prepare() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return &PersistenceError{Op: "prepare", Path: s.dir, Err: err}
	}
	return nil
}

// Path returns the transcript file of id. The id must be valid, so the path
// never leaves the store directory.
func (s *FileStore) Path(id string) (string, error) {
	if !ValidID(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return filepath.Join(s.dir, FileName(id)), nil
}

// Save overwrites the session file with the full transcript.
func (s *FileStore) Save(ctx context.Context, id string, msgs []Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.Path(id)
	if err != nil {
		return &PersistenceError{Op: "save", Path: s.dir, Err: err}
	}
	if err := s.Prepare(); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return &PersistenceError{Op: "save", Path: path, Err: err}
	}
	if err := Encode(f, msgs); err != nil {
		f.Close()
		return withPath(err, "save", path)
	}
	if err := f.Close(); err != nil {
		return &PersistenceError{Op: "save", Path: path, Err: err}
	}
	return nil
}

func (s *FileStore) Load(ctx context.Context, id string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.Path(id)
	if err != nil {
		return nil, &PersistenceError{Op: "load", Path: s.dir, Err: err}
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, &PersistenceError{Op: "load", Path: path, Err: err}
	}
	defer f.Close()

	msgs, err := Decode(f)
	if err != nil {
		return msgs, withPath(err, "load", path)
	}
	return msgs, nil
}

// List returns stored session ids, oldest first. A missing directory is an
// empty list.
func (s *FileStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ents, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &PersistenceError{Op: "list", Path: s.dir, Err: err}
	}
	var ids []string
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		if id, ok := IDFromFileName(e.Name()); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func withPath(err error, op, path string) error {
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return &PersistenceError{Op: op, Path: path, Line: pe.Line, Err: pe.Err}
	}
	return &PersistenceError{Op: op, Path: path, Err: err}
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
