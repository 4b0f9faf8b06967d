package queue

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/cesargomez89/stripedl/internal/constants"
	"github.com/cesargomez89/stripedl/internal/domain"
	"github.com/cesargomez89/stripedl/internal/storage"
)

// ErrCorruptSnapshot is returned by Load when the snapshot could not be parsed.
// The offending file has already been moved out of the way.
var ErrCorruptSnapshot = errors.New("corrupt queue snapshot")

// SnapshotStore persists the whole queue as one unit.
type SnapshotStore interface {
	Load() (*domain.QueueSnapshot, error)
	Save(*domain.QueueSnapshot) error
}

// FileStore keeps the snapshot in a single JSON file, replaced atomically on save.
type FileStore struct {
	path string
	now  func() time.Time
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, now: time.Now}
}

func (s *FileStore) Path() string {
	return s.path
}

// Load returns an empty snapshot when the file does not exist yet.
func (s *FileStore) Load() (*domain.QueueSnapshot, error) {
	data, err := os.ReadFile(s.path)
	if storage.IsNotExist(err) {
		return domain.NewQueueSnapshot(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	snap := domain.NewQueueSnapshot()
	if err := json.Unmarshal(data, snap); err != nil {
		quarantined, qErr := s.quarantine()
		if qErr != nil {
			return nil, fmt.Errorf("%w: %v (quarantine failed: %v)", ErrCorruptSnapshot, err, qErr)
		}
		return nil, fmt.Errorf("%w: %v (moved to %s)", ErrCorruptSnapshot, err, quarantined)
	}

	if snap.Items == nil {
		snap.Items = make(map[string]domain.QueueItem)
	}
	if snap.States == nil {
		snap.States = make(map[string]domain.QueueItemState)
	}
	return snap, nil
}

// quarantine renames the snapshot with a timestamp suffix, deleting it if the rename fails.
func (s *FileStore) quarantine() (string, error) {
	target := s.path + ".corrupted_" + s.now().Format("20060102_150405")
	if err := os.Rename(s.path, target); err == nil {
		return target, nil
	}
	if err := os.Remove(s.path); err != nil {
		return "", err
	}
	return "", nil
}

// Save writes to a temp file in the same directory, syncs it and renames it over
// the snapshot so readers never observe a partial write.
func (s *FileStore) Save(snap *domain.QueueSnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := storage.EnsureDir(dir); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp snapshot: %w", err)
	}
	if err := os.Chmod(tmpName, constants.FilePermissions); err != nil {
		return fmt.Errorf("failed to chmod temp snapshot: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}
