package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/larmkedjan/larmvakt/internal/config"
	domain "github.com/larmkedjan/larmvakt/internal/domain/alarm"
)

// Repository defines persistence operations for the alarm history snapshot.
type Repository interface {
	Load(ctx context.Context) ([]*domain.Event, error)
	Save(ctx context.Context, events []*domain.Event) error
}

// ErrNotFound is returned when the history file does not exist yet.
var ErrNotFound = errors.New("history not found")

// FileRepository persists the alarm history to a JSON file on disk.
type FileRepository struct {
	// path is the filesystem location of the JSON history file.
	path string
	// mu protects concurrent access to the history file.
	mu sync.Mutex
}

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Load reads the history snapshot from disk.
func (r *FileRepository) Load(_ context.Context) ([]*domain.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read history file: %w", err)
	}

	var events []*domain.Event
	if err = json.Unmarshal(contents, &events); err != nil {
		return nil, fmt.Errorf("decode history file: %w", err)
	}

	// Re-derive denormalized flags; the file may predate a format change.
	for _, e := range events {
		e.Normalize()
	}

	return events, nil
}

// Save writes the history snapshot to disk as JSON.
func (r *FileRepository) Save(_ context.Context, events []*domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}

	if err = os.WriteFile(r.path, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write history file: %w", err)
	}

	return nil
}
