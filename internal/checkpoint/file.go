package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/STRATINT/feedwatch/internal/atomicfile"
)

// FileStore keeps the checkpoint in a JSON document of the form
// {"<entity_key>": {"last_item_id": "<numeric>"}}.
type FileStore struct {
	path string
}

// NewFileStore returns a store bound to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the checkpoint. A missing file is an empty state; an unreadable
// document returns ErrCorrupt.
func (s *FileStore) Load(ctx context.Context) (State, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return State{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", s.path, err)
	}

	state := State{}
	if len(data) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	return state, nil
}

// Save writes the state to a temp file and renames it over the checkpoint.
func (s *FileStore) Save(ctx context.Context, state State) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := atomicfile.Write(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write checkpoint %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
