// Package file provides the file-based persistence implementation. One JSON
// document per entity under a root directory. Intended for development and
// tests; concurrency control is a process-local mutex, so it must not be
// shared between processes.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/loanramp/mailflow/pkg/persistence"
	"github.com/loanramp/mailflow/pkg/target"
)

// Persistence implements persistence.Persistence on the file system.
type Persistence struct {
	root             string
	workflowRepo     *WorkflowRepository
	executionRepo    *ExecutionRepository
	continuationRepo *ContinuationRepository
	trackerRepo      *TrackerRepository
	targetRepo       *TargetRepository
}

// NewPersistence creates a file persistence layer rooted at the given
// directory. Accepts a file:// prefix.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	// CAS operations (run creation, continuation claim, tracker insert) share
	// one lock.
	mu := &sync.Mutex{}

	return &Persistence{
		root:             cleanRoot,
		workflowRepo:     &WorkflowRepository{root: cleanRoot},
		executionRepo:    &ExecutionRepository{root: cleanRoot, mu: mu},
		continuationRepo: &ContinuationRepository{root: cleanRoot, mu: mu},
		trackerRepo:      &TrackerRepository{root: cleanRoot, mu: mu},
		targetRepo:       &TargetRepository{root: cleanRoot, mu: mu},
	}
}

func (fp *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return fp.workflowRepo
}

func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return fp.executionRepo
}

func (fp *Persistence) ContinuationRepository() persistence.ContinuationRepository {
	return fp.continuationRepo
}

func (fp *Persistence) TrackerRepository() persistence.TrackerRepository {
	return fp.trackerRepo
}

func (fp *Persistence) TargetRepository() target.Store {
	return fp.targetRepo
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Close performs any necessary cleanup. Nothing to clean up for files.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

func writeDocument(dir, id string, document any) error {
	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(document, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal document %s: %w", id, err)
	}

	path := filepath.Join(dir, id+".json")

	err = os.WriteFile(path, data, 0o644)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}

func readDocument(dir, id string, document any) error {
	path := filepath.Join(dir, id+".json")

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return os.ErrNotExist
		}

		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	err = json.Unmarshal(data, document)
	if err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", path, err)
	}

	return nil
}

func listDocumentIDs(dir string) ([]string, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}

	files, err := fs.Glob(os.DirFS(dir), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	ids := make([]string, 0, len(files))
	for _, file := range files {
		ids = append(ids, strings.TrimSuffix(file, ".json"))
	}

	return ids, nil
}

func removeDocument(dir, id string) error {
	path := filepath.Join(dir, id+".json")

	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}

	return nil
}
