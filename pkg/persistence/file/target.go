package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/loanramp/mailflow/pkg/models"
	"github.com/loanramp/mailflow/pkg/persistence"
	"github.com/loanramp/mailflow/pkg/target"
)

// targetDocument is the on-disk shape of an application or contract row.
type targetDocument struct {
	ID         string         `json:"id"`
	Email      string         `json:"email"`
	Status     string         `json:"status"`
	Attributes map[string]any `json:"attributes,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// TargetRepository stores target entities as one JSON file each under
// <root>/targets/<type>.
type TargetRepository struct {
	root string
	mu   *sync.Mutex
}

func (r *TargetRepository) dir(targetType models.TargetType) string {
	return filepath.Join(r.root, "targets", string(targetType))
}

// SaveTarget writes a target entity. Used for seeding development and test
// data; the engine itself only reads and updates status.
func (r *TargetRepository) SaveTarget(_ context.Context, tgt target.Target) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref := tgt.Ref()
	document := targetDocument{
		ID:         ref.ID,
		Email:      tgt.Email(),
		Status:     tgt.Status(),
		Attributes: stripBuiltins(tgt.Attributes()),
		CreatedAt:  tgt.CreatedAt(),
		UpdatedAt:  tgt.UpdatedAt(),
	}

	return writeDocument(r.dir(ref.Type), ref.ID, &document)
}

func (r *TargetRepository) Get(_ context.Context, ref models.TargetRef) (target.Target, error) {
	var document targetDocument

	err := readDocument(r.dir(ref.Type), ref.ID, &document)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", persistence.ErrTargetNotFound, ref)
		}

		return nil, err
	}

	return document.record(ref.Type), nil
}

func (r *TargetRepository) FindStuck(ctx context.Context, targetType models.TargetType, status string, updatedBefore time.Time) ([]target.Target, error) {
	return r.find(ctx, targetType, func(document *targetDocument) bool {
		return document.Status == status && !document.UpdatedAt.After(updatedBefore)
	})
}

func (r *TargetRepository) FindCreatedBefore(ctx context.Context, targetType models.TargetType, createdBefore time.Time) ([]target.Target, error) {
	return r.find(ctx, targetType, func(document *targetDocument) bool {
		return !document.CreatedAt.After(createdBefore)
	})
}

func (r *TargetRepository) UpdateStatus(_ context.Context, ref models.TargetRef, newStatus, expectedStatus string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var document targetDocument

	err := readDocument(r.dir(ref.Type), ref.ID, &document)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", persistence.ErrTargetNotFound, ref)
		}

		return err
	}

	if expectedStatus != "" && document.Status != expectedStatus {
		return fmt.Errorf("%w: %s expected status %q", persistence.ErrStatusConflict, ref, expectedStatus)
	}

	document.Status = newStatus
	document.UpdatedAt = time.Now().UTC()

	return writeDocument(r.dir(ref.Type), ref.ID, &document)
}

func (r *TargetRepository) find(_ context.Context, targetType models.TargetType, match func(*targetDocument) bool) ([]target.Target, error) {
	ids, err := listDocumentIDs(r.dir(targetType))
	if err != nil {
		return nil, err
	}

	targets := make([]target.Target, 0, len(ids))

	for _, id := range ids {
		var document targetDocument

		err := readDocument(r.dir(targetType), id, &document)
		if err != nil {
			return nil, fmt.Errorf("failed to load target %s: %w", id, err)
		}

		if match(&document) {
			targets = append(targets, document.record(targetType))
		}
	}

	sort.Slice(targets, func(i, j int) bool {
		return targets[i].Ref().ID < targets[j].Ref().ID
	})

	return targets, nil
}

func (d *targetDocument) record(targetType models.TargetType) *target.Record {
	ref := models.TargetRef{Type: targetType, ID: d.ID}

	return target.NewRecord(ref, d.Status, d.Email, d.CreatedAt, d.UpdatedAt, d.Attributes)
}

// stripBuiltins drops the keys Record.Attributes synthesizes so they are not
// duplicated on disk.
func stripBuiltins(attrs map[string]any) map[string]any {
	custom := make(map[string]any, len(attrs))

	for k, v := range attrs {
		switch k {
		case "id", "type", "status", "email":
		default:
			custom[k] = v
		}
	}

	if len(custom) == 0 {
		return nil
	}

	return custom
}

var _ target.Store = (*TargetRepository)(nil)
