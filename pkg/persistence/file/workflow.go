package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/loanramp/mailflow/pkg/models"
	"github.com/loanramp/mailflow/pkg/persistence"
)

// WorkflowRepository stores workflow definitions as one JSON file each under
// <root>/workflows.
type WorkflowRepository struct {
	root string
}

func (r *WorkflowRepository) dir() string {
	return filepath.Join(r.root, "workflows")
}

func (r *WorkflowRepository) Workflows(ctx context.Context) ([]*models.Workflow, error) {
	ids, err := listDocumentIDs(r.dir())
	if err != nil {
		return nil, err
	}

	workflows := make([]*models.Workflow, 0, len(ids))

	for _, id := range ids {
		workflow, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load workflow %s: %w", id, err)
		}

		workflows = append(workflows, workflow)
	}

	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.After(workflows[j].CreatedAt)
	})

	return workflows, nil
}

func (r *WorkflowRepository) ActiveWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	workflows, err := r.Workflows(ctx)
	if err != nil {
		return nil, err
	}

	active := make([]*models.Workflow, 0, len(workflows))

	for _, workflow := range workflows {
		if workflow.Active {
			active = append(active, workflow)
		}
	}

	return active, nil
}

func (r *WorkflowRepository) GetByID(_ context.Context, id string) (*models.Workflow, error) {
	var workflow models.Workflow

	err := readDocument(r.dir(), id, &workflow)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", persistence.ErrWorkflowNotFound, id)
		}

		return nil, err
	}

	return &workflow, nil
}

func (r *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if workflow.ID == "" {
		workflow.ID = uuid.NewString()
	}

	return writeDocument(r.dir(), workflow.ID, workflow)
}

func (r *WorkflowRepository) Delete(_ context.Context, id string) error {
	return removeDocument(r.dir(), id)
}
