// Package workflow implements the email workflow engine: graph validation,
// the node-by-node interpreter, the continuation and stuck-status sweeps, and
// retention cleanup.
package workflow

import (
	"errors"
	"fmt"

	"github.com/loanramp/mailflow/pkg/models"
)

var (
	// ErrInvalidGraph re-exports the structural validation error.
	ErrInvalidGraph = models.ErrInvalidGraph

	// ErrNodeExecution marks a node side effect that raised: mail send
	// failed, condition evaluation threw, target mutation failed. The run is
	// failed and not retried by the interpreter; retry, if any, belongs to
	// the sweep job.
	ErrNodeExecution = errors.New("node execution failed")

	// ErrContinuationExhausted marks a continuation that exceeded its retry
	// bound. Run and continuation are both failed; recovery is manual.
	ErrContinuationExhausted = errors.New("continuation retry bound exhausted")

	// ErrWorkflowInactive marks a resume attempt against a deactivated
	// workflow definition.
	ErrWorkflowInactive = errors.New("workflow is inactive")
)

// NodeExecutionError carries which node failed and why.
type NodeExecutionError struct {
	NodeID   string
	NodeType models.NodeType
	Err      error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("%s node %s failed: %v", e.NodeType, e.NodeID, e.Err)
}

func (e *NodeExecutionError) Unwrap() error {
	return e.Err
}

func (e *NodeExecutionError) Is(target error) bool {
	return target == ErrNodeExecution || errors.Is(e.Err, target)
}
