// Package models defines the core domain models for the email workflow engine.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// NodeType represents the kind of a workflow graph node. The node set is
// closed: each type carries its own config struct, decoded and validated when
// the graph is loaded, never re-parsed during execution.
type NodeType string

const (
	NodeTypeTrigger      NodeType = "trigger"
	NodeTypeEmail        NodeType = "email"
	NodeTypeDelay        NodeType = "delay"
	NodeTypeCondition    NodeType = "condition"
	NodeTypeUpdateStatus NodeType = "update_status"
)

// Branch labels on connections. Condition nodes route via "yes"/"no", every
// other node type has a single "next" edge.
const (
	BranchNext = "next"
	BranchYes  = "yes"
	BranchNo   = "no"
)

// Condition operators supported by condition nodes.
const (
	OperatorEquals      = "eq"
	OperatorNotEquals   = "neq"
	OperatorGreaterThan = "gt"
	OperatorLessThan    = "lt"
	OperatorContains    = "contains"
)

// Node is the closed interface over the workflow node variants.
type Node interface {
	ID() string
	Type() NodeType
}

// Connection is a directed, branch-labeled edge between two nodes.
type Connection struct {
	FromNodeID string `json:"from_node_id" validate:"required"`
	ToNodeID   string `json:"to_node_id"   validate:"required"`
	Branch     string `json:"branch"       validate:"required,oneof=next yes no"`
}

// TriggerNode is the graph entry point. Trigger semantics (what fires the
// workflow) live on the workflow itself; the node only anchors traversal.
type TriggerNode struct {
	NodeID string `json:"id"`
}

func (n *TriggerNode) ID() string     { return n.NodeID }
func (n *TriggerNode) Type() NodeType { return NodeTypeTrigger }

// EmailNode sends a templated email to the target's address (or an explicit
// recipient template). Variables are template expressions rendered against the
// run context and target attributes.
type EmailNode struct {
	NodeID     string            `json:"id"`
	TemplateID string            `json:"template_id"`
	FromName   string            `json:"from_name,omitempty"`
	Recipient  string            `json:"recipient,omitempty"`
	Variables  map[string]string `json:"variables,omitempty"`
}

func (n *EmailNode) ID() string     { return n.NodeID }
func (n *EmailNode) Type() NodeType { return NodeTypeEmail }

// DelayNode suspends the run; a continuation resumes it after the configured
// duration.
type DelayNode struct {
	NodeID   string `json:"id"`
	Duration int    `json:"duration"`
	Unit     string `json:"unit"`
}

func (n *DelayNode) ID() string     { return n.NodeID }
func (n *DelayNode) Type() NodeType { return NodeTypeDelay }

// Wait returns the configured delay as a duration.
func (n *DelayNode) Wait() (time.Duration, error) {
	return DurationFromUnits(n.Duration, n.Unit)
}

// ConditionNode evaluates a pure predicate against the run context and target
// attributes and routes to the yes or no branch.
type ConditionNode struct {
	NodeID   string `json:"id"`
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

func (n *ConditionNode) ID() string     { return n.NodeID }
func (n *ConditionNode) Type() NodeType { return NodeTypeCondition }

// UpdateStatusNode mutates the target's status field. This is the only node
// type authorized to mutate external state. When ExpectedStatus is set the
// update is optimistic: a target that moved underneath the run fails the node.
type UpdateStatusNode struct {
	NodeID         string `json:"id"`
	Status         string `json:"status"`
	ExpectedStatus string `json:"expected_status,omitempty"`
}

func (n *UpdateStatusNode) ID() string     { return n.NodeID }
func (n *UpdateStatusNode) Type() NodeType { return NodeTypeUpdateStatus }

// DurationFromUnits converts a (count, unit) pair into a duration. Units
// follow the trigger config vocabulary: minutes, hours, days.
func DurationFromUnits(count int, unit string) (time.Duration, error) {
	if count < 0 {
		return 0, fmt.Errorf("duration must not be negative, got %d", count)
	}

	switch unit {
	case "minutes":
		return time.Duration(count) * time.Minute, nil
	case "hours":
		return time.Duration(count) * time.Hour, nil
	case "days":
		return time.Duration(count) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown duration unit %q", unit)
	}
}

// nodeEnvelope is the serialized form of a node: id, type and a type-specific
// config object.
type nodeEnvelope struct {
	ID     string          `json:"id"`
	Type   NodeType        `json:"type"`
	Config json.RawMessage `json:"config,omitempty"`
}

// DecodeNode turns a serialized node envelope into its typed variant.
func DecodeNode(data []byte) (Node, error) {
	var envelope nodeEnvelope

	err := json.Unmarshal(data, &envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to decode node envelope: %w", err)
	}

	if envelope.ID == "" {
		return nil, errors.New("node is missing an id")
	}

	config := envelope.Config
	if len(config) == 0 {
		config = []byte("{}")
	}

	switch envelope.Type {
	case NodeTypeTrigger:
		return &TriggerNode{NodeID: envelope.ID}, nil
	case NodeTypeEmail:
		node := &EmailNode{}
		if err := json.Unmarshal(config, node); err != nil {
			return nil, fmt.Errorf("invalid email node %s config: %w", envelope.ID, err)
		}

		node.NodeID = envelope.ID
		if node.TemplateID == "" {
			return nil, fmt.Errorf("email node %s is missing template_id", envelope.ID)
		}

		return node, nil
	case NodeTypeDelay:
		node := &DelayNode{}
		if err := json.Unmarshal(config, node); err != nil {
			return nil, fmt.Errorf("invalid delay node %s config: %w", envelope.ID, err)
		}

		node.NodeID = envelope.ID
		if _, err := node.Wait(); err != nil {
			return nil, fmt.Errorf("invalid delay node %s config: %w", envelope.ID, err)
		}

		return node, nil
	case NodeTypeCondition:
		node := &ConditionNode{}
		if err := json.Unmarshal(config, node); err != nil {
			return nil, fmt.Errorf("invalid condition node %s config: %w", envelope.ID, err)
		}

		node.NodeID = envelope.ID
		if node.Field == "" {
			return nil, fmt.Errorf("condition node %s is missing field", envelope.ID)
		}

		switch node.Operator {
		case OperatorEquals, OperatorNotEquals, OperatorGreaterThan, OperatorLessThan, OperatorContains:
		default:
			return nil, fmt.Errorf("condition node %s has unknown operator %q", envelope.ID, node.Operator)
		}

		return node, nil
	case NodeTypeUpdateStatus:
		node := &UpdateStatusNode{}
		if err := json.Unmarshal(config, node); err != nil {
			return nil, fmt.Errorf("invalid update_status node %s config: %w", envelope.ID, err)
		}

		node.NodeID = envelope.ID
		if node.Status == "" {
			return nil, fmt.Errorf("update_status node %s is missing status", envelope.ID)
		}

		return node, nil
	default:
		return nil, fmt.Errorf("unknown node type %q", envelope.Type)
	}
}

// EncodeNode serializes a typed node back into its envelope form.
func EncodeNode(node Node) ([]byte, error) {
	config, err := json.Marshal(node)
	if err != nil {
		return nil, fmt.Errorf("failed to encode node %s: %w", node.ID(), err)
	}

	// The id lives on the envelope, not in the config object.
	var configMap map[string]any
	if err := json.Unmarshal(config, &configMap); err != nil {
		return nil, fmt.Errorf("failed to encode node %s: %w", node.ID(), err)
	}

	delete(configMap, "id")

	rawConfig, err := json.Marshal(configMap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode node %s: %w", node.ID(), err)
	}

	return json.Marshal(nodeEnvelope{
		ID:     node.ID(),
		Type:   node.Type(),
		Config: rawConfig,
	})
}
