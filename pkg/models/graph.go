package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidGraph marks a structural defect in a workflow graph. It is
// detected when a definition is loaded or validated, never at runtime.
var ErrInvalidGraph = errors.New("invalid workflow graph")

// Graph is the immutable node/connection structure of a workflow definition.
type Graph struct {
	Nodes       []Node       `json:"nodes"`
	Connections []Connection `json:"connections"`
}

type graphEnvelope struct {
	Nodes       []json.RawMessage `json:"nodes"`
	Connections []Connection      `json:"connections"`
}

func (g *Graph) UnmarshalJSON(data []byte) error {
	var envelope graphEnvelope

	err := json.Unmarshal(data, &envelope)
	if err != nil {
		return fmt.Errorf("failed to decode graph: %w", err)
	}

	nodes := make([]Node, 0, len(envelope.Nodes))

	for _, raw := range envelope.Nodes {
		node, err := DecodeNode(raw)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidGraph, err)
		}

		nodes = append(nodes, node)
	}

	g.Nodes = nodes
	g.Connections = envelope.Connections

	return nil
}

func (g Graph) MarshalJSON() ([]byte, error) {
	envelope := graphEnvelope{
		Nodes:       make([]json.RawMessage, 0, len(g.Nodes)),
		Connections: g.Connections,
	}

	for _, node := range g.Nodes {
		raw, err := EncodeNode(node)
		if err != nil {
			return nil, err
		}

		envelope.Nodes = append(envelope.Nodes, raw)
	}

	if envelope.Connections == nil {
		envelope.Connections = make([]Connection, 0)
	}

	return json.Marshal(envelope)
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id string) Node {
	for _, node := range g.Nodes {
		if node.ID() == id {
			return node
		}
	}

	return nil
}

// TriggerNode returns the graph's single trigger node.
func (g *Graph) TriggerNode() (*TriggerNode, error) {
	var trigger *TriggerNode

	for _, node := range g.Nodes {
		if t, ok := node.(*TriggerNode); ok {
			if trigger != nil {
				return nil, fmt.Errorf("%w: more than one trigger node", ErrInvalidGraph)
			}

			trigger = t
		}
	}

	if trigger == nil {
		return nil, fmt.Errorf("%w: no trigger node", ErrInvalidGraph)
	}

	return trigger, nil
}

// Next returns the node reached from nodeID via the given branch label, or nil
// when the node has no outgoing edge on that branch (end of the graph).
func (g *Graph) Next(nodeID, branch string) Node {
	for _, conn := range g.Connections {
		if conn.FromNodeID == nodeID && conn.Branch == branch {
			return g.Node(conn.ToNodeID)
		}
	}

	return nil
}

// Validate checks the graph's structural invariants: exactly one trigger node,
// no dangling connections, every node reachable from the trigger, condition
// nodes carrying both branches, non-condition nodes carrying at most one
// outgoing edge, and no cycle that avoids a delay node. All violations are
// reported as ErrInvalidGraph.
func (g *Graph) Validate() error {
	trigger, err := g.TriggerNode()
	if err != nil {
		return err
	}

	ids := make(map[string]Node, len(g.Nodes))

	for _, node := range g.Nodes {
		if _, exists := ids[node.ID()]; exists {
			return fmt.Errorf("%w: duplicate node id %s", ErrInvalidGraph, node.ID())
		}

		ids[node.ID()] = node
	}

	outgoing := make(map[string]map[string]string, len(g.Nodes))

	for _, conn := range g.Connections {
		if _, ok := ids[conn.FromNodeID]; !ok {
			return fmt.Errorf("%w: connection references unknown node %s", ErrInvalidGraph, conn.FromNodeID)
		}

		if _, ok := ids[conn.ToNodeID]; !ok {
			return fmt.Errorf("%w: connection references unknown node %s", ErrInvalidGraph, conn.ToNodeID)
		}

		branches, ok := outgoing[conn.FromNodeID]
		if !ok {
			branches = make(map[string]string)
			outgoing[conn.FromNodeID] = branches
		}

		if _, dup := branches[conn.Branch]; dup {
			return fmt.Errorf("%w: node %s has duplicate %q connections", ErrInvalidGraph, conn.FromNodeID, conn.Branch)
		}

		branches[conn.Branch] = conn.ToNodeID
	}

	for _, node := range g.Nodes {
		branches := outgoing[node.ID()]

		if _, ok := node.(*ConditionNode); ok {
			if _, yes := branches[BranchYes]; !yes {
				return fmt.Errorf("%w: condition node %s is missing a %q branch", ErrInvalidGraph, node.ID(), BranchYes)
			}

			if _, no := branches[BranchNo]; !no {
				return fmt.Errorf("%w: condition node %s is missing a %q branch", ErrInvalidGraph, node.ID(), BranchNo)
			}

			if _, next := branches[BranchNext]; next {
				return fmt.Errorf("%w: condition node %s must not have a %q connection", ErrInvalidGraph, node.ID(), BranchNext)
			}

			continue
		}

		if _, yes := branches[BranchYes]; yes {
			return fmt.Errorf("%w: node %s must not have a %q connection", ErrInvalidGraph, node.ID(), BranchYes)
		}

		if _, no := branches[BranchNo]; no {
			return fmt.Errorf("%w: node %s must not have a %q connection", ErrInvalidGraph, node.ID(), BranchNo)
		}
	}

	if err := g.checkReachability(trigger, ids); err != nil {
		return err
	}

	return g.checkTightCycles(ids)
}

func (g *Graph) checkReachability(trigger *TriggerNode, ids map[string]Node) error {
	visited := make(map[string]bool, len(ids))
	queue := []string{trigger.ID()}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if visited[current] {
			continue
		}

		visited[current] = true

		for _, conn := range g.Connections {
			if conn.FromNodeID == current {
				queue = append(queue, conn.ToNodeID)
			}
		}
	}

	for id := range ids {
		if !visited[id] {
			return fmt.Errorf("%w: node %s is not reachable from the trigger", ErrInvalidGraph, id)
		}
	}

	return nil
}

// checkTightCycles rejects cycles that do not pass through a delay node. A
// cycle containing a delay is legal (the run suspends on each lap); one
// without a delay would spin forever inside a single invocation.
func (g *Graph) checkTightCycles(ids map[string]Node) error {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)

	state := make(map[string]int, len(ids))

	var visit func(id string) error

	visit = func(id string) error {
		state[id] = inStack

		for _, conn := range g.Connections {
			if conn.FromNodeID != id {
				continue
			}

			// Edges through a delay node break the cycle: the run
			// always suspends there.
			if _, isDelay := ids[conn.ToNodeID].(*DelayNode); isDelay {
				continue
			}

			switch state[conn.ToNodeID] {
			case inStack:
				return fmt.Errorf("%w: cycle without a delay node through %s", ErrInvalidGraph, conn.ToNodeID)
			case unvisited:
				if err := visit(conn.ToNodeID); err != nil {
					return err
				}
			}
		}

		state[id] = done

		return nil
	}

	for id, node := range ids {
		if _, isDelay := node.(*DelayNode); isDelay {
			continue
		}

		if state[id] == unvisited {
			if err := visit(id); err != nil {
				return err
			}
		}
	}

	return nil
}
