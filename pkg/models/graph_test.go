package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearGraph() Graph {
	return Graph{
		Nodes: []Node{
			&TriggerNode{NodeID: "start"},
			&EmailNode{NodeID: "welcome", TemplateID: "welcome_email"},
			&UpdateStatusNode{NodeID: "mark", Status: "contacted"},
		},
		Connections: []Connection{
			{FromNodeID: "start", ToNodeID: "welcome", Branch: BranchNext},
			{FromNodeID: "welcome", ToNodeID: "mark", Branch: BranchNext},
		},
	}
}

func TestGraphValidate_Linear(t *testing.T) {
	graph := linearGraph()

	require.NoError(t, graph.Validate())
}

func TestGraphValidate_TriggerNode(t *testing.T) {
	t.Run("no trigger", func(t *testing.T) {
		graph := Graph{
			Nodes: []Node{&EmailNode{NodeID: "a", TemplateID: "x"}},
		}

		err := graph.Validate()
		require.ErrorIs(t, err, ErrInvalidGraph)
		assert.Contains(t, err.Error(), "no trigger node")
	})

	t.Run("two triggers", func(t *testing.T) {
		graph := Graph{
			Nodes: []Node{
				&TriggerNode{NodeID: "a"},
				&TriggerNode{NodeID: "b"},
			},
		}

		err := graph.Validate()
		require.ErrorIs(t, err, ErrInvalidGraph)
		assert.Contains(t, err.Error(), "more than one trigger")
	})
}

func TestGraphValidate_DuplicateNodeID(t *testing.T) {
	graph := Graph{
		Nodes: []Node{
			&TriggerNode{NodeID: "start"},
			&EmailNode{NodeID: "start", TemplateID: "x"},
		},
	}

	err := graph.Validate()
	require.ErrorIs(t, err, ErrInvalidGraph)
	assert.Contains(t, err.Error(), "duplicate node id")
}

func TestGraphValidate_DanglingConnection(t *testing.T) {
	graph := linearGraph()
	graph.Connections = append(graph.Connections, Connection{
		FromNodeID: "mark", ToNodeID: "ghost", Branch: BranchNext,
	})

	err := graph.Validate()
	require.ErrorIs(t, err, ErrInvalidGraph)
	assert.Contains(t, err.Error(), "unknown node")
}

func TestGraphValidate_ConditionBranches(t *testing.T) {
	base := func() Graph {
		return Graph{
			Nodes: []Node{
				&TriggerNode{NodeID: "start"},
				&ConditionNode{NodeID: "check", Field: "status", Operator: OperatorEquals, Value: "approved"},
				&EmailNode{NodeID: "approved_mail", TemplateID: "a"},
				&EmailNode{NodeID: "other_mail", TemplateID: "b"},
			},
			Connections: []Connection{
				{FromNodeID: "start", ToNodeID: "check", Branch: BranchNext},
				{FromNodeID: "check", ToNodeID: "approved_mail", Branch: BranchYes},
				{FromNodeID: "check", ToNodeID: "other_mail", Branch: BranchNo},
			},
		}
	}

	t.Run("both branches present", func(t *testing.T) {
		graph := base()
		require.NoError(t, graph.Validate())
	})

	t.Run("missing no branch", func(t *testing.T) {
		graph := base()
		graph.Connections = graph.Connections[:2]
		graph.Nodes = graph.Nodes[:3]

		err := graph.Validate()
		require.ErrorIs(t, err, ErrInvalidGraph)
		assert.Contains(t, err.Error(), `missing a "no" branch`)
	})

	t.Run("condition with next edge", func(t *testing.T) {
		graph := base()
		graph.Connections = append(graph.Connections, Connection{
			FromNodeID: "check", ToNodeID: "other_mail", Branch: BranchNext,
		})

		err := graph.Validate()
		require.ErrorIs(t, err, ErrInvalidGraph)
	})

	t.Run("email with yes edge", func(t *testing.T) {
		graph := base()
		graph.Connections = append(graph.Connections, Connection{
			FromNodeID: "approved_mail", ToNodeID: "other_mail", Branch: BranchYes,
		})

		err := graph.Validate()
		require.ErrorIs(t, err, ErrInvalidGraph)
	})
}

func TestGraphValidate_Unreachable(t *testing.T) {
	graph := linearGraph()
	graph.Nodes = append(graph.Nodes, &EmailNode{NodeID: "orphan", TemplateID: "x"})

	err := graph.Validate()
	require.ErrorIs(t, err, ErrInvalidGraph)
	assert.Contains(t, err.Error(), "not reachable")
}

func TestGraphValidate_Cycles(t *testing.T) {
	t.Run("tight cycle rejected", func(t *testing.T) {
		graph := Graph{
			Nodes: []Node{
				&TriggerNode{NodeID: "start"},
				&ConditionNode{NodeID: "check", Field: "status", Operator: OperatorEquals, Value: "x"},
				&EmailNode{NodeID: "mail", TemplateID: "t"},
				&UpdateStatusNode{NodeID: "done", Status: "done"},
			},
			Connections: []Connection{
				{FromNodeID: "start", ToNodeID: "check", Branch: BranchNext},
				{FromNodeID: "check", ToNodeID: "mail", Branch: BranchYes},
				{FromNodeID: "check", ToNodeID: "done", Branch: BranchNo},
				{FromNodeID: "mail", ToNodeID: "check", Branch: BranchNext},
			},
		}

		err := graph.Validate()
		require.ErrorIs(t, err, ErrInvalidGraph)
		assert.Contains(t, err.Error(), "cycle without a delay node")
	})

	t.Run("cycle through delay allowed", func(t *testing.T) {
		graph := Graph{
			Nodes: []Node{
				&TriggerNode{NodeID: "start"},
				&ConditionNode{NodeID: "check", Field: "status", Operator: OperatorEquals, Value: "x"},
				&EmailNode{NodeID: "mail", TemplateID: "t"},
				&DelayNode{NodeID: "wait", Duration: 1, Unit: "days"},
				&UpdateStatusNode{NodeID: "done", Status: "done"},
			},
			Connections: []Connection{
				{FromNodeID: "start", ToNodeID: "check", Branch: BranchNext},
				{FromNodeID: "check", ToNodeID: "mail", Branch: BranchYes},
				{FromNodeID: "check", ToNodeID: "done", Branch: BranchNo},
				{FromNodeID: "mail", ToNodeID: "wait", Branch: BranchNext},
				{FromNodeID: "wait", ToNodeID: "check", Branch: BranchNext},
			},
		}

		require.NoError(t, graph.Validate())
	})
}

func TestGraphNext(t *testing.T) {
	graph := linearGraph()

	next := graph.Next("start", BranchNext)
	require.NotNil(t, next)
	assert.Equal(t, "welcome", next.ID())

	assert.Nil(t, graph.Next("mark", BranchNext))
	assert.Nil(t, graph.Next("start", BranchYes))
}

func TestGraphJSONRoundTrip(t *testing.T) {
	document := `{
		"nodes": [
			{"id": "start", "type": "trigger"},
			{"id": "wait", "type": "delay", "config": {"duration": 2, "unit": "hours"}},
			{"id": "mail", "type": "email", "config": {"template_id": "followup", "variables": {"name": "{{.target.name}}"}}}
		],
		"connections": [
			{"from_node_id": "start", "to_node_id": "wait", "branch": "next"},
			{"from_node_id": "wait", "to_node_id": "mail", "branch": "next"}
		]
	}`

	var graph Graph

	require.NoError(t, json.Unmarshal([]byte(document), &graph))
	require.Len(t, graph.Nodes, 3)

	delay, ok := graph.Node("wait").(*DelayNode)
	require.True(t, ok)
	assert.Equal(t, 2, delay.Duration)
	assert.Equal(t, "hours", delay.Unit)

	mail, ok := graph.Node("mail").(*EmailNode)
	require.True(t, ok)
	assert.Equal(t, "followup", mail.TemplateID)
	assert.Equal(t, "{{.target.name}}", mail.Variables["name"])

	encoded, err := json.Marshal(graph)
	require.NoError(t, err)

	var decoded Graph

	require.NoError(t, json.Unmarshal(encoded, &decoded))
	require.NoError(t, decoded.Validate())
	assert.Equal(t, graph.Connections, decoded.Connections)
}
