package domain

import (
	"sort"
	"strings"
	"time"
)

// DialogNodeType is the role a node plays in a conversation.
type DialogNodeType string

const (
	NodeAsk      DialogNodeType = "ask"
	NodeInform   DialogNodeType = "inform"
	NodeTerminal DialogNodeType = "terminal"
)

// DefaultResponseKey is the fallback entry of a node's response mapping.
const DefaultResponseKey = "default"

// DialogTreeNode is one step of a scripted conversation. Its identity is
// the key it is stored under in DialogTree.Nodes; Key, when set, must
// match it.
type DialogTreeNode struct {
	Key               string            `json:"node_key" db:"node_key"`
	Type              DialogNodeType    `json:"node_type" db:"node_type"`
	Prompt            string            `json:"prompt" db:"prompt"`
	ExpectedResponses map[string]string `json:"expected_responses,omitempty" db:"expected_responses"`
	ActionType        ActionType        `json:"action_type,omitempty" db:"action_type"`
	ActionParams      map[string]any    `json:"action_params,omitempty" db:"action_params"`
}

// NextNode resolves the next node key for a response: an exact
// (case- and whitespace-insensitive) match first, then the default branch.
func (n *DialogTreeNode) NextNode(response string) (string, bool) {
	if len(n.ExpectedResponses) == 0 {
		return "", false
	}
	norm := normalizeResponse(response)
	for k, next := range n.ExpectedResponses {
		if k != DefaultResponseKey && normalizeResponse(k) == norm {
			return next, true
		}
	}
	next, ok := n.ExpectedResponses[DefaultResponseKey]
	return next, ok && next != ""
}

// ResponseOptions lists the non-default responses the node expects.
func (n *DialogTreeNode) ResponseOptions() []string {
	var out []string
	for k := range n.ExpectedResponses {
		if k != DefaultResponseKey {
			out = append(out, k)
		}
	}
	return out
}

// ResponseCollisions returns the pairs of expected responses that match the
// same normalized text, sorted. A node with collisions branches
// unpredictably.
func (n *DialogTreeNode) ResponseCollisions() [][2]string {
	seen := map[string]string{}
	keys := n.ResponseOptions()
	sort.Strings(keys)
	var out [][2]string
	for _, k := range keys {
		norm := normalizeResponse(k)
		if prev, ok := seen[norm]; ok {
			out = append(out, [2]string{prev, k})
			continue
		}
		seen[norm] = k
	}
	return out
}

func normalizeResponse(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// DialogTree is a named graph of nodes with one start node.
type DialogTree struct {
	ID          string                    `json:"id" db:"id"`
	Name        string                    `json:"name" db:"name"`
	TriggerType string                    `json:"trigger_type" db:"trigger_type"`
	Stage       *PipelineStage            `json:"pipeline_stage,omitempty" db:"pipeline_stage"`
	StartNode   string                    `json:"start_node" db:"start_node"`
	Nodes       map[string]DialogTreeNode `json:"nodes" db:"nodes"`
	Active      bool                      `json:"is_active" db:"is_active"`
}

// Node returns the node stored under key, with Key set to that map key.
func (t *DialogTree) Node(key string) (DialogTreeNode, bool) {
	n, ok := t.Nodes[key]
	if ok {
		n.Key = key
	}
	return n, ok
}

// DialogStatus is the state of a dialog execution.
type DialogStatus string

const (
	DialogInProgress DialogStatus = "in_progress"
	DialogCompleted  DialogStatus = "completed"
	DialogEscalated  DialogStatus = "escalated"
)

// IsTerminal reports whether no further responses are accepted.
func (s DialogStatus) IsTerminal() bool {
	return s == DialogCompleted || s == DialogEscalated
}

// DialogExecution is a customer's live traversal of a dialog tree.
type DialogExecution struct {
	ID            string            `json:"id" db:"id"`
	CustomerID    string            `json:"customer_id" db:"customer_id"`
	TreeID        string            `json:"dialog_tree_id" db:"dialog_tree_id"`
	PersonalityID string            `json:"personality_id,omitempty" db:"personality_id"`
	CurrentNode   string            `json:"current_node" db:"current_node"`
	PathTaken     []string          `json:"path_taken" db:"path_taken"`
	CollectedData map[string]string `json:"collected_data" db:"collected_data"`
	Status        DialogStatus      `json:"status" db:"status"`
	StartedAt     time.Time         `json:"started_at" db:"started_at"`
	CompletedAt   *time.Time        `json:"completed_at" db:"completed_at"`
	Version       int64             `json:"version" db:"version"`
}

// Clone returns a deep copy.
func (e *DialogExecution) Clone() *DialogExecution {
	cp := *e
	cp.PathTaken = append([]string(nil), e.PathTaken...)
	if e.CollectedData != nil {
		cp.CollectedData = make(map[string]string, len(e.CollectedData))
		for k, v := range e.CollectedData {
			cp.CollectedData[k] = v
		}
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
