// Package dialog walks customers through scripted dialog trees, one inbound
// message at a time. The engine holds no timers; waiting for the next
// message is the caller's concern.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ignite/lifecycle-engine/internal/action"
	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/events"
	"github.com/ignite/lifecycle-engine/internal/pkg/clock"
	"github.com/ignite/lifecycle-engine/internal/pkg/logger"
)

// Repository is the storage the dialog engine needs.
type Repository interface {
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	GetDialogTree(ctx context.Context, id string) (*domain.DialogTree, error)
	FindDialogTree(ctx context.Context, triggerType string, stage domain.PipelineStage) (*domain.DialogTree, error)
	CreateExecution(ctx context.Context, e *domain.DialogExecution) error
	GetExecution(ctx context.Context, id string) (*domain.DialogExecution, error)
	// UpdateExecution writes e only if e.Version matches, then bumps it.
	UpdateExecution(ctx context.Context, e *domain.DialogExecution) error
}

// ActionRunner validates and dispatches node actions.
type ActionRunner interface {
	Dispatch(ctx context.Context, t domain.ActionType, req action.Request) (action.Outcome, error)
	Validate(source string, types ...domain.ActionType) error
}

// PersonaResolver returns the personality currently assigned to a customer.
type PersonaResolver interface {
	ActivePersonalityID(ctx context.Context, customerID string) (string, error)
}

// ActionResult reports one node action dispatched while processing a
// response.
type ActionResult struct {
	Node       string            `json:"node"`
	ActionType domain.ActionType `json:"action_type"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
}

// Result is what the caller gets back for one inbound message: either the
// next prompt, or the final status and collected data.
type Result struct {
	ExecutionID   string                `json:"execution_id"`
	Status        domain.DialogStatus   `json:"status"`
	Node          string                `json:"node,omitempty"`
	NodeType      domain.DialogNodeType `json:"node_type,omitempty"`
	Prompt        string                `json:"prompt,omitempty"`
	Options       []string              `json:"expected_responses,omitempty"`
	CollectedData map[string]string     `json:"collected_data,omitempty"`
	Actions       []ActionResult        `json:"actions,omitempty"`
	Error         string                `json:"error,omitempty"`
}

// Engine runs dialog executions.
type Engine struct {
	repo     Repository
	actions  ActionRunner
	clock    clock.Clock
	bus      *events.Bus
	personas PersonaResolver
}

// NewEngine creates a dialog engine.
func NewEngine(repo Repository, actions ActionRunner, clk clock.Clock, bus *events.Bus) *Engine {
	return &Engine{repo: repo, actions: actions, clock: clk, bus: bus}
}

// SetPersonaResolver sets where StartForTrigger looks up the customer's
// personality. Nil starts executions without one.
func (e *Engine) SetPersonaResolver(p PersonaResolver) {
	e.personas = p
}

// ValidateTree checks that the start node and every edge target exist,
// that node keys agree with their map keys, that no two expected responses
// of a node normalize to the same text, and that every node action has a
// registered handler.
func (e *Engine) ValidateTree(tree *domain.DialogTree) error {
	if _, ok := tree.Node(tree.StartNode); !ok {
		return &domain.NotFoundError{Entity: "dialog node", ID: tree.Name + "/" + tree.StartNode}
	}
	keys := make([]string, 0, len(tree.Nodes))
	for k := range tree.Nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var types []domain.ActionType
	for _, k := range keys {
		n := tree.Nodes[k]
		if n.Key != "" && n.Key != k {
			return &domain.ValidationError{Field: "nodes." + k + ".node_key", Message: fmt.Sprintf("node key %q does not match %q", n.Key, k)}
		}
		if dup := n.ResponseCollisions(); len(dup) > 0 {
			return &domain.ValidationError{Field: "nodes." + k + ".expected_responses", Message: fmt.Sprintf("responses %q and %q are ambiguous", dup[0][0], dup[0][1])}
		}
		switch n.Type {
		case domain.NodeAsk, domain.NodeInform, domain.NodeTerminal:
		default:
			return &domain.ValidationError{Field: "nodes." + k + ".node_type", Message: fmt.Sprintf("unknown node type %q", n.Type)}
		}
		for resp, next := range n.ExpectedResponses {
			if _, ok := tree.Node(next); !ok {
				return &domain.ValidationError{Field: "nodes." + k + ".expected_responses." + resp, Message: fmt.Sprintf("target node %q does not exist", next)}
			}
		}
		types = append(types, n.ActionType)
	}
	return e.actions.Validate("dialog tree "+tree.Name, types...)
}

// Start creates an in-progress execution at the tree's start node.
func (e *Engine) Start(ctx context.Context, customerID, treeID, personalityID string) (*domain.DialogExecution, error) {
	if _, err := e.repo.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	tree, err := e.repo.GetDialogTree(ctx, treeID)
	if err != nil {
		return nil, err
	}
	return e.start(ctx, customerID, tree, personalityID)
}

// StartForTrigger picks the active tree for the trigger and the customer's
// stage, and speaks as the customer's assigned personality if one exists.
func (e *Engine) StartForTrigger(ctx context.Context, customerID, triggerType string) (*domain.DialogExecution, error) {
	c, err := e.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	tree, err := e.repo.FindDialogTree(ctx, triggerType, c.Stage())
	if err != nil {
		return nil, err
	}

	var personalityID string
	if e.personas != nil {
		personalityID, err = e.personas.ActivePersonalityID(ctx, customerID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("resolve personality: %w", err)
		}
	}
	return e.start(ctx, customerID, tree, personalityID)
}

func (e *Engine) start(ctx context.Context, customerID string, tree *domain.DialogTree, personalityID string) (*domain.DialogExecution, error) {
	if err := e.ValidateTree(tree); err != nil {
		return nil, err
	}
	exec := &domain.DialogExecution{
		CustomerID:    customerID,
		TreeID:        tree.ID,
		PersonalityID: personalityID,
		CurrentNode:   tree.StartNode,
		PathTaken:     []string{tree.StartNode},
		CollectedData: map[string]string{},
		Status:        domain.DialogInProgress,
		StartedAt:     e.clock.Now(),
	}
	if err := e.repo.CreateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("create dialog execution: %w", err)
	}
	logger.Info("[DialogEngine] dialog started", "customer_id", customerID, "tree", tree.Name, "execution_id", exec.ID)
	return exec, nil
}

// Describe returns the execution's current prompt without changing it.
func (e *Engine) Describe(ctx context.Context, executionID string) (*Result, error) {
	exec, err := e.repo.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	tree, err := e.repo.GetDialogTree(ctx, exec.TreeID)
	if err != nil {
		return nil, err
	}
	res := &Result{ExecutionID: exec.ID, Status: exec.Status, CollectedData: exec.CollectedData}
	node, ok := tree.Node(exec.CurrentNode)
	if !ok {
		stateErr := &domain.DialogStateError{ExecutionID: exec.ID, Node: exec.CurrentNode, Reason: "node not in tree"}
		res.Error = stateErr.Error()
		return res, stateErr
	}
	describeNode(res, node)
	return res, nil
}

// pendingAction is a node action to dispatch once the new state is stored.
type pendingAction struct {
	node   domain.DialogTreeNode
	params map[string]any
}

// ProcessResponse applies one inbound message to an execution.
//
// The current node's answer is recorded, the node's action is queued and
// the matching branch is followed. Entering a node whose action is
// escalate hands the conversation to a human at once, and entering a
// terminal node completes the dialog since no reply is expected there.
// The new state is stored with a version check before any action is
// dispatched, so a response racing another on the same execution fails
// with domain.ErrVersionConflict and dispatches nothing.
func (e *Engine) ProcessResponse(ctx context.Context, executionID, response string) (*Result, error) {
	exec, err := e.repo.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	res := &Result{ExecutionID: exec.ID, Status: exec.Status, Node: exec.CurrentNode}
	if exec.Status.IsTerminal() {
		stateErr := &domain.DialogStateError{ExecutionID: exec.ID, Node: exec.CurrentNode, Reason: "execution is " + string(exec.Status)}
		res.Error = stateErr.Error()
		return res, stateErr
	}

	tree, err := e.repo.GetDialogTree(ctx, exec.TreeID)
	if err != nil {
		return nil, err
	}
	current, ok := tree.Node(exec.CurrentNode)
	if !ok {
		stateErr := &domain.DialogStateError{ExecutionID: exec.ID, Node: exec.CurrentNode, Reason: "node not in tree"}
		logger.Error("[DialogEngine] execution points at a missing node", "execution_id", exec.ID, "node", exec.CurrentNode)
		res.Error = stateErr.Error()
		return res, stateErr
	}
	c, err := e.repo.GetCustomer(ctx, exec.CustomerID)
	if err != nil {
		return nil, err
	}

	next := exec.Clone()
	if next.CollectedData == nil {
		next.CollectedData = map[string]string{}
	}
	var pending []pendingAction
	var escalation *domain.DialogEscalatedEvent

	if current.Type == domain.NodeAsk {
		next.CollectedData[exec.CurrentNode] = response
	}
	if current.ActionType != "" {
		pending = append(pending, pendingAction{node: current, params: current.ActionParams})
		if current.ActionType == domain.ActionEscalate {
			escalation = e.escalate(next, current)
		}
	}

	nextKey, hasNext := current.NextNode(response)
	switch {
	case escalation != nil:
	case !hasNext || current.Type == domain.NodeTerminal:
		e.finish(next, domain.DialogCompleted)
	default:
		target, _ := tree.Node(nextKey)
		next.PathTaken = append(next.PathTaken, nextKey)
		next.CurrentNode = nextKey
		switch {
		case target.ActionType == domain.ActionEscalate:
			pending = append(pending, pendingAction{node: target, params: target.ActionParams})
			escalation = e.escalate(next, target)
		case target.Type == domain.NodeTerminal:
			if target.ActionType != "" {
				pending = append(pending, pendingAction{node: target, params: target.ActionParams})
			}
			e.finish(next, domain.DialogCompleted)
		}
	}

	if err := e.repo.UpdateExecution(ctx, next); err != nil {
		return nil, fmt.Errorf("update dialog execution %s: %w", exec.ID, err)
	}

	for _, pa := range pending {
		res.Actions = append(res.Actions, e.dispatch(ctx, c, next, pa))
	}
	if escalation != nil {
		escalation.Collected = copyData(next.CollectedData)
		logger.Info("[DialogEngine] dialog escalated", "customer_id", c.ID, "execution_id", next.ID, "node", escalation.Node)
		e.bus.Emit(ctx, *escalation)
	} else if next.Status == domain.DialogCompleted {
		logger.Info("[DialogEngine] dialog completed", "customer_id", c.ID, "execution_id", next.ID, "steps", len(next.PathTaken))
	}

	res.Status = next.Status
	res.Node = next.CurrentNode
	if node, ok := tree.Node(next.CurrentNode); ok {
		describeNode(res, node)
	}
	if next.Status.IsTerminal() {
		res.Options = nil
		res.CollectedData = copyData(next.CollectedData)
	}
	return res, nil
}

func (e *Engine) escalate(exec *domain.DialogExecution, node domain.DialogTreeNode) *domain.DialogEscalatedEvent {
	e.finish(exec, domain.DialogEscalated)
	reason := action.String(node.ActionParams, "reason", "escalated at "+node.Key)
	return &domain.DialogEscalatedEvent{
		CustomerID:  exec.CustomerID,
		ExecutionID: exec.ID,
		TreeID:      exec.TreeID,
		Node:        node.Key,
		Reason:      reason,
		At:          *exec.CompletedAt,
	}
}

func (e *Engine) finish(exec *domain.DialogExecution, status domain.DialogStatus) {
	now := e.clock.Now()
	exec.Status = status
	exec.CompletedAt = &now
}

// dispatch runs a node action. Failures are reported in the result and do
// not undo the stored transition.
func (e *Engine) dispatch(ctx context.Context, c *domain.Customer, exec *domain.DialogExecution, pa pendingAction) ActionResult {
	ar := ActionResult{Node: pa.node.Key, ActionType: pa.node.ActionType}
	_, err := e.actions.Dispatch(ctx, pa.node.ActionType, action.Request{
		Customer: c,
		Params:   pa.params,
		ActionID: pa.node.Key,
		Source:   "dialog " + exec.ID,
	})
	if err != nil {
		execErr := &domain.ActionExecutionError{ActionID: pa.node.Key, ActionType: pa.node.ActionType, Err: err}
		logger.Error("[DialogEngine] node action failed", "customer_id", c.ID, "execution_id", exec.ID, "error", execErr)
		ar.Error = execErr.Error()
		return ar
	}
	ar.Success = true
	return ar
}

func describeNode(res *Result, n domain.DialogTreeNode) {
	res.Node = n.Key
	res.NodeType = n.Type
	res.Prompt = n.Prompt
	opts := n.ResponseOptions()
	sort.Strings(opts)
	res.Options = opts
}

func copyData(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
