package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/lib/pq"
)

// ── Dialog trees ───────────────────────────────────────────────────────────

const treeColumns = `id, name, trigger_type, pipeline_stage, start_node, nodes, is_active`

func scanTree(row scanner) (*domain.DialogTree, error) {
	var (
		t     domain.DialogTree
		stage sql.NullString
		nodes []byte
	)
	if err := row.Scan(&t.ID, &t.Name, &t.TriggerType, &stage, &t.StartNode, &nodes, &t.Active); err != nil {
		return nil, err
	}
	t.Stage = stagePtr(stage)
	if err := decodeJSON(nodes, &t.Nodes); err != nil {
		return nil, fmt.Errorf("decode dialog nodes: %w", err)
	}
	return &t, nil
}

func (s *Store) SaveDialogTree(ctx context.Context, t *domain.DialogTree) error {
	t.ID = newID(t.ID)
	n := t.Nodes
	if n == nil {
		n = map[string]domain.DialogTreeNode{}
	}
	nodes, err := jsonText(n)
	if err != nil {
		return fmt.Errorf("encode dialog nodes: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO lifecycle_dialog_trees (id, name, trigger_type, pipeline_stage, start_node, nodes, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, trigger_type = EXCLUDED.trigger_type,
			pipeline_stage = EXCLUDED.pipeline_stage, start_node = EXCLUDED.start_node,
			nodes = EXCLUDED.nodes, is_active = EXCLUDED.is_active
	`, t.ID, t.Name, t.TriggerType, nullStage(t.Stage), t.StartNode, nodes, t.Active)
	if err != nil {
		return fmt.Errorf("save dialog tree: %w", err)
	}
	return nil
}

func (s *Store) GetDialogTree(ctx context.Context, id string) (*domain.DialogTree, error) {
	t, err := scanTree(s.db.QueryRowContext(ctx,
		`SELECT `+treeColumns+` FROM lifecycle_dialog_trees WHERE id = $1`, id))
	if err != nil {
		return nil, getErr(err, "dialog tree", id)
	}
	return t, nil
}

// FindDialogTree picks the active tree for a trigger, preferring one bound
// to stage over a stage-agnostic one.
func (s *Store) FindDialogTree(ctx context.Context, triggerType string, stage domain.PipelineStage) (*domain.DialogTree, error) {
	t, err := scanTree(s.db.QueryRowContext(ctx, `
		SELECT `+treeColumns+` FROM lifecycle_dialog_trees
		WHERE trigger_type = $1 AND is_active
		  AND (pipeline_stage = $2 OR pipeline_stage IS NULL)
		ORDER BY (pipeline_stage IS NULL), id
		LIMIT 1
	`, triggerType, string(stage)))
	if err != nil {
		return nil, getErr(err, "dialog tree", triggerType+"/"+string(stage))
	}
	return t, nil
}

// ListActiveDialogTrees returns every active tree.
func (s *Store) ListActiveDialogTrees(ctx context.Context) ([]*domain.DialogTree, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+treeColumns+` FROM lifecycle_dialog_trees WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list dialog trees: %w", err)
	}
	defer rows.Close()

	var out []*domain.DialogTree
	for rows.Next() {
		t, err := scanTree(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ── Dialog executions ──────────────────────────────────────────────────────

const executionColumns = `
	id, customer_id, dialog_tree_id, COALESCE(personality_id,''), current_node, path_taken,
	collected_data, status, started_at, completed_at, version`

func scanExecution(row scanner) (*domain.DialogExecution, error) {
	var (
		e         domain.DialogExecution
		collected []byte
		completed sql.NullTime
	)
	err := row.Scan(
		&e.ID, &e.CustomerID, &e.TreeID, &e.PersonalityID, &e.CurrentNode, pq.Array(&e.PathTaken),
		&collected, &e.Status, &e.StartedAt, &completed, &e.Version,
	)
	if err != nil {
		return nil, err
	}
	e.CompletedAt = timePtr(completed)
	if err := decodeJSON(collected, &e.CollectedData); err != nil {
		return nil, fmt.Errorf("decode collected data: %w", err)
	}
	return &e, nil
}

func collectedJSON(e *domain.DialogExecution) (string, error) {
	d := e.CollectedData
	if d == nil {
		d = map[string]string{}
	}
	return jsonText(d)
}

func (s *Store) CreateExecution(ctx context.Context, e *domain.DialogExecution) error {
	e.ID = newID(e.ID)
	collected, err := collectedJSON(e)
	if err != nil {
		return fmt.Errorf("encode collected data: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO lifecycle_dialog_executions (
			id, customer_id, dialog_tree_id, personality_id, current_node, path_taken,
			collected_data, status, started_at, completed_at, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1)
	`,
		e.ID, e.CustomerID, e.TreeID, nullString(e.PersonalityID), e.CurrentNode, pq.Array(orEmpty(e.PathTaken)),
		collected, string(e.Status), e.StartedAt, nullTime(e.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("create dialog execution: %w", err)
	}
	e.Version = 1
	return nil
}

func (s *Store) GetExecution(ctx context.Context, id string) (*domain.DialogExecution, error) {
	e, err := scanExecution(s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM lifecycle_dialog_executions WHERE id = $1`, id))
	if err != nil {
		return nil, getErr(err, "dialog execution", id)
	}
	return e, nil
}

func (s *Store) UpdateExecution(ctx context.Context, e *domain.DialogExecution) error {
	collected, err := collectedJSON(e)
	if err != nil {
		return fmt.Errorf("encode collected data: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE lifecycle_dialog_executions SET
			current_node = $2, path_taken = $3, collected_data = $4, status = $5,
			completed_at = $6, version = version + 1
		WHERE id = $1 AND version = $7
	`, e.ID, e.CurrentNode, pq.Array(orEmpty(e.PathTaken)), collected, string(e.Status), nullTime(e.CompletedAt), e.Version)
	if err != nil {
		return fmt.Errorf("update dialog execution: %w", err)
	}
	if err := s.checkVersioned(ctx, res, "lifecycle_dialog_executions", "dialog execution", e.ID); err != nil {
		return err
	}
	e.Version++
	return nil
}
