// ABOUTME: Workflow record persistence with per-stage timestamps
// ABOUTME: Implements the minimal stage read/write surface the workflow tracker needs

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/2389/agent-gateway/internal/workflow"
)

// CreateWorkflow inserts a new workflow record. Returns ErrDuplicate if the
// workflow id already exists.
func (s *SQLiteStore) CreateWorkflow(ctx context.Context, rec *WorkflowRecord) error {
	if rec.Stage == "" {
		rec.Stage = workflow.StageQueued
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO workflows (workflow_id, submission_id, stage, created_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.WorkflowID,
		nullString(rec.SubmissionID),
		string(rec.Stage),
		rec.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("workflow %s: %w", rec.WorkflowID, ErrDuplicate)
		}
		return fmt.Errorf("creating workflow: %w", err)
	}

	s.logger.Debug("workflow created", "workflow_id", rec.WorkflowID, "stage", rec.Stage)
	return nil
}

// GetWorkflow retrieves a workflow record by id.
// Returns ErrNotFound if no such workflow exists.
func (s *SQLiteStore) GetWorkflow(ctx context.Context, workflowID string) (*WorkflowRecord, error) {
	query := `
		SELECT workflow_id, submission_id, stage, result_json, error_detail,
			created_at, dispatched_at, processing_at, completed_at
		FROM workflows
		WHERE workflow_id = ?
	`

	var rec WorkflowRecord
	var submissionID, resultJSON, errorDetail sql.NullString
	var stageStr, createdAtStr string
	var dispatchedAt, processingAt, completedAt sql.NullString

	err := s.db.QueryRowContext(ctx, query, workflowID).Scan(
		&rec.WorkflowID, &submissionID, &stageStr, &resultJSON, &errorDetail,
		&createdAtStr, &dispatchedAt, &processingAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying workflow: %w", err)
	}

	rec.Stage = workflow.Stage(stageStr)
	if submissionID.Valid {
		rec.SubmissionID = submissionID.String
	}
	if resultJSON.Valid {
		if err := json.Unmarshal([]byte(resultJSON.String), &rec.Result); err != nil {
			return nil, fmt.Errorf("unmarshaling workflow result: %w", err)
		}
	}
	if errorDetail.Valid {
		rec.ErrorDetail = errorDetail.String
	}

	rec.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if rec.DispatchedAt, err = parseNullTime(dispatchedAt); err != nil {
		return nil, fmt.Errorf("parsing dispatched_at: %w", err)
	}
	if rec.ProcessingAt, err = parseNullTime(processingAt); err != nil {
		return nil, fmt.Errorf("parsing processing_at: %w", err)
	}
	if rec.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, fmt.Errorf("parsing completed_at: %w", err)
	}

	return &rec, nil
}

// GetWorkflowStage returns the current stage of a workflow.
// Returns ErrNotFound if no such workflow exists.
func (s *SQLiteStore) GetWorkflowStage(ctx context.Context, workflowID string) (workflow.Stage, error) {
	var stageStr string
	err := s.db.QueryRowContext(ctx,
		"SELECT stage FROM workflows WHERE workflow_id = ?", workflowID).Scan(&stageStr)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying workflow stage: %w", err)
	}
	return workflow.Stage(stageStr), nil
}

// SetWorkflowStage updates the stage of a workflow and stamps the
// corresponding stage timestamp. For terminal stages, detail carries the
// result payload or the error description under the "error" key.
func (s *SQLiteStore) SetWorkflowStage(ctx context.Context, workflowID string, stage workflow.Stage, detail map[string]any) error {
	now := time.Now().UTC().Format(time.RFC3339)

	query := "UPDATE workflows SET stage = ?"
	args := []any{string(stage)}

	switch stage {
	case workflow.StageDispatched:
		query += ", dispatched_at = ?"
		args = append(args, now)
	case workflow.StageProcessing:
		query += ", processing_at = ?"
		args = append(args, now)
	case workflow.StageCompleted:
		query += ", completed_at = ?"
		args = append(args, now)
		if detail != nil {
			resultJSON, err := json.Marshal(detail)
			if err != nil {
				return fmt.Errorf("marshaling workflow result: %w", err)
			}
			query += ", result_json = ?"
			args = append(args, string(resultJSON))
		}
	case workflow.StageFailed:
		query += ", completed_at = ?"
		args = append(args, now)
		if msg, ok := detail["error"].(string); ok {
			query += ", error_detail = ?"
			args = append(args, msg)
		}
	}

	query += " WHERE workflow_id = ?"
	args = append(args, workflowID)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating workflow stage: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking workflow update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("workflow %s: %w", workflowID, ErrNotFound)
	}

	s.logger.Debug("workflow stage persisted", "workflow_id", workflowID, "stage", stage)
	return nil
}

// parseNullTime parses an optional RFC3339 column into a *time.Time.
func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Workflow tracker integration check.
var _ workflow.Store = (*SQLiteStore)(nil)
