package repo

import (
	"context"
	"database/sql"
	"fmt"

	"gateline/internal/domain"
)

const stageColumns = `id,project_id,stage_type,status,stage_order,updated_at`

func scanStage(row rowScanner) (domain.Stage, error) {
	var s domain.Stage
	var typ string
	if err := row.Scan(&s.ID, &s.ProjectID, &typ, &s.Status, &s.Order, &s.UpdatedAt); err != nil {
		return s, translate(err)
	}
	st, err := domain.ParseStageType(typ)
	if err != nil {
		return s, fmt.Errorf("stage %s: %w", s.ID, err)
	}
	s.Type = st
	return s, nil
}

func (r Repo) InsertStageTx(ctx context.Context, tx *sql.Tx, s domain.Stage) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO stages(id,project_id,stage_type,status,stage_order,updated_at) VALUES (?,?,?,?,?,?)`,
		s.ID, s.ProjectID, s.Type.String(), s.Status, s.Order, s.UpdatedAt)
	return translate(err)
}

func (r Repo) GetStageTx(ctx context.Context, tx *sql.Tx, id string) (domain.Stage, error) {
	return scanStage(tx.QueryRowContext(ctx, `SELECT `+stageColumns+` FROM stages WHERE id=?`, id))
}

// StageByOrderTx returns the stage at a given position in a project.
func (r Repo) StageByOrderTx(ctx context.Context, tx *sql.Tx, projectID string, order int) (domain.Stage, error) {
	return scanStage(tx.QueryRowContext(ctx, `SELECT `+stageColumns+` FROM stages WHERE project_id=? AND stage_order=?`, projectID, order))
}

// StageByTypeTx returns the project's stage of the given type.
func (r Repo) StageByTypeTx(ctx context.Context, tx *sql.Tx, projectID string, st domain.StageType) (domain.Stage, error) {
	return scanStage(tx.QueryRowContext(ctx, `SELECT `+stageColumns+` FROM stages WHERE project_id=? AND stage_type=?`, projectID, st.String()))
}

func (r Repo) ListStages(ctx context.Context, projectID string) ([]domain.Stage, error) {
	return listStages(ctx, r.DB, projectID)
}

func listStages(ctx context.Context, q queryer, projectID string) ([]domain.Stage, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+stageColumns+` FROM stages WHERE project_id=? ORDER BY stage_order`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Stage
	for rows.Next() {
		s, err := scanStage(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// UpdateStageStatusTx advances a stage only if it still holds the expected
// status. A concurrent writer that got there first yields ErrConflict.
func (r Repo) UpdateStageStatusTx(ctx context.Context, tx *sql.Tx, id string, from, to domain.StageStatus, now string) error {
	return expectOne(tx.ExecContext(ctx, `UPDATE stages SET status=?, updated_at=? WHERE id=? AND status=?`, to, now, id, from))
}
