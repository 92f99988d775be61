package repo

import (
	"context"
	"database/sql"

	"gateline/internal/domain"
)

const requisitionColumns = `id,project_id,number,material_type,COALESCE(urgency,''),required_by,
requisition_approval,pm_approval,qs_approval,status,requested_by,version,created_at,updated_at`

func scanRequisition(row rowScanner) (domain.Requisition, int, error) {
	var q domain.Requisition
	var projectID, requiredBy sql.NullString
	var version int
	err := row.Scan(&q.ID, &projectID, &q.Number, &q.MaterialType, &q.Urgency, &requiredBy,
		&q.RequisitionApproval, &q.PMApproval, &q.QSApproval, &q.Status, &q.RequestedBy, &version, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return q, 0, translate(err)
	}
	q.ProjectID = strPtr(projectID)
	q.RequiredBy = strPtr(requiredBy)
	return q, version, nil
}

func (r Repo) InsertRequisitionTx(ctx context.Context, tx *sql.Tx, q domain.Requisition) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO requisitions(id,project_id,number,material_type,urgency,required_by,requisition_approval,pm_approval,qs_approval,status,requested_by,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		q.ID, nullableStringPtr(q.ProjectID), q.Number, q.MaterialType, nullable(q.Urgency), nullableStringPtr(q.RequiredBy),
		q.RequisitionApproval, q.PMApproval, q.QSApproval, q.Status, q.RequestedBy, q.CreatedAt, q.UpdatedAt)
	return translate(err)
}

func (r Repo) GetRequisition(ctx context.Context, id string) (domain.Requisition, error) {
	q, _, err := scanRequisition(r.DB.QueryRowContext(ctx, `SELECT `+requisitionColumns+` FROM requisitions WHERE id=?`, id))
	return q, err
}

// GetRequisitionTx also returns the row version for UpdateRequisitionTx.
func (r Repo) GetRequisitionTx(ctx context.Context, tx *sql.Tx, id string) (domain.Requisition, int, error) {
	return scanRequisition(tx.QueryRowContext(ctx, `SELECT `+requisitionColumns+` FROM requisitions WHERE id=?`, id))
}

func (r Repo) UpdateRequisitionTx(ctx context.Context, tx *sql.Tx, q domain.Requisition, version int) error {
	return expectOne(tx.ExecContext(ctx, `UPDATE requisitions SET requisition_approval=?, pm_approval=?, qs_approval=?, status=?, updated_at=?, version=version+1
WHERE id=? AND version=?`,
		q.RequisitionApproval, q.PMApproval, q.QSApproval, q.Status, q.UpdatedAt, q.ID, version))
}

type RequisitionFilters struct {
	ProjectID string
	Status    string
}

func (r Repo) ListRequisitions(ctx context.Context, f RequisitionFilters) ([]domain.Requisition, error) {
	query := `SELECT ` + requisitionColumns + ` FROM requisitions WHERE 1=1`
	var args []any
	if f.ProjectID != "" {
		query += ` AND project_id=?`
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		query += ` AND status=?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY created_at, id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Requisition
	for rows.Next() {
		q, _, err := scanRequisition(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, q)
	}
	return res, rows.Err()
}
