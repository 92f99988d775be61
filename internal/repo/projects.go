package repo

import (
	"context"
	"database/sql"

	"gateline/internal/domain"
)

const projectColumns = `id,name,COALESCE(client,''),COALESCE(deal_ref,''),status,created_by,created_at,closed_at,
design_signed_by,design_signed_at,operations_signed_by,operations_signed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (domain.Project, error) {
	var p domain.Project
	var closedAt, dBy, dAt, oBy, oAt sql.NullString
	err := row.Scan(&p.ID, &p.Name, &p.Client, &p.DealRef, &p.Status, &p.CreatedBy, &p.CreatedAt, &closedAt, &dBy, &dAt, &oBy, &oAt)
	if err != nil {
		return p, translate(err)
	}
	p.ClosedAt = strPtr(closedAt)
	p.Handover = domain.Handover{
		DesignSignedBy:     strPtr(dBy),
		DesignSignedAt:     strPtr(dAt),
		OperationsSignedBy: strPtr(oBy),
		OperationsSignedAt: strPtr(oAt),
	}
	return p, nil
}

func (r Repo) InsertProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(id,name,client,deal_ref,status,created_by,created_at) VALUES (?,?,?,?,?,?,?)`,
		p.ID, p.Name, nullable(p.Client), nullable(p.DealRef), p.Status, p.CreatedBy, p.CreatedAt)
	return translate(err)
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	return scanProject(tx.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

func (r Repo) ListProjects(ctx context.Context, status string) ([]domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpdateProjectStatusTx moves a project from one status to another.
func (r Repo) UpdateProjectStatusTx(ctx context.Context, tx *sql.Tx, id string, from, to domain.ProjectStatus, closedAt *string) error {
	return expectOne(tx.ExecContext(ctx, `UPDATE projects SET status=?, closed_at=COALESCE(?,closed_at) WHERE id=? AND status=?`,
		to, nullableStringPtr(closedAt), id, from))
}

// SetHandoverSignatureTx records one signature pair; design selects which.
func (r Repo) SetHandoverSignatureTx(ctx context.Context, tx *sql.Tx, projectID string, design bool, signer, at string) error {
	query := `UPDATE projects SET operations_signed_by=?, operations_signed_at=? WHERE id=?`
	if design {
		query = `UPDATE projects SET design_signed_by=?, design_signed_at=? WHERE id=?`
	}
	res, err := tx.ExecContext(ctx, query, signer, at, projectID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteProjectTx removes the project; stages, tasks and artifacts cascade.
func (r Repo) DeleteProjectTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
