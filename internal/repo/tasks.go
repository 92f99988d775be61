package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"gateline/internal/domain"
)

const taskSelect = `SELECT t.id,t.stage_id,t.project_id,t.title,t.status,t.owner_id,t.due_date,t.submitted_at,t.file_link,
t.verified_by,t.verified_at,t.signed_off_by,t.signed_off_at,t.sign_off_notes,t.version,t.created_at,t.updated_at,
s.score,s.lateness_days,s.updated_at
FROM tasks t LEFT JOIN scores s ON s.task_id=t.id`

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var owner, due, submitted, link, vBy, vAt, sBy, sAt, notes, scoreAt sql.NullString
	var score, lateness sql.NullInt64
	err := row.Scan(&t.ID, &t.StageID, &t.ProjectID, &t.Title, &t.Status, &owner, &due, &submitted, &link,
		&vBy, &vAt, &sBy, &sAt, &notes, &t.Version, &t.CreatedAt, &t.UpdatedAt, &score, &lateness, &scoreAt)
	if err != nil {
		return t, translate(err)
	}
	t.OwnerID = strPtr(owner)
	t.DueDate = strPtr(due)
	t.SubmittedAt = strPtr(submitted)
	t.FileLink = strPtr(link)
	t.VerifiedBy = strPtr(vBy)
	t.VerifiedAt = strPtr(vAt)
	t.SignedOffBy = strPtr(sBy)
	t.SignedOffAt = strPtr(sAt)
	t.SignOffNotes = strPtr(notes)
	if score.Valid {
		t.Score = &domain.Score{TaskID: t.ID, Score: int(score.Int64), LatenessDays: int(lateness.Int64), UpdatedAt: scoreAt.String}
	}
	return t, nil
}

func (r Repo) InsertTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	if t.Version == 0 {
		t.Version = 1
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,stage_id,project_id,title,status,owner_id,due_date,version,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.StageID, t.ProjectID, t.Title, t.Status, nullableStringPtr(t.OwnerID), nullableStringPtr(t.DueDate), t.Version, t.CreatedAt, t.UpdatedAt)
	return translate(err)
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, taskSelect+` WHERE t.id=?`, id))
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTask(tx.QueryRowContext(ctx, taskSelect+` WHERE t.id=?`, id))
}

// UpdateTaskTx writes the mutable task fields if t.Version is still current,
// then bumps the version. The caller's copy is not modified.
func (r Repo) UpdateTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	return expectOne(tx.ExecContext(ctx, `UPDATE tasks SET status=?, owner_id=?, due_date=?, submitted_at=?, file_link=?,
verified_by=?, verified_at=?, signed_off_by=?, signed_off_at=?, sign_off_notes=?, updated_at=?, version=version+1
WHERE id=? AND version=?`,
		t.Status, nullableStringPtr(t.OwnerID), nullableStringPtr(t.DueDate), nullableStringPtr(t.SubmittedAt), nullableStringPtr(t.FileLink),
		nullableStringPtr(t.VerifiedBy), nullableStringPtr(t.VerifiedAt), nullableStringPtr(t.SignedOffBy), nullableStringPtr(t.SignedOffAt),
		nullableStringPtr(t.SignOffNotes), t.UpdatedAt, t.ID, t.Version))
}

type TaskFilters struct {
	ProjectID string
	StageID   string
	OwnerID   string
	Status    []string
	Limit     int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	return listTasks(ctx, r.DB, f)
}

func (r Repo) ListTasksTx(ctx context.Context, tx *sql.Tx, f TaskFilters) ([]domain.Task, error) {
	return listTasks(ctx, tx, f)
}

func listTasks(ctx context.Context, q queryer, f TaskFilters) ([]domain.Task, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "t.project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.StageID != "" {
		clauses = append(clauses, "t.stage_id=?")
		args = append(args, f.StageID)
	}
	if f.OwnerID != "" {
		clauses = append(clauses, "t.owner_id=?")
		args = append(args, f.OwnerID)
	}
	if len(f.Status) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(f.Status)), ",")
		clauses = append(clauses, fmt.Sprintf("t.status IN (%s)", placeholders))
		for _, s := range f.Status {
			args = append(args, s)
		}
	}
	query := taskSelect + ` WHERE ` + strings.Join(clauses, " AND ")
	if f.OwnerID != "" {
		query += ` ORDER BY t.due_date IS NULL, t.due_date, t.created_at, t.id`
	} else {
		query += ` ORDER BY t.created_at, t.id`
	}
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// TaskByTitleTx finds a task in a stage by its exact title.
func (r Repo) TaskByTitleTx(ctx context.Context, tx *sql.Tx, stageID, title string) (domain.Task, error) {
	return scanTask(tx.QueryRowContext(ctx, taskSelect+` WHERE t.stage_id=? AND t.title=? ORDER BY t.created_at LIMIT 1`, stageID, title))
}

func (r Repo) UpsertScoreTx(ctx context.Context, tx *sql.Tx, s domain.Score) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO scores(task_id,score,lateness_days,updated_at) VALUES (?,?,?,?)
ON CONFLICT(task_id) DO UPDATE SET score=excluded.score, lateness_days=excluded.lateness_days, updated_at=excluded.updated_at`,
		s.TaskID, s.Score, s.LatenessDays, s.UpdatedAt)
	return err
}

func (r Repo) InsertCommentTx(ctx context.Context, tx *sql.Tx, c domain.Comment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO comments(id,task_id,author_id,body,created_at) VALUES (?,?,?,?,?)`,
		c.ID, c.TaskID, c.AuthorID, c.Text, c.CreatedAt)
	return translate(err)
}

func (r Repo) ListComments(ctx context.Context, taskID string) ([]domain.Comment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,author_id,body,created_at FROM comments WHERE task_id=? ORDER BY created_at, id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.TaskID, &c.AuthorID, &c.Text, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
