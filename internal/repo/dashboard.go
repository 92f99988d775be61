package repo

import (
	"context"
	"strings"

	"gateline/internal/domain"
)

// OwnerStats aggregates one owner's scored submissions.
type OwnerStats struct {
	OwnerID  string
	Total    int
	OnTime   int
	AvgScore float64
}

// AtRiskTasks lists open tasks whose due date is before today (YYYY-MM-DD),
// oldest due date first.
func (r Repo) AtRiskTasks(ctx context.Context, today string) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, taskSelect+` WHERE t.status=? AND t.due_date IS NOT NULL AND t.due_date < ?
ORDER BY t.due_date, t.created_at, t.id`, string(domain.TaskOpen), today)
	if err != nil {
		return nil, translate(err)
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

// OwnerProductivity groups scored tasks submitted at or after since (RFC3339)
// by owner. On-time means zero lateness days.
func (r Repo) OwnerProductivity(ctx context.Context, since string) ([]OwnerStats, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT t.owner_id, COUNT(*),
COALESCE(SUM(CASE WHEN s.lateness_days=0 THEN 1 ELSE 0 END),0), COALESCE(AVG(s.score),0)
FROM tasks t JOIN scores s ON s.task_id=t.id
WHERE t.owner_id IS NOT NULL AND t.submitted_at >= ?
GROUP BY t.owner_id ORDER BY t.owner_id`, since)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	var res []OwnerStats
	for rows.Next() {
		var st OwnerStats
		if err := rows.Scan(&st.OwnerID, &st.Total, &st.OnTime, &st.AvgScore); err != nil {
			return nil, err
		}
		res = append(res, st)
	}
	return res, rows.Err()
}

// ActorsWithRoles lists actors holding any of roles.
func (r Repo) ActorsWithRoles(ctx context.Context, roles []string) ([]string, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(roles))
	for _, role := range roles {
		args = append(args, role)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(roles)), ",")
	rows, err := r.DB.QueryContext(ctx, `SELECT DISTINCT actor_id FROM actor_roles WHERE role_id IN (`+placeholders+`) ORDER BY actor_id`, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
