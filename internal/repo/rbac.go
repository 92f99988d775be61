package repo

import (
	"context"
	"database/sql"
)

func (r Repo) EnsureActorTx(ctx context.Context, tx *sql.Tx, actorID, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actors(id, created_at) VALUES (?,?)`, actorID, now)
	return err
}

func (r Repo) AssignRoleTx(ctx context.Context, tx *sql.Tx, actorID, roleID, grantedBy, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actor_roles(actor_id, role_id, granted_by, created_at) VALUES (?,?,?,?)`,
		actorID, roleID, grantedBy, now)
	return err
}

func (r Repo) RevokeRoleTx(ctx context.Context, tx *sql.Tx, actorID, roleID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM actor_roles WHERE actor_id=? AND role_id=?`, actorID, roleID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ActorRoles lists the role ids granted to an actor.
func (r Repo) ActorRoles(ctx context.Context, actorID string) ([]string, error) {
	return actorRoles(ctx, r.DB, actorID)
}

func actorRoles(ctx context.Context, q queryer, actorID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT role_id FROM actor_roles WHERE actor_id=? ORDER BY role_id`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// CountActorsWithRoleTx is used to decide whether a workspace still needs bootstrapping.
func (r Repo) CountActorsWithRoleTx(ctx context.Context, tx *sql.Tx, roleID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM actor_roles WHERE role_id=?`, roleID).Scan(&n)
	return n, err
}
