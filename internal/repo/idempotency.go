package repo

import (
	"context"
	"database/sql"
)

// GetIdempotentResponseTx returns the stored response for a key, ErrNotFound if unseen.
func (r Repo) GetIdempotentResponseTx(ctx context.Context, tx *sql.Tx, key, operation, actorID string) (string, error) {
	var payload string
	err := tx.QueryRowContext(ctx, `SELECT response_json FROM idempotency_keys WHERE key=? AND operation=? AND actor_id=?`,
		key, operation, actorID).Scan(&payload)
	if err != nil {
		return "", translate(err)
	}
	return payload, nil
}

func (r Repo) PutIdempotentResponseTx(ctx context.Context, tx *sql.Tx, key, operation, actorID, response, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO idempotency_keys(key,operation,actor_id,response_json,created_at) VALUES (?,?,?,?,?)`,
		key, operation, actorID, response, now)
	return translate(err)
}
