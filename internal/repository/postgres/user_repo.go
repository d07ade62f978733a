package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/keypad-relay/internal/errs"
	"github.com/and161185/keypad-relay/internal/model"
)

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

// Create inserts a new user row.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	const q = `INSERT INTO users (user_key, account) VALUES ($1, $2)`
	_, err := r.db.Pool.Exec(ctx, q, u.UserKey, u.Account)
	return err
}

// GetUserKey selects the oldest user key bound to the account.
func (r *UserRepo) GetUserKey(ctx context.Context, account string) (string, error) {
	const q = `
SELECT user_key FROM users
WHERE account=$1
ORDER BY created_at ASC
LIMIT 1`
	var key string
	if err := r.db.Pool.QueryRow(ctx, q, account).Scan(&key); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", errs.ErrNotFound
		}
		return "", err
	}
	return key, nil
}

// ListUserKeys returns all user keys.
func (r *UserRepo) ListUserKeys(ctx context.Context) ([]string, error) {
	const q = `SELECT user_key FROM users`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	return out, rows.Err()
}
