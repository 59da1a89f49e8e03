package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/swarmgrid/swarm-core/internal/apperrors"
	"github.com/swarmgrid/swarm-core/internal/db"
	"github.com/swarmgrid/swarm-core/model"
)

type UserRepository struct {
	db *db.DB
}

func NewUserRepository(db *db.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, username, email, password_hash, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) Create(ctx context.Context, u *model.User) (*model.User, error) {
	if u.Username == "" {
		return nil, apperrors.Validation("username", "username cannot be empty")
	}
	row := r.db.Pool.QueryRow(ctx, `
		INSERT INTO users (username, email, password_hash, created_at)
		VALUES ($1, $2, $3, now())
		RETURNING `+userColumns,
		u.Username, u.Email, u.PasswordHash)
	created, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.Conflict("user", "username already taken")
		}
		return nil, classifyStoreErr("users.Create", err)
	}
	return created, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("user", id)
		}
		return nil, classifyStoreErr("users.GetByID", err)
	}
	return u, nil
}

// GetByUsername is case-sensitive; usernames are unique as stored.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`, username)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &apperrors.Error{
				Sentinel: apperrors.ErrNotFound,
				Message:  "user " + username + " not found",
				Resource: "user",
			}
		}
		return nil, classifyStoreErr("users.GetByUsername", err)
	}
	return u, nil
}

func (r *UserRepository) List(ctx context.Context) ([]*model.User, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, classifyStoreErr("users.List", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *UserRepository) Update(ctx context.Context, u *model.User) (*model.User, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE users
		SET username = $2, email = $3, password_hash = $4
		WHERE id = $1`,
		u.ID, u.Username, u.Email, u.PasswordHash)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.Conflict("user", "username already taken")
		}
		return nil, classifyStoreErr("users.Update", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, apperrors.NotFound("user", u.ID)
	}
	return u, nil
}

func (r *UserRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return classifyStoreErr("users.Delete", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("user", id)
	}
	return nil
}
