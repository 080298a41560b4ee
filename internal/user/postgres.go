package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var columns = []string{"user_id", "external_id", "username", "role", "status", "confirmed"}

type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) GetByID(ctx context.Context, id uuid.UUID) (User, error) {
	q, args, err := psql.Select(columns...).From("users").Where(sq.Eq{"user_id": id}).ToSql()
	if err != nil {
		return User{}, fmt.Errorf("build select: %w", err)
	}

	u, err := scanUser(d.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

func (d *PostgresDirectory) ListConfirmedRecipients(ctx context.Context, role Role) ([]User, error) {
	roles := []string{string(role), string(RoleBoth)}
	q, args, err := psql.Select(columns...).
		From("users").
		Where(sq.Expr("role = ANY(?)", pq.Array(roles))).
		Where(sq.Eq{"confirmed": true}).
		OrderBy("created_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := d.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (User, error) {
	var u User
	var role, status string
	if err := s.Scan(&u.ID, &u.ExternalID, &u.Username, &role, &status, &u.Confirmed); err != nil {
		return User{}, err
	}
	u.Role = Role(role)
	u.Status = Status(status)
	return u, nil
}
