package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"ms-marketplace/internal/apperr"
	"ms-marketplace/internal/models"
)

type DB struct {
	Bun bun.IDB
}

type Filter struct {
	Role           string
	PlatformStatus string
	Search         string
}

func (d *DB) Create(ctx context.Context, u *models.User) error {
	_, err := d.Bun.NewInsert().Model(u).Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict("EMAIL_TAKEN", "an account with this email already exists")
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (d *DB) GetByID(ctx context.Context, id string) (*models.User, error) {
	u := new(models.User)
	err := d.Bun.NewSelect().Model(u).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("user")
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return u, nil
}

func (d *DB) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	u := new(models.User)
	err := d.Bun.NewSelect().Model(u).Where("email = ?", strings.ToLower(email)).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("user")
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// Update writes the named columns of u.
func (d *DB) Update(ctx context.Context, u *models.User, columns ...string) error {
	u.UpdatedAt = time.Now().UTC()
	columns = append(columns, "updated_at")
	res, err := d.Bun.NewUpdate().Model(u).Column(columns...).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("update user %s: %w", u.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("user")
	}
	return nil
}

func (d *DB) List(ctx context.Context, f Filter, limit, offset int) ([]models.User, int, error) {
	var users []models.User
	q := d.Bun.NewSelect().Model(&users)
	if f.Role != "" {
		q.Where("role = ?", f.Role)
	}
	if f.PlatformStatus != "" {
		q.Where("org_platform_status = ?", f.PlatformStatus)
	}
	if f.Search != "" {
		like := "%" + strings.ToLower(f.Search) + "%"
		q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("LOWER(email) LIKE ?", like).
				WhereOr("LOWER(full_name) LIKE ?", like).
				WhereOr("LOWER(org_business_name) LIKE ?", like)
		})
	}
	total, err := q.Order("created_at DESC").Limit(limit).Offset(offset).ScanAndCount(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	return users, total, nil
}

func (d *DB) CountByRole(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		Role  string `bun:"role"`
		Count int    `bun:"count"`
	}
	err := d.Bun.NewSelect().
		Model((*models.User)(nil)).
		Column("role").
		ColumnExpr("COUNT(*) AS count").
		Group("role").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("count users by role: %w", err)
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.Role] = r.Count
	}
	return out, nil
}

// isUniqueViolation matches both Postgres (23505) and SQLite unique errors.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "23505") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
