package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"guardline/internal/domain"
)

// InsertService stores a service. Codes are unique across the deployment.
func (r Repo) InsertService(ctx context.Context, tx *sql.Tx, s domain.Service) error {
	if s.ID == "" {
		return errors.New("id required")
	}
	if s.Code == "" {
		return errors.New("code required")
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO services(id,code,name,display_name,active,created_at) VALUES (?,?,?,?,?,?)`,
		s.ID, s.Code, s.Name, nullable(s.DisplayName), boolToInt(s.Active), s.CreatedAt)
	return err
}

func (r Repo) UpdateService(ctx context.Context, tx *sql.Tx, s domain.Service) error {
	res, err := tx.ExecContext(ctx, `UPDATE services SET name=?, display_name=?, active=? WHERE id=?`,
		s.Name, nullable(s.DisplayName), boolToInt(s.Active), s.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetService(ctx context.Context, id string) (domain.Service, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,code,name,COALESCE(display_name,''),active,created_at FROM services WHERE id=?`, id)
	return scanService(row)
}

func (r Repo) GetServiceByCode(ctx context.Context, code string) (domain.Service, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,code,name,COALESCE(display_name,''),active,created_at FROM services WHERE code=?`, code)
	return scanService(row)
}

func scanService(row *sql.Row) (domain.Service, error) {
	var s domain.Service
	var active int
	err := row.Scan(&s.ID, &s.Code, &s.Name, &s.DisplayName, &active, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.Active = active != 0
	return s, nil
}

func (r Repo) ListServices(ctx context.Context, activeOnly bool) ([]domain.Service, error) {
	query := `SELECT id,code,name,COALESCE(display_name,''),active,created_at FROM services`
	if activeOnly {
		query += ` WHERE active=1`
	}
	query += ` ORDER BY name`
	return r.queryServices(ctx, query)
}

// ListActiveServicesByCodes returns active services whose code is in the list.
func (r Repo) ListActiveServicesByCodes(ctx context.Context, codes []string) ([]domain.Service, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(codes)), ",")
	args := make([]any, len(codes))
	for i, c := range codes {
		args[i] = c
	}
	query := `SELECT id,code,name,COALESCE(display_name,''),active,created_at FROM services WHERE active=1 AND code IN (` + placeholders + `) ORDER BY name`
	return r.queryServices(ctx, query, args...)
}

func (r Repo) queryServices(ctx context.Context, query string, args ...any) ([]domain.Service, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Service
	for rows.Next() {
		var s domain.Service
		var active int
		if err := rows.Scan(&s.ID, &s.Code, &s.Name, &s.DisplayName, &active, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.Active = active != 0
		res = append(res, s)
	}
	return res, rows.Err()
}
