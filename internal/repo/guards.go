package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"guardline/internal/domain"
)

// InsertGuard stores a guard and its per-service visibility codes.
func (r Repo) InsertGuard(ctx context.Context, tx *sql.Tx, g domain.Guard) error {
	if g.ID == "" {
		return errors.New("id required")
	}
	if g.Username == "" {
		return errors.New("username required")
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO guards(id,username,email,role,service_code,active,created_at) VALUES (?,?,?,?,?,?,?)`,
		g.ID, g.Username, nullable(g.Email), g.Role, nullable(g.ServiceCode), boolToInt(g.Active), g.CreatedAt)
	if err != nil {
		return err
	}
	for _, code := range g.ServiceCodes {
		if _, err := tx.ExecContext(ctx, `INSERT INTO guard_service_codes(guard_id,service_code) VALUES (?,?)`, g.ID, code); err != nil {
			return err
		}
	}
	return nil
}

// UpdateGuard replaces the guard's mutable fields and its service code list.
func (r Repo) UpdateGuard(ctx context.Context, tx *sql.Tx, g domain.Guard) error {
	res, err := tx.ExecContext(ctx, `UPDATE guards SET email=?, role=?, service_code=?, active=? WHERE id=?`,
		nullable(g.Email), g.Role, nullable(g.ServiceCode), boolToInt(g.Active), g.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM guard_service_codes WHERE guard_id=?`, g.ID); err != nil {
		return err
	}
	for _, code := range g.ServiceCodes {
		if _, err := tx.ExecContext(ctx, `INSERT INTO guard_service_codes(guard_id,service_code) VALUES (?,?)`, g.ID, code); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetGuard(ctx context.Context, id string) (domain.Guard, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,username,COALESCE(email,''),role,COALESCE(service_code,''),active,created_at FROM guards WHERE id=?`, id)
	return r.scanGuard(ctx, row)
}

func (r Repo) GetGuardByUsername(ctx context.Context, username string) (domain.Guard, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,username,COALESCE(email,''),role,COALESCE(service_code,''),active,created_at FROM guards WHERE username=?`, username)
	return r.scanGuard(ctx, row)
}

func (r Repo) scanGuard(ctx context.Context, row *sql.Row) (domain.Guard, error) {
	var g domain.Guard
	var active int
	err := row.Scan(&g.ID, &g.Username, &g.Email, &g.Role, &g.ServiceCode, &active, &g.CreatedAt)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	if err != nil {
		return g, err
	}
	g.Active = active != 0
	g.ServiceCodes, err = r.listGuardServiceCodes(ctx, g.ID)
	return g, err
}

func (r Repo) listGuardServiceCodes(ctx context.Context, guardID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT service_code FROM guard_service_codes WHERE guard_id=? ORDER BY service_code`, guardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// ListGuards returns guards, optionally filtered by role or active state.
func (r Repo) ListGuards(ctx context.Context, role string, activeOnly bool) ([]domain.Guard, error) {
	var clauses []string
	var args []any
	if role != "" {
		clauses = append(clauses, "role=?")
		args = append(args, role)
	}
	if activeOnly {
		clauses = append(clauses, "active=1")
	}
	query := `SELECT id,username,COALESCE(email,''),role,COALESCE(service_code,''),active,created_at FROM guards`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY username"
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Guard
	for rows.Next() {
		var g domain.Guard
		var active int
		if err := rows.Scan(&g.ID, &g.Username, &g.Email, &g.Role, &g.ServiceCode, &active, &g.CreatedAt); err != nil {
			return nil, err
		}
		g.Active = active != 0
		res = append(res, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		codes, err := r.listGuardServiceCodes(ctx, res[i].ID)
		if err != nil {
			return nil, err
		}
		res[i].ServiceCodes = codes
	}
	return res, nil
}
