package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"guardline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrStaleStatus means a conditional status update matched no row: the shift
// was transitioned concurrently by another request.
var ErrStaleStatus = errors.New("shift status changed concurrently")

const shiftColumns = `id,guard_id,service_id,shift_date,scheduled_start_time,scheduled_end_time,biometric_start_time,app_start_time,end_time,status,is_within_time_window,total_worked_minutes,total_break_minutes,total_patrol_minutes,COALESCE(notes,''),created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanShift(row rowScanner) (domain.Shift, error) {
	var s domain.Shift
	var biometricStart, appStart, endTime sql.NullString
	var withinWindow int
	err := row.Scan(&s.ID, &s.GuardID, &s.ServiceID, &s.ShiftDate, &s.ScheduledStartTime, &s.ScheduledEndTime,
		&biometricStart, &appStart, &endTime, &s.Status, &withinWindow,
		&s.TotalWorkedMinutes, &s.TotalBreakMinutes, &s.TotalPatrolMinutes, &s.Notes, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if biometricStart.Valid {
		s.BiometricStartTime = &biometricStart.String
	}
	if appStart.Valid {
		s.AppStartTime = &appStart.String
	}
	if endTime.Valid {
		s.EndTime = &endTime.String
	}
	s.IsWithinTimeWindow = withinWindow != 0
	return s, nil
}

func (r Repo) InsertShift(ctx context.Context, tx *sql.Tx, s domain.Shift) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO shifts(id,guard_id,service_id,shift_date,scheduled_start_time,scheduled_end_time,biometric_start_time,app_start_time,end_time,status,is_within_time_window,total_worked_minutes,total_break_minutes,total_patrol_minutes,notes,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.GuardID, s.ServiceID, s.ShiftDate, s.ScheduledStartTime, s.ScheduledEndTime,
		nullableStringPtr(s.BiometricStartTime), nullableStringPtr(s.AppStartTime), nullableStringPtr(s.EndTime),
		s.Status, boolToInt(s.IsWithinTimeWindow), s.TotalWorkedMinutes, s.TotalBreakMinutes, s.TotalPatrolMinutes,
		nullable(s.Notes), s.CreatedAt, s.UpdatedAt)
	return err
}

// UpdateShiftTx writes the mutable shift fields conditionally on the expected
// prior status. A concurrent transition makes the update match nothing and the
// caller gets ErrStaleStatus instead of a second commit from the same state.
func (r Repo) UpdateShiftTx(ctx context.Context, tx *sql.Tx, s domain.Shift, expected domain.ShiftStatus) error {
	res, err := tx.ExecContext(ctx, `UPDATE shifts SET biometric_start_time=?, app_start_time=?, end_time=?, status=?, is_within_time_window=?, total_worked_minutes=?, total_break_minutes=?, total_patrol_minutes=?, notes=?, updated_at=? WHERE id=? AND status=?`,
		nullableStringPtr(s.BiometricStartTime), nullableStringPtr(s.AppStartTime), nullableStringPtr(s.EndTime),
		s.Status, boolToInt(s.IsWithinTimeWindow), s.TotalWorkedMinutes, s.TotalBreakMinutes, s.TotalPatrolMinutes,
		nullable(s.Notes), s.UpdatedAt, s.ID, expected)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStaleStatus
	}
	return nil
}

func (r Repo) GetShift(ctx context.Context, id string) (domain.Shift, error) {
	s, err := scanShift(r.DB.QueryRowContext(ctx, `SELECT `+shiftColumns+` FROM shifts WHERE id=?`, id))
	if err != nil {
		return s, err
	}
	s.Activities, err = r.ListActivities(ctx, s.ID)
	return s, err
}

// FindScheduledShiftForToday returns the guard's shift for the given day key
// still waiting for biometric entry.
func (r Repo) FindScheduledShiftForToday(ctx context.Context, guardID, day string) (domain.Shift, error) {
	s, err := scanShift(r.DB.QueryRowContext(ctx,
		`SELECT `+shiftColumns+` FROM shifts WHERE guard_id=? AND shift_date=? AND status=? ORDER BY scheduled_start_time ASC LIMIT 1`,
		guardID, day, domain.StatusScheduled))
	if err != nil {
		return s, err
	}
	s.Activities, err = r.ListActivities(ctx, s.ID)
	return s, err
}

// FindShiftForToday looks up the guard's shift for the day in a specific state.
func (r Repo) FindShiftForToday(ctx context.Context, guardID, day string, status domain.ShiftStatus) (domain.Shift, error) {
	s, err := scanShift(r.DB.QueryRowContext(ctx,
		`SELECT `+shiftColumns+` FROM shifts WHERE guard_id=? AND shift_date=? AND status=? ORDER BY scheduled_start_time ASC LIMIT 1`,
		guardID, day, status))
	if err != nil {
		return s, err
	}
	s.Activities, err = r.ListActivities(ctx, s.ID)
	return s, err
}

// FindActiveShift returns the guard's single started shift, if any.
func (r Repo) FindActiveShift(ctx context.Context, guardID string) (domain.Shift, error) {
	s, err := scanShift(r.DB.QueryRowContext(ctx,
		`SELECT `+shiftColumns+` FROM shifts WHERE guard_id=? AND status IN (?,?,?) LIMIT 1`,
		guardID, domain.StatusActive, domain.StatusOnBreak, domain.StatusOnPatrol))
	if err != nil {
		return s, err
	}
	s.Activities, err = r.ListActivities(ctx, s.ID)
	return s, err
}

// HasOpenShift reports whether the guard already holds a non-terminal started
// or confirmable shift, including biometric_registered.
func (r Repo) HasOpenShift(ctx context.Context, guardID string) (bool, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT 1 FROM shifts WHERE guard_id=? AND status IN (?,?,?,?) LIMIT 1`,
		guardID, domain.StatusBiometricRegistered, domain.StatusActive, domain.StatusOnBreak, domain.StatusOnPatrol)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

type ShiftFilters struct {
	GuardID   string
	ServiceID string
	Status    string
	StartDate string
	EndDate   string
	Limit     int
}

func (r Repo) ListShifts(ctx context.Context, f ShiftFilters) ([]domain.Shift, error) {
	var clauses []string
	var args []any
	if f.GuardID != "" {
		clauses = append(clauses, "guard_id=?")
		args = append(args, f.GuardID)
	}
	if f.ServiceID != "" {
		clauses = append(clauses, "service_id=?")
		args = append(args, f.ServiceID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.StartDate != "" && f.EndDate != "" {
		clauses = append(clauses, "shift_date BETWEEN ? AND ?")
		args = append(args, f.StartDate, f.EndDate)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + shiftColumns + ` FROM shifts ` + where + ` ORDER BY shift_date DESC, scheduled_start_time ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Shift
	for rows.Next() {
		s, err := scanShift(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// FindByService returns shifts for a service, optionally bounded by day keys.
func (r Repo) FindByService(ctx context.Context, serviceID, startDate, endDate string) ([]domain.Shift, error) {
	return r.ListShifts(ctx, ShiftFilters{ServiceID: serviceID, StartDate: startDate, EndDate: endDate})
}

// AggregateByStatus groups a service's shifts by status with minute totals.
func (r Repo) AggregateByStatus(ctx context.Context, serviceID, startDate, endDate string) ([]domain.ShiftStatusStats, error) {
	clauses := []string{"service_id=?"}
	args := []any{serviceID}
	if startDate != "" && endDate != "" {
		clauses = append(clauses, "shift_date BETWEEN ? AND ?")
		args = append(args, startDate, endDate)
	}
	query := `SELECT status, count(*), SUM(total_worked_minutes), SUM(total_break_minutes), SUM(total_patrol_minutes)
FROM shifts WHERE ` + strings.Join(clauses, " AND ") + ` GROUP BY status ORDER BY status`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ShiftStatusStats
	for rows.Next() {
		var st domain.ShiftStatusStats
		if err := rows.Scan(&st.Status, &st.Count, &st.TotalWorkedMinutes, &st.TotalBreakMinutes, &st.TotalPatrolMinutes); err != nil {
			return nil, err
		}
		res = append(res, st)
	}
	return res, rows.Err()
}

func (r Repo) AppendActivityTx(ctx context.Context, tx *sql.Tx, shiftID string, a domain.Activity) error {
	var lat, lng any
	if a.Location != nil {
		lat = a.Location.Latitude
		lng = a.Location.Longitude
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO shift_activities(shift_id,type,ts,notes,latitude,longitude) VALUES (?,?,?,?,?,?)`,
		shiftID, a.Type, a.Timestamp, nullable(a.Notes), lat, lng)
	return err
}

func (r Repo) ListActivities(ctx context.Context, shiftID string) ([]domain.Activity, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT type,ts,COALESCE(notes,''),latitude,longitude FROM shift_activities WHERE shift_id=? ORDER BY id ASC`, shiftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Activity
	for rows.Next() {
		var a domain.Activity
		var lat, lng sql.NullFloat64
		if err := rows.Scan(&a.Type, &a.Timestamp, &a.Notes, &lat, &lng); err != nil {
			return nil, err
		}
		if lat.Valid && lng.Valid {
			a.Location = &domain.Location{Latitude: lat.Float64, Longitude: lng.Float64}
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, serviceID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, serviceID, evtType, entityKind, entityID)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, serviceID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if serviceID != "" {
		clauses = append(clauses, "service_id=?")
		args = append(args, serviceID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,service_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, serviceID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if serviceID != "" {
		clauses = append(clauses, "service_id=?")
		args = append(args, serviceID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,service_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var serviceID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &serviceID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if serviceID.Valid {
			e.ServiceID = serviceID.String
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID, optionally per service.
func (r Repo) LatestEventID(ctx context.Context, serviceID string) (int64, error) {
	query := `SELECT COALESCE(MAX(id),0) FROM events`
	var args []any
	if serviceID != "" {
		query += ` WHERE service_id=?`
		args = append(args, serviceID)
	}
	var id int64
	if err := r.DB.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
