package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"guardline/internal/config"
	"guardline/internal/domain"
	"guardline/internal/events"
	"guardline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

var (
	// ErrOutOfWindow means the biometric entry fell outside the tolerance
	// around the scheduled start. The shift stays scheduled.
	ErrOutOfWindow = errors.New("biometric entry outside allowed window")
	// ErrWindowExpired means the app confirmation came too late. The shift
	// has been committed as missed before this error is returned.
	ErrWindowExpired = errors.New("app confirmation window expired")
	// ErrServiceMismatch means the presented service is not the one the
	// shift was scheduled for. Nothing is written.
	ErrServiceMismatch = errors.New("service does not match scheduled shift")
	// ErrInvalidState covers transitions not allowed from the shift's
	// current status, including ones lost to a concurrent request.
	ErrInvalidState = errors.New("shift not in a valid state for this operation")
)

// ensureShiftTransition is the single authority on the lifecycle graph.
func ensureShiftTransition(from, to domain.ShiftStatus) error {
	switch from {
	case domain.StatusScheduled:
		if to == domain.StatusBiometricRegistered || to == domain.StatusMissed {
			return nil
		}
	case domain.StatusBiometricRegistered:
		if to == domain.StatusActive || to == domain.StatusMissed {
			return nil
		}
	case domain.StatusActive:
		if to == domain.StatusOnBreak || to == domain.StatusOnPatrol || to == domain.StatusCompleted {
			return nil
		}
	case domain.StatusOnBreak:
		if to == domain.StatusActive || to == domain.StatusCompleted {
			return nil
		}
	case domain.StatusOnPatrol:
		if to == domain.StatusActive || to == domain.StatusCompleted {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidState, from, to)
}

// location resolves the deployment timezone used for day keys.
func (e Engine) location() *time.Location {
	if e.Config != nil && e.Config.Deployment.Timezone != "" {
		if loc, err := time.LoadLocation(e.Config.Deployment.Timezone); err == nil {
			return loc
		}
	}
	return time.UTC
}

func (e Engine) dayKey(t time.Time) string {
	return t.In(e.location()).Format("2006-01-02")
}

func minutesBetween(start, end time.Time) int {
	d := end.Sub(start)
	if d < 0 {
		return 0
	}
	return int(d.Minutes())
}

// ShiftScheduleOptions are parameters for scheduling a shift.
type ShiftScheduleOptions struct {
	ID             string
	GuardID        string
	ServiceID      string
	ScheduledStart string
	ScheduledEnd   string
	Notes          string
	ActorID        string
}

// ScheduleShift creates a shift in state scheduled for a future work period.
func (e Engine) ScheduleShift(ctx context.Context, opts ShiftScheduleOptions) (domain.Shift, error) {
	if e.Config == nil {
		return domain.Shift{}, errors.New("config not loaded")
	}
	if opts.GuardID == "" {
		return domain.Shift{}, errors.New("guard is required")
	}
	if opts.ServiceID == "" {
		return domain.Shift{}, errors.New("service is required")
	}
	g, err := e.Repo.GetGuard(ctx, opts.GuardID)
	if err != nil {
		return domain.Shift{}, fmt.Errorf("guard %s: %w", opts.GuardID, err)
	}
	if !g.Active {
		return domain.Shift{}, fmt.Errorf("guard %s is inactive", g.ID)
	}
	svc, err := e.Repo.GetService(ctx, opts.ServiceID)
	if err != nil {
		return domain.Shift{}, fmt.Errorf("service %s: %w", opts.ServiceID, err)
	}
	if !svc.Active {
		return domain.Shift{}, fmt.Errorf("service %s is inactive", svc.ID)
	}
	start, err := time.Parse(time.RFC3339, opts.ScheduledStart)
	if err != nil {
		return domain.Shift{}, fmt.Errorf("scheduled start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, opts.ScheduledEnd)
	if err != nil {
		return domain.Shift{}, fmt.Errorf("scheduled end: %w", err)
	}
	if !end.After(start) {
		return domain.Shift{}, errors.New("scheduled end must be after scheduled start")
	}
	day := e.dayKey(start)
	if _, err := e.Repo.FindScheduledShiftForToday(ctx, g.ID, day); err == nil {
		return domain.Shift{}, fmt.Errorf("%w: guard %s already scheduled for %s", ErrInvalidState, g.ID, day)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Shift{}, err
	}
	open, err := e.Repo.HasOpenShift(ctx, g.ID)
	if err != nil {
		return domain.Shift{}, err
	}
	if open {
		return domain.Shift{}, fmt.Errorf("%w: guard %s already has an open shift", ErrInvalidState, g.ID)
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.now().UTC().Format(time.RFC3339)
	s := domain.Shift{
		ID:                 id,
		GuardID:            g.ID,
		ServiceID:          svc.ID,
		ShiftDate:          day,
		ScheduledStartTime: start.UTC().Format(time.RFC3339),
		ScheduledEndTime:   end.UTC().Format(time.RFC3339),
		Status:             domain.StatusScheduled,
		Notes:              opts.Notes,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Shift{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertShift(ctx, tx, s); err != nil {
		return domain.Shift{}, fmt.Errorf("insert shift: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "shift.scheduled", s.ServiceID, "shift", s.ID, opts.ActorID, events.EventPayload{
		"guard_id":        s.GuardID,
		"shift_date":      s.ShiftDate,
		"scheduled_start": s.ScheduledStartTime,
		"scheduled_end":   s.ScheduledEndTime,
	}); err != nil {
		return domain.Shift{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Shift{}, err
	}
	return s, nil
}

// RegisterBiometricEntry records the guard's device check-in against today's
// scheduled shift. The entry must land within the configured tolerance of the
// scheduled start, both edges inclusive. A nil timestamp uses the engine
// clock; devices may report their own entry time.
func (e Engine) RegisterBiometricEntry(ctx context.Context, guardID string, at *time.Time, actorID string) (domain.Shift, error) {
	if e.Config == nil {
		return domain.Shift{}, errors.New("config not loaded")
	}
	now := e.now()
	if at != nil {
		now = *at
	}
	s, err := e.Repo.FindScheduledShiftForToday(ctx, guardID, e.dayKey(now))
	if err != nil {
		return domain.Shift{}, fmt.Errorf("scheduled shift for today: %w", err)
	}
	schedStart, err := time.Parse(time.RFC3339, s.ScheduledStartTime)
	if err != nil {
		return domain.Shift{}, fmt.Errorf("scheduled start: %w", err)
	}
	diff := now.Sub(schedStart)
	if diff < 0 {
		diff = -diff
	}
	if diff > e.Config.BiometricTolerance() {
		return domain.Shift{}, fmt.Errorf("%w: %s from scheduled start, tolerance %s",
			ErrOutOfWindow, diff.Round(time.Minute), e.Config.BiometricTolerance())
	}
	if err := ensureShiftTransition(s.Status, domain.StatusBiometricRegistered); err != nil {
		return domain.Shift{}, err
	}
	prev := s.Status
	ts := now.UTC().Format(time.RFC3339)
	s.BiometricStartTime = &ts
	s.IsWithinTimeWindow = true
	s.Status = domain.StatusBiometricRegistered
	s.UpdatedAt = ts
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Shift{}, err
	}
	defer tx.Rollback()
	if err := e.commitTransition(ctx, tx, s, prev); err != nil {
		return domain.Shift{}, err
	}
	if err := e.Events.Append(ctx, tx, "shift.biometric_registered", s.ServiceID, "shift", s.ID, actorID, events.EventPayload{
		"guard_id":             s.GuardID,
		"biometric_start_time": ts,
	}); err != nil {
		return domain.Shift{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Shift{}, err
	}
	return s, nil
}

// StartShiftInApp confirms today's biometric-registered shift from the app.
// Past the confirmation window the shift is committed as missed and the
// caller gets ErrWindowExpired. A serviceID differing from the shift's
// service fails ErrServiceMismatch without touching the shift.
func (e Engine) StartShiftInApp(ctx context.Context, guardID, serviceID string, loc *domain.Location, actorID string) (domain.Shift, error) {
	if e.Config == nil {
		return domain.Shift{}, errors.New("config not loaded")
	}
	if serviceID == "" {
		return domain.Shift{}, errors.New("service is required")
	}
	now := e.now()
	s, err := e.Repo.FindShiftForToday(ctx, guardID, e.dayKey(now), domain.StatusBiometricRegistered)
	if err != nil {
		return domain.Shift{}, fmt.Errorf("biometric-registered shift for today: %w", err)
	}
	if s.BiometricStartTime == nil {
		return domain.Shift{}, fmt.Errorf("%w: no biometric entry recorded", ErrInvalidState)
	}
	bio, err := time.Parse(time.RFC3339, *s.BiometricStartTime)
	if err != nil {
		return domain.Shift{}, fmt.Errorf("biometric start: %w", err)
	}
	if now.Sub(bio) > e.Config.AppStartWindow() {
		if err := e.markMissed(ctx, s, actorID, "app confirmation window expired"); err != nil {
			return domain.Shift{}, err
		}
		return domain.Shift{}, fmt.Errorf("%w: %s since biometric entry, window %s",
			ErrWindowExpired, now.Sub(bio).Round(time.Minute), e.Config.AppStartWindow())
	}
	if s.ServiceID != serviceID {
		return domain.Shift{}, fmt.Errorf("%w: shift is for service %s", ErrServiceMismatch, s.ServiceID)
	}
	if err := ensureShiftTransition(s.Status, domain.StatusActive); err != nil {
		return domain.Shift{}, err
	}
	prev := s.Status
	ts := now.UTC().Format(time.RFC3339)
	s.AppStartTime = &ts
	s.Status = domain.StatusActive
	s.UpdatedAt = ts
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Shift{}, err
	}
	defer tx.Rollback()
	if err := e.commitTransition(ctx, tx, s, prev); err != nil {
		return domain.Shift{}, err
	}
	payload := events.EventPayload{"guard_id": s.GuardID, "app_start_time": ts}
	if loc != nil {
		payload["latitude"] = loc.Latitude
		payload["longitude"] = loc.Longitude
	}
	if err := e.Events.Append(ctx, tx, "shift.started", s.ServiceID, "shift", s.ID, actorID, payload); err != nil {
		return domain.Shift{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Shift{}, err
	}
	return s, nil
}

// markMissed terminates a shift whose confirmation window lapsed. Runs in its
// own transaction so the terminal state sticks even though the caller's
// operation fails.
func (e Engine) markMissed(ctx context.Context, s domain.Shift, actorID, reason string) error {
	if err := ensureShiftTransition(s.Status, domain.StatusMissed); err != nil {
		return err
	}
	prev := s.Status
	s.Status = domain.StatusMissed
	s.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.commitTransition(ctx, tx, s, prev); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "shift.missed", s.ServiceID, "shift", s.ID, actorID, events.EventPayload{
		"guard_id": s.GuardID,
		"reason":   reason,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// ExpireScheduledShifts sweeps scheduled shifts whose biometric window has
// closed and commits them as missed. Returns the number expired.
func (e Engine) ExpireScheduledShifts(ctx context.Context, actorID string) (int, error) {
	if e.Config == nil {
		return 0, errors.New("config not loaded")
	}
	now := e.now()
	shifts, err := e.Repo.ListShifts(ctx, repo.ShiftFilters{Status: string(domain.StatusScheduled)})
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, s := range shifts {
		schedStart, err := time.Parse(time.RFC3339, s.ScheduledStartTime)
		if err != nil {
			continue
		}
		if now.Sub(schedStart) <= e.Config.BiometricTolerance() {
			continue
		}
		if err := e.markMissed(ctx, s, actorID, "biometric window expired"); err != nil {
			if errors.Is(err, ErrInvalidState) {
				continue
			}
			return expired, err
		}
		expired++
	}
	return expired, nil
}

// StartBreak pauses the guard's active shift.
func (e Engine) StartBreak(ctx context.Context, guardID, notes string, loc *domain.Location, actorID string) (domain.Shift, error) {
	return e.startInterval(ctx, guardID, domain.StatusOnBreak, domain.ActivityBreakStart, "shift.break_started", notes, loc, actorID)
}

// StartPatrol switches the guard's active shift into a patrol round.
func (e Engine) StartPatrol(ctx context.Context, guardID, notes string, loc *domain.Location, actorID string) (domain.Shift, error) {
	return e.startInterval(ctx, guardID, domain.StatusOnPatrol, domain.ActivityPatrolStart, "shift.patrol_started", notes, loc, actorID)
}

func (e Engine) startInterval(ctx context.Context, guardID string, target domain.ShiftStatus, activity domain.ActivityType, evtType, notes string, loc *domain.Location, actorID string) (domain.Shift, error) {
	if e.Config == nil {
		return domain.Shift{}, errors.New("config not loaded")
	}
	s, err := e.Repo.FindActiveShift(ctx, guardID)
	if err != nil {
		return domain.Shift{}, fmt.Errorf("active shift: %w", err)
	}
	if s.Status != domain.StatusActive {
		return domain.Shift{}, fmt.Errorf("%w: shift is %s", ErrInvalidState, s.Status)
	}
	if err := ensureShiftTransition(s.Status, target); err != nil {
		return domain.Shift{}, err
	}
	now := e.now()
	prev := s.Status
	ts := now.UTC().Format(time.RFC3339)
	act := domain.Activity{Type: activity, Timestamp: ts, Notes: notes, Location: loc}
	s.Status = target
	s.UpdatedAt = ts
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Shift{}, err
	}
	defer tx.Rollback()
	if err := e.commitTransition(ctx, tx, s, prev); err != nil {
		return domain.Shift{}, err
	}
	if err := e.Repo.AppendActivityTx(ctx, tx, s.ID, act); err != nil {
		return domain.Shift{}, err
	}
	if err := e.Events.Append(ctx, tx, evtType, s.ServiceID, "shift", s.ID, actorID, events.EventPayload{
		"guard_id": s.GuardID,
		"at":       ts,
	}); err != nil {
		return domain.Shift{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Shift{}, err
	}
	s.Activities = append(s.Activities, act)
	return s, nil
}

// EndBreak resumes the shift, crediting elapsed minutes to the break total.
func (e Engine) EndBreak(ctx context.Context, guardID, notes string, loc *domain.Location, actorID string) (domain.Shift, error) {
	return e.endInterval(ctx, guardID, domain.StatusOnBreak, domain.ActivityBreakStart, domain.ActivityBreakEnd, "shift.break_ended", notes, loc, actorID)
}

// EndPatrol resumes the shift, crediting elapsed minutes to the patrol total.
func (e Engine) EndPatrol(ctx context.Context, guardID, notes string, loc *domain.Location, actorID string) (domain.Shift, error) {
	return e.endInterval(ctx, guardID, domain.StatusOnPatrol, domain.ActivityPatrolStart, domain.ActivityPatrolEnd, "shift.patrol_ended", notes, loc, actorID)
}

func (e Engine) endInterval(ctx context.Context, guardID string, expected domain.ShiftStatus, startType, endType domain.ActivityType, evtType, notes string, loc *domain.Location, actorID string) (domain.Shift, error) {
	if e.Config == nil {
		return domain.Shift{}, errors.New("config not loaded")
	}
	s, err := e.Repo.FindActiveShift(ctx, guardID)
	if err != nil {
		return domain.Shift{}, fmt.Errorf("active shift: %w", err)
	}
	if s.Status != expected {
		return domain.Shift{}, fmt.Errorf("%w: shift is %s", ErrInvalidState, s.Status)
	}
	if err := ensureShiftTransition(s.Status, domain.StatusActive); err != nil {
		return domain.Shift{}, err
	}
	now := e.now()
	prev := s.Status
	minutes := creditOpenInterval(&s, startType, endType, now)
	ts := now.UTC().Format(time.RFC3339)
	act := domain.Activity{Type: endType, Timestamp: ts, Notes: notes, Location: loc}
	s.Status = domain.StatusActive
	s.UpdatedAt = ts
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Shift{}, err
	}
	defer tx.Rollback()
	if err := e.commitTransition(ctx, tx, s, prev); err != nil {
		return domain.Shift{}, err
	}
	if err := e.Repo.AppendActivityTx(ctx, tx, s.ID, act); err != nil {
		return domain.Shift{}, err
	}
	if err := e.Events.Append(ctx, tx, evtType, s.ServiceID, "shift", s.ID, actorID, events.EventPayload{
		"guard_id": s.GuardID,
		"at":       ts,
		"minutes":  minutes,
	}); err != nil {
		return domain.Shift{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Shift{}, err
	}
	s.Activities = append(s.Activities, act)
	return s, nil
}

// creditOpenInterval finds the most recent unmatched start activity of the
// given type and credits the elapsed minutes to the shift total. An interval
// with no open start credits nothing.
func creditOpenInterval(s *domain.Shift, startType, endType domain.ActivityType, now time.Time) int {
	var openStart string
	for i := len(s.Activities) - 1; i >= 0; i-- {
		if s.Activities[i].Type == endType {
			break
		}
		if s.Activities[i].Type == startType {
			openStart = s.Activities[i].Timestamp
			break
		}
	}
	if openStart == "" {
		return 0
	}
	start, err := time.Parse(time.RFC3339, openStart)
	if err != nil {
		return 0
	}
	minutes := minutesBetween(start, now)
	switch startType {
	case domain.ActivityBreakStart:
		s.TotalBreakMinutes += minutes
	case domain.ActivityPatrolStart:
		s.TotalPatrolMinutes += minutes
	}
	return minutes
}

// EndShift completes the guard's shift. An open break or patrol interval is
// closed first so its minutes land in the totals, then the worked total is
// derived from the app confirmation and end timestamps.
func (e Engine) EndShift(ctx context.Context, guardID, notes string, loc *domain.Location, actorID string) (domain.Shift, error) {
	if e.Config == nil {
		return domain.Shift{}, errors.New("config not loaded")
	}
	s, err := e.Repo.FindActiveShift(ctx, guardID)
	if err != nil {
		return domain.Shift{}, fmt.Errorf("active shift: %w", err)
	}
	if err := ensureShiftTransition(s.Status, domain.StatusCompleted); err != nil {
		return domain.Shift{}, err
	}
	now := e.now()
	prev := s.Status
	ts := now.UTC().Format(time.RFC3339)
	var closing *domain.Activity
	switch s.Status {
	case domain.StatusOnBreak:
		creditOpenInterval(&s, domain.ActivityBreakStart, domain.ActivityBreakEnd, now)
		closing = &domain.Activity{Type: domain.ActivityBreakEnd, Timestamp: ts}
	case domain.StatusOnPatrol:
		creditOpenInterval(&s, domain.ActivityPatrolStart, domain.ActivityPatrolEnd, now)
		closing = &domain.Activity{Type: domain.ActivityPatrolEnd, Timestamp: ts}
	}
	s.EndTime = &ts
	s.TotalWorkedMinutes = workedMinutes(s, now)
	s.Status = domain.StatusCompleted
	if notes != "" {
		if s.Notes != "" {
			s.Notes += "\n"
		}
		s.Notes += notes
	}
	s.UpdatedAt = ts
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Shift{}, err
	}
	defer tx.Rollback()
	if err := e.commitTransition(ctx, tx, s, prev); err != nil {
		return domain.Shift{}, err
	}
	if closing != nil {
		if err := e.Repo.AppendActivityTx(ctx, tx, s.ID, *closing); err != nil {
			return domain.Shift{}, err
		}
	}
	payload := events.EventPayload{
		"guard_id":             s.GuardID,
		"end_time":             ts,
		"total_worked_minutes": s.TotalWorkedMinutes,
		"total_break_minutes":  s.TotalBreakMinutes,
		"total_patrol_minutes": s.TotalPatrolMinutes,
	}
	if loc != nil {
		payload["latitude"] = loc.Latitude
		payload["longitude"] = loc.Longitude
	}
	if err := e.Events.Append(ctx, tx, "shift.completed", s.ServiceID, "shift", s.ID, actorID, payload); err != nil {
		return domain.Shift{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Shift{}, err
	}
	if closing != nil {
		s.Activities = append(s.Activities, *closing)
	}
	return s, nil
}

// workedMinutes is elapsed app-start to end minus break minutes, floored at
// zero. Patrol time counts as work.
func workedMinutes(s domain.Shift, end time.Time) int {
	if s.AppStartTime == nil {
		return 0
	}
	start, err := time.Parse(time.RFC3339, *s.AppStartTime)
	if err != nil {
		return 0
	}
	worked := minutesBetween(start, end) - s.TotalBreakMinutes
	if worked < 0 {
		return 0
	}
	return worked
}

// commitTransition writes the shift conditionally on its prior status and
// maps a lost race to ErrInvalidState.
func (e Engine) commitTransition(ctx context.Context, tx *sql.Tx, s domain.Shift, expected domain.ShiftStatus) error {
	if err := e.Repo.UpdateShiftTx(ctx, tx, s, expected); err != nil {
		if errors.Is(err, repo.ErrStaleStatus) {
			return fmt.Errorf("%w: concurrent transition from %s", ErrInvalidState, expected)
		}
		return err
	}
	return nil
}

// ActiveShift returns the guard's current started shift.
func (e Engine) ActiveShift(ctx context.Context, guardID string) (domain.Shift, error) {
	return e.Repo.FindActiveShift(ctx, guardID)
}

// AvailableServices resolves which services a guard may check in to, based
// on role. Supervisory roles see every active service; the guard role sees
// the active services in its assigned code list; anything else sees only its
// single primary service.
func (e Engine) AvailableServices(ctx context.Context, guardID string) ([]domain.Service, error) {
	if e.Config == nil {
		return nil, errors.New("config not loaded")
	}
	g, err := e.Repo.GetGuard(ctx, guardID)
	if err != nil {
		return nil, fmt.Errorf("guard %s: %w", guardID, err)
	}
	switch {
	case e.Config.IsSupervisory(g.Role):
		return e.Repo.ListServices(ctx, true)
	case g.Role == e.Config.Roles.Guard:
		return e.Repo.ListActiveServicesByCodes(ctx, g.ServiceCodes)
	case g.ServiceCode != "":
		svc, err := e.Repo.GetServiceByCode(ctx, g.ServiceCode)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		if !svc.Active {
			return nil, nil
		}
		return []domain.Service{svc}, nil
	default:
		return nil, nil
	}
}

// ShiftsByService lists a service's shifts, optionally bounded by day keys.
func (e Engine) ShiftsByService(ctx context.Context, serviceID, startDate, endDate string) ([]domain.Shift, error) {
	if _, err := e.Repo.GetService(ctx, serviceID); err != nil {
		return nil, fmt.Errorf("service %s: %w", serviceID, err)
	}
	return e.Repo.FindByService(ctx, serviceID, startDate, endDate)
}

// ShiftStats aggregates a service's shifts by status with minute totals.
func (e Engine) ShiftStats(ctx context.Context, serviceID, startDate, endDate string) ([]domain.ShiftStatusStats, error) {
	if _, err := e.Repo.GetService(ctx, serviceID); err != nil {
		return nil, fmt.Errorf("service %s: %w", serviceID, err)
	}
	return e.Repo.AggregateByStatus(ctx, serviceID, startDate, endDate)
}

// ListShifts is the admin listing across guards and services.
func (e Engine) ListShifts(ctx context.Context, f repo.ShiftFilters) ([]domain.Shift, error) {
	return e.Repo.ListShifts(ctx, f)
}

// CreateGuard registers a guard identity.
func (e Engine) CreateGuard(ctx context.Context, g domain.Guard, actorID string) (domain.Guard, error) {
	if e.Config == nil {
		return g, errors.New("config not loaded")
	}
	if g.Username == "" {
		return g, errors.New("username is required")
	}
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	if g.Role == "" {
		g.Role = e.Config.Roles.Guard
	}
	g.Active = true
	g.CreatedAt = e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return g, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertGuard(ctx, tx, g); err != nil {
		return g, fmt.Errorf("insert guard: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "guard.created", "", "guard", g.ID, actorID, events.EventPayload{
		"username": g.Username,
		"role":     g.Role,
	}); err != nil {
		return g, err
	}
	if err := tx.Commit(); err != nil {
		return g, err
	}
	return g, nil
}

// CreateService registers a community service.
func (e Engine) CreateService(ctx context.Context, svc domain.Service, actorID string) (domain.Service, error) {
	if e.Config == nil {
		return svc, errors.New("config not loaded")
	}
	if svc.Code == "" {
		return svc, errors.New("code is required")
	}
	if svc.Name == "" {
		svc.Name = svc.Code
	}
	if svc.ID == "" {
		svc.ID = uuid.New().String()
	}
	svc.Active = true
	svc.CreatedAt = e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return svc, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertService(ctx, tx, svc); err != nil {
		return svc, fmt.Errorf("insert service: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "service.created", svc.ID, "service", svc.ID, actorID, events.EventPayload{
		"code": svc.Code,
		"name": svc.Name,
	}); err != nil {
		return svc, err
	}
	if err := tx.Commit(); err != nil {
		return svc, err
	}
	return svc, nil
}
