package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"guardline/internal/config"
	"guardline/internal/db"
	"guardline/internal/domain"
	"guardline/internal/engine"
	"guardline/internal/migrate"
	"guardline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	clock  *time.Time
}

func (e testEnv) setNow(t time.Time) {
	*e.clock = t
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("test")
	cfg.Deployment.Timezone = "UTC"
	clock := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return clock }
	eng.Events.Now = eng.Now
	ctx := context.Background()
	if err := eng.Repo.UpsertDeployConfig(ctx, cfg); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	env := testEnv{Engine: eng, Ctx: ctx, clock: &clock}
	seed(t, env)
	return env
}

func seed(t *testing.T, env testEnv) {
	t.Helper()
	guards := []domain.Guard{
		{ID: "guard-1", Username: "lopez", Role: "guardia", ServiceCodes: []string{"COL-NORTE", "COL-SUR"}},
		{ID: "guard-2", Username: "ramirez", Role: "guardia", ServiceCodes: []string{"COL-SUR"}},
		{ID: "sup-1", Username: "vega", Role: "supervisor"},
		{ID: "aux-1", Username: "ortiz", Role: "auxiliar", ServiceCode: "COL-NORTE"},
	}
	for _, g := range guards {
		if _, err := env.Engine.CreateGuard(env.Ctx, g, "seed"); err != nil {
			t.Fatalf("seed guard %s: %v", g.Username, err)
		}
	}
	services := []domain.Service{
		{ID: "svc-norte", Code: "COL-NORTE", Name: "Colonia Norte"},
		{ID: "svc-sur", Code: "COL-SUR", Name: "Colonia Sur"},
	}
	for _, s := range services {
		if _, err := env.Engine.CreateService(env.Ctx, s, "seed"); err != nil {
			t.Fatalf("seed service %s: %v", s.Code, err)
		}
	}
}

// scheduleShift creates guard-1's 09:00-17:00 shift for 2024-03-05.
func scheduleShift(t *testing.T, env testEnv) domain.Shift {
	t.Helper()
	s, err := env.Engine.ScheduleShift(env.Ctx, engine.ShiftScheduleOptions{
		GuardID:        "guard-1",
		ServiceID:      "svc-norte",
		ScheduledStart: "2024-03-05T09:00:00Z",
		ScheduledEnd:   "2024-03-05T17:00:00Z",
		ActorID:        "admin",
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	return s
}

// startShift walks guard-1's shift to active: biometric at 08:50, app at 09:10.
func startShift(t *testing.T, env testEnv) domain.Shift {
	t.Helper()
	scheduleShift(t, env)
	env.setNow(time.Date(2024, 3, 5, 8, 50, 0, 0, time.UTC))
	if _, err := env.Engine.RegisterBiometricEntry(env.Ctx, "guard-1", nil, "guard-1"); err != nil {
		t.Fatalf("biometric: %v", err)
	}
	env.setNow(time.Date(2024, 3, 5, 9, 10, 0, 0, time.UTC))
	s, err := env.Engine.StartShiftInApp(env.Ctx, "guard-1", "svc-norte", nil, "guard-1")
	if err != nil {
		t.Fatalf("app start: %v", err)
	}
	return s
}

func TestScheduleShift(t *testing.T) {
	env := newTestEnv(t)
	s := scheduleShift(t, env)
	if s.Status != domain.StatusScheduled {
		t.Fatalf("status: %s", s.Status)
	}
	if s.ShiftDate != "2024-03-05" {
		t.Fatalf("shift date: %s", s.ShiftDate)
	}
	// second shift for the same day is rejected
	_, err := env.Engine.ScheduleShift(env.Ctx, engine.ShiftScheduleOptions{
		GuardID:        "guard-1",
		ServiceID:      "svc-sur",
		ScheduledStart: "2024-03-05T18:00:00Z",
		ScheduledEnd:   "2024-03-05T23:00:00Z",
		ActorID:        "admin",
	})
	if !errors.Is(err, engine.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestBiometricWindow(t *testing.T) {
	env := newTestEnv(t)
	scheduleShift(t, env)

	// 16 minutes early is outside tolerance
	env.setNow(time.Date(2024, 3, 5, 8, 44, 0, 0, time.UTC))
	_, err := env.Engine.RegisterBiometricEntry(env.Ctx, "guard-1", nil, "guard-1")
	if !errors.Is(err, engine.ErrOutOfWindow) {
		t.Fatalf("expected out of window, got %v", err)
	}
	// the failed attempt must not have touched the shift
	shifts, err := env.Engine.ListShifts(env.Ctx, repo.ShiftFilters{GuardID: "guard-1"})
	if err != nil || len(shifts) != 1 {
		t.Fatalf("list: %v", err)
	}
	if shifts[0].Status != domain.StatusScheduled {
		t.Fatalf("status after rejected entry: %s", shifts[0].Status)
	}

	// 14 minutes early is inside
	env.setNow(time.Date(2024, 3, 5, 8, 46, 0, 0, time.UTC))
	s, err := env.Engine.RegisterBiometricEntry(env.Ctx, "guard-1", nil, "guard-1")
	if err != nil {
		t.Fatalf("biometric: %v", err)
	}
	if s.Status != domain.StatusBiometricRegistered {
		t.Fatalf("status: %s", s.Status)
	}
	if !s.IsWithinTimeWindow {
		t.Fatalf("expected within-window flag")
	}
	if s.BiometricStartTime == nil || *s.BiometricStartTime != "2024-03-05T08:46:00Z" {
		t.Fatalf("biometric time: %v", s.BiometricStartTime)
	}
}

func TestBiometricWindowEdges(t *testing.T) {
	env := newTestEnv(t)
	scheduleShift(t, env)
	// exactly 15 minutes late is still inside (inclusive bound)
	env.setNow(time.Date(2024, 3, 5, 9, 15, 0, 0, time.UTC))
	s, err := env.Engine.RegisterBiometricEntry(env.Ctx, "guard-1", nil, "guard-1")
	if err != nil {
		t.Fatalf("biometric at +15: %v", err)
	}
	if s.Status != domain.StatusBiometricRegistered {
		t.Fatalf("status: %s", s.Status)
	}
}

func TestBiometricEntryWithDeviceTimestamp(t *testing.T) {
	env := newTestEnv(t)
	scheduleShift(t, env)
	// the device reports an earlier entry than the engine clock sees
	env.setNow(time.Date(2024, 3, 5, 9, 20, 0, 0, time.UTC))
	at := time.Date(2024, 3, 5, 9, 5, 0, 0, time.UTC)
	s, err := env.Engine.RegisterBiometricEntry(env.Ctx, "guard-1", &at, "guard-1")
	if err != nil {
		t.Fatalf("biometric with device time: %v", err)
	}
	if s.BiometricStartTime == nil || *s.BiometricStartTime != "2024-03-05T09:05:00Z" {
		t.Fatalf("biometric time: %v", s.BiometricStartTime)
	}
}

func TestAppStartServiceMismatch(t *testing.T) {
	env := newTestEnv(t)
	scheduleShift(t, env)
	env.setNow(time.Date(2024, 3, 5, 8, 50, 0, 0, time.UTC))
	if _, err := env.Engine.RegisterBiometricEntry(env.Ctx, "guard-1", nil, "guard-1"); err != nil {
		t.Fatalf("biometric: %v", err)
	}
	env.setNow(time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC))
	// confirming without naming a service is rejected outright
	if _, err := env.Engine.StartShiftInApp(env.Ctx, "guard-1", "", nil, "guard-1"); err == nil {
		t.Fatalf("expected error for empty service")
	}
	_, err := env.Engine.StartShiftInApp(env.Ctx, "guard-1", "svc-sur", nil, "guard-1")
	if !errors.Is(err, engine.ErrServiceMismatch) {
		t.Fatalf("expected service mismatch, got %v", err)
	}
	shifts, _ := env.Engine.ListShifts(env.Ctx, repo.ShiftFilters{GuardID: "guard-1"})
	if shifts[0].Status != domain.StatusBiometricRegistered {
		t.Fatalf("mismatch must not transition, got %s", shifts[0].Status)
	}
	// the right service still confirms
	s, err := env.Engine.StartShiftInApp(env.Ctx, "guard-1", "svc-norte", nil, "guard-1")
	if err != nil {
		t.Fatalf("app start: %v", err)
	}
	if s.Status != domain.StatusActive {
		t.Fatalf("status: %s", s.Status)
	}
}

func TestAppStartWindow(t *testing.T) {
	env := newTestEnv(t)
	scheduleShift(t, env)
	env.setNow(time.Date(2024, 3, 5, 8, 50, 0, 0, time.UTC))
	if _, err := env.Engine.RegisterBiometricEntry(env.Ctx, "guard-1", nil, "guard-1"); err != nil {
		t.Fatalf("biometric: %v", err)
	}
	// 29 minutes after biometric entry is inside the window
	env.setNow(time.Date(2024, 3, 5, 9, 19, 0, 0, time.UTC))
	s, err := env.Engine.StartShiftInApp(env.Ctx, "guard-1", "svc-norte", nil, "guard-1")
	if err != nil {
		t.Fatalf("app start: %v", err)
	}
	if s.Status != domain.StatusActive {
		t.Fatalf("status: %s", s.Status)
	}
	if s.AppStartTime == nil || *s.AppStartTime != "2024-03-05T09:19:00Z" {
		t.Fatalf("app start time: %v", s.AppStartTime)
	}
}

func TestAppStartWindowExpiry(t *testing.T) {
	env := newTestEnv(t)
	scheduleShift(t, env)
	env.setNow(time.Date(2024, 3, 5, 8, 50, 0, 0, time.UTC))
	if _, err := env.Engine.RegisterBiometricEntry(env.Ctx, "guard-1", nil, "guard-1"); err != nil {
		t.Fatalf("biometric: %v", err)
	}
	// 31 minutes after biometric entry: the shift is committed missed
	env.setNow(time.Date(2024, 3, 5, 9, 21, 0, 0, time.UTC))
	_, err := env.Engine.StartShiftInApp(env.Ctx, "guard-1", "svc-norte", nil, "guard-1")
	if !errors.Is(err, engine.ErrWindowExpired) {
		t.Fatalf("expected window expired, got %v", err)
	}
	shifts, _ := env.Engine.ListShifts(env.Ctx, repo.ShiftFilters{GuardID: "guard-1"})
	if shifts[0].Status != domain.StatusMissed {
		t.Fatalf("expected missed, got %s", shifts[0].Status)
	}
	// missed is terminal: a retry finds no confirmable shift
	_, err = env.Engine.StartShiftInApp(env.Ctx, "guard-1", "svc-norte", nil, "guard-1")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found after missed, got %v", err)
	}
}

func TestBreakRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	startShift(t, env)

	env.setNow(time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC))
	s, err := env.Engine.StartBreak(env.Ctx, "guard-1", "lunch", nil, "guard-1")
	if err != nil {
		t.Fatalf("start break: %v", err)
	}
	if s.Status != domain.StatusOnBreak {
		t.Fatalf("status: %s", s.Status)
	}

	env.setNow(time.Date(2024, 3, 5, 12, 10, 0, 0, time.UTC))
	s, err = env.Engine.EndBreak(env.Ctx, "guard-1", "", nil, "guard-1")
	if err != nil {
		t.Fatalf("end break: %v", err)
	}
	if s.Status != domain.StatusActive {
		t.Fatalf("status: %s", s.Status)
	}
	if s.TotalBreakMinutes != 10 {
		t.Fatalf("break minutes: %d", s.TotalBreakMinutes)
	}
	if len(s.Activities) != 2 || s.Activities[0].Type != domain.ActivityBreakStart || s.Activities[1].Type != domain.ActivityBreakEnd {
		t.Fatalf("activities: %+v", s.Activities)
	}
}

func TestDoubleEndBreak(t *testing.T) {
	env := newTestEnv(t)
	startShift(t, env)
	env.setNow(time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC))
	if _, err := env.Engine.StartBreak(env.Ctx, "guard-1", "", nil, "guard-1"); err != nil {
		t.Fatalf("start break: %v", err)
	}
	env.setNow(time.Date(2024, 3, 5, 12, 10, 0, 0, time.UTC))
	if _, err := env.Engine.EndBreak(env.Ctx, "guard-1", "", nil, "guard-1"); err != nil {
		t.Fatalf("end break: %v", err)
	}
	_, err := env.Engine.EndBreak(env.Ctx, "guard-1", "", nil, "guard-1")
	if !errors.Is(err, engine.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	// the rejected call must not have credited anything
	s, err := env.Engine.ActiveShift(env.Ctx, "guard-1")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if s.TotalBreakMinutes != 10 {
		t.Fatalf("break minutes after rejected end: %d", s.TotalBreakMinutes)
	}
}

func TestConcurrentStartBreak(t *testing.T) {
	env := newTestEnv(t)
	startShift(t, env)
	env.setNow(time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC))

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.Engine.StartBreak(env.Ctx, "guard-1", "", nil, "guard-1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	// exactly one request wins the status update, the other loses the race
	var won, lost int
	for err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, engine.ErrInvalidState):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 || lost != 1 {
		t.Fatalf("won=%d lost=%d", won, lost)
	}
	s, err := env.Engine.ActiveShift(env.Ctx, "guard-1")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if s.Status != domain.StatusOnBreak {
		t.Fatalf("status: %s", s.Status)
	}
	if len(s.Activities) != 1 || s.Activities[0].Type != domain.ActivityBreakStart {
		t.Fatalf("activities: %+v", s.Activities)
	}
}

func TestBreakWhileOnPatrol(t *testing.T) {
	env := newTestEnv(t)
	startShift(t, env)
	env.setNow(time.Date(2024, 3, 5, 11, 0, 0, 0, time.UTC))
	if _, err := env.Engine.StartPatrol(env.Ctx, "guard-1", "", nil, "guard-1"); err != nil {
		t.Fatalf("start patrol: %v", err)
	}
	_, err := env.Engine.StartBreak(env.Ctx, "guard-1", "", nil, "guard-1")
	if !errors.Is(err, engine.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestEndShiftClosesOpenPatrol(t *testing.T) {
	env := newTestEnv(t)
	startShift(t, env)
	env.setNow(time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC))
	if _, err := env.Engine.StartPatrol(env.Ctx, "guard-1", "", nil, "guard-1"); err != nil {
		t.Fatalf("start patrol: %v", err)
	}
	env.setNow(time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC))
	s, err := env.Engine.EndShift(env.Ctx, "guard-1", "", nil, "guard-1")
	if err != nil {
		t.Fatalf("end shift: %v", err)
	}
	if s.Status != domain.StatusCompleted {
		t.Fatalf("status: %s", s.Status)
	}
	if s.TotalPatrolMinutes != 30 {
		t.Fatalf("patrol minutes: %d", s.TotalPatrolMinutes)
	}
	last := s.Activities[len(s.Activities)-1]
	if last.Type != domain.ActivityPatrolEnd {
		t.Fatalf("expected closing patrol_end, got %s", last.Type)
	}
	// patrol time counts as work: 09:10 to 14:30 with no breaks
	if s.TotalWorkedMinutes != 320 {
		t.Fatalf("worked minutes: %d", s.TotalWorkedMinutes)
	}
}

func TestFullDayScenario(t *testing.T) {
	env := newTestEnv(t)
	startShift(t, env)

	env.setNow(time.Date(2024, 3, 5, 13, 0, 0, 0, time.UTC))
	if _, err := env.Engine.StartBreak(env.Ctx, "guard-1", "lunch", nil, "guard-1"); err != nil {
		t.Fatalf("start break: %v", err)
	}
	env.setNow(time.Date(2024, 3, 5, 13, 30, 0, 0, time.UTC))
	if _, err := env.Engine.EndBreak(env.Ctx, "guard-1", "", nil, "guard-1"); err != nil {
		t.Fatalf("end break: %v", err)
	}
	env.setNow(time.Date(2024, 3, 5, 17, 5, 0, 0, time.UTC))
	s, err := env.Engine.EndShift(env.Ctx, "guard-1", "", nil, "guard-1")
	if err != nil {
		t.Fatalf("end shift: %v", err)
	}
	if s.Status != domain.StatusCompleted {
		t.Fatalf("status: %s", s.Status)
	}
	if s.TotalBreakMinutes != 30 {
		t.Fatalf("break minutes: %d", s.TotalBreakMinutes)
	}
	// 09:10 to 17:05 is 475 minutes, minus the 30-minute break
	if s.TotalWorkedMinutes != 445 {
		t.Fatalf("worked minutes: %d", s.TotalWorkedMinutes)
	}
	if s.EndTime == nil || *s.EndTime != "2024-03-05T17:05:00Z" {
		t.Fatalf("end time: %v", s.EndTime)
	}
	// completed is terminal
	_, err = env.Engine.EndShift(env.Ctx, "guard-1", "", nil, "guard-1")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected no active shift, got %v", err)
	}
}

func TestActiveShift(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.ActiveShift(env.Ctx, "guard-1")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	started := startShift(t, env)
	s, err := env.Engine.ActiveShift(env.Ctx, "guard-1")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if s.ID != started.ID || s.Status != domain.StatusActive {
		t.Fatalf("unexpected active shift: %s %s", s.ID, s.Status)
	}
}

func TestExpireScheduledShifts(t *testing.T) {
	env := newTestEnv(t)
	scheduleShift(t, env)
	// tolerance still open: nothing expires
	env.setNow(time.Date(2024, 3, 5, 9, 10, 0, 0, time.UTC))
	n, err := env.Engine.ExpireScheduledShifts(env.Ctx, "sweeper")
	if err != nil || n != 0 {
		t.Fatalf("expire early: n=%d err=%v", n, err)
	}
	env.setNow(time.Date(2024, 3, 5, 9, 16, 0, 0, time.UTC))
	n, err = env.Engine.ExpireScheduledShifts(env.Ctx, "sweeper")
	if err != nil || n != 1 {
		t.Fatalf("expire: n=%d err=%v", n, err)
	}
	shifts, _ := env.Engine.ListShifts(env.Ctx, repo.ShiftFilters{GuardID: "guard-1"})
	if shifts[0].Status != domain.StatusMissed {
		t.Fatalf("expected missed, got %s", shifts[0].Status)
	}
}

func TestAvailableServicesByRole(t *testing.T) {
	env := newTestEnv(t)

	// supervisory role sees every active service
	svcs, err := env.Engine.AvailableServices(env.Ctx, "sup-1")
	if err != nil {
		t.Fatalf("supervisor: %v", err)
	}
	if len(svcs) != 2 {
		t.Fatalf("supervisor services: %d", len(svcs))
	}

	// guard role sees its assigned code list
	svcs, err = env.Engine.AvailableServices(env.Ctx, "guard-2")
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	if len(svcs) != 1 || svcs[0].Code != "COL-SUR" {
		t.Fatalf("guard services: %+v", svcs)
	}

	// other roles see only their primary service
	svcs, err = env.Engine.AvailableServices(env.Ctx, "aux-1")
	if err != nil {
		t.Fatalf("aux: %v", err)
	}
	if len(svcs) != 1 || svcs[0].Code != "COL-NORTE" {
		t.Fatalf("aux services: %+v", svcs)
	}
}

func TestShiftStats(t *testing.T) {
	env := newTestEnv(t)
	startShift(t, env)
	env.setNow(time.Date(2024, 3, 5, 17, 0, 0, 0, time.UTC))
	if _, err := env.Engine.EndShift(env.Ctx, "guard-1", "", nil, "guard-1"); err != nil {
		t.Fatalf("end shift: %v", err)
	}
	env.setNow(time.Date(2024, 3, 5, 18, 0, 0, 0, time.UTC))
	if _, err := env.Engine.ScheduleShift(env.Ctx, engine.ShiftScheduleOptions{
		GuardID:        "guard-2",
		ServiceID:      "svc-norte",
		ScheduledStart: "2024-03-06T09:00:00Z",
		ScheduledEnd:   "2024-03-06T17:00:00Z",
		ActorID:        "admin",
	}); err != nil {
		t.Fatalf("schedule second: %v", err)
	}
	stats, err := env.Engine.ShiftStats(env.Ctx, "svc-norte", "", "")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	byStatus := map[domain.ShiftStatus]domain.ShiftStatusStats{}
	for _, st := range stats {
		byStatus[st.Status] = st
	}
	done := byStatus[domain.StatusCompleted]
	if done.Count != 1 || done.TotalWorkedMinutes != 470 {
		t.Fatalf("completed stats: %+v", done)
	}
	if byStatus[domain.StatusScheduled].Count != 1 {
		t.Fatalf("scheduled stats: %+v", byStatus[domain.StatusScheduled])
	}
	// date-bounded query excludes the next day's shift
	stats, err = env.Engine.ShiftStats(env.Ctx, "svc-norte", "2024-03-05", "2024-03-05")
	if err != nil {
		t.Fatalf("bounded stats: %v", err)
	}
	if len(stats) != 1 || stats[0].Status != domain.StatusCompleted {
		t.Fatalf("bounded stats: %+v", stats)
	}
}

func TestEventAppendOnTransitions(t *testing.T) {
	env := newTestEnv(t)
	s := startShift(t, env)
	env.setNow(time.Date(2024, 3, 5, 17, 0, 0, 0, time.UTC))
	if _, err := env.Engine.EndShift(env.Ctx, "guard-1", "", nil, "guard-1"); err != nil {
		t.Fatalf("end shift: %v", err)
	}
	evts, err := env.Engine.Repo.EventsAfter(env.Ctx, 100, 0, "svc-norte")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	var types []string
	for _, e := range evts {
		if e.EntityID == s.ID {
			types = append(types, e.Type)
		}
	}
	want := []string{"shift.scheduled", "shift.biometric_registered", "shift.started", "shift.completed"}
	if len(types) != len(want) {
		t.Fatalf("event types: %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event %d: got %s want %s", i, types[i], want[i])
		}
	}
}
