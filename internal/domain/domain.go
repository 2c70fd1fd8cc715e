package domain

// ShiftStatus is the closed set of shift lifecycle states.
type ShiftStatus string

const (
	StatusScheduled           ShiftStatus = "scheduled"
	StatusBiometricRegistered ShiftStatus = "biometric_registered"
	StatusActive              ShiftStatus = "active"
	StatusOnBreak             ShiftStatus = "on_break"
	StatusOnPatrol            ShiftStatus = "on_patrol"
	StatusCompleted           ShiftStatus = "completed"
	StatusMissed              ShiftStatus = "missed"
)

// Terminal reports whether no further transitions are allowed.
func (s ShiftStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusMissed
}

// Started reports whether the shift counts as the guard's active shift.
func (s ShiftStatus) Started() bool {
	return s == StatusActive || s == StatusOnBreak || s == StatusOnPatrol
}

// ActivityType tags entries in a shift's activity log.
type ActivityType string

const (
	ActivityBreakStart  ActivityType = "break_start"
	ActivityBreakEnd    ActivityType = "break_end"
	ActivityPatrolStart ActivityType = "patrol_start"
	ActivityPatrolEnd   ActivityType = "patrol_end"
	ActivityIncident    ActivityType = "incident"
)

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type Activity struct {
	Type      ActivityType `json:"type" enum:"break_start,break_end,patrol_start,patrol_end,incident"`
	Timestamp string       `json:"timestamp" format:"date-time"`
	Notes     string       `json:"notes,omitempty"`
	Location  *Location    `json:"location,omitempty"`
}

// Shift is one scheduled work period for one guard at one service.
type Shift struct {
	ID                 string      `json:"id"`
	GuardID            string      `json:"guard_id"`
	ServiceID          string      `json:"service_id"`
	ShiftDate          string      `json:"shift_date"`
	ScheduledStartTime string      `json:"scheduled_start_time" format:"date-time"`
	ScheduledEndTime   string      `json:"scheduled_end_time" format:"date-time"`
	BiometricStartTime *string     `json:"biometric_start_time,omitempty" format:"date-time"`
	AppStartTime       *string     `json:"app_start_time,omitempty" format:"date-time"`
	EndTime            *string     `json:"end_time,omitempty" format:"date-time"`
	Status             ShiftStatus `json:"status" enum:"scheduled,biometric_registered,active,on_break,on_patrol,completed,missed"`
	Activities         []Activity  `json:"activities,omitempty"`
	IsWithinTimeWindow bool        `json:"is_within_time_window"`
	TotalWorkedMinutes int         `json:"total_worked_minutes"`
	TotalBreakMinutes  int         `json:"total_break_minutes"`
	TotalPatrolMinutes int         `json:"total_patrol_minutes"`
	Notes              string      `json:"notes,omitempty"`
	CreatedAt          string      `json:"created_at" format:"date-time"`
	UpdatedAt          string      `json:"updated_at" format:"date-time"`
}

// Guard is the identity record for a person fulfilling shifts.
type Guard struct {
	ID           string   `json:"id"`
	Username     string   `json:"username"`
	Email        string   `json:"email,omitempty"`
	Role         string   `json:"role"`
	ServiceCode  string   `json:"service_code,omitempty"`
	ServiceCodes []string `json:"service_codes,omitempty"`
	Active       bool     `json:"active"`
	CreatedAt    string   `json:"created_at" format:"date-time"`
}

// Service is a managed community a guard can be assigned to.
type Service struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	Active      bool   `json:"active"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// ShiftStatusStats is one row of the per-status aggregation for a service.
type ShiftStatusStats struct {
	Status             ShiftStatus `json:"status"`
	Count              int         `json:"count"`
	TotalWorkedMinutes int         `json:"total_worked_minutes"`
	TotalBreakMinutes  int         `json:"total_break_minutes"`
	TotalPatrolMinutes int         `json:"total_patrol_minutes"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ServiceID  string `json:"service_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
