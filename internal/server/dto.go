package server

import (
	"guardline/internal/config"
	"guardline/internal/domain"
)

type LocationRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (l *LocationRequest) toDomain() *domain.Location {
	if l == nil {
		return nil
	}
	return &domain.Location{Latitude: l.Latitude, Longitude: l.Longitude}
}

type BiometricEntryRequest struct {
	Timestamp string `json:"timestamp,omitempty" format:"date-time"`
}

type StartShiftRequest struct {
	ServiceID string           `json:"service_id"`
	Location  *LocationRequest `json:"location,omitempty"`
}

type ShiftActionRequest struct {
	Notes    string           `json:"notes,omitempty"`
	Location *LocationRequest `json:"location,omitempty"`
}

type ScheduleShiftRequest struct {
	ID                 string `json:"id,omitempty"`
	GuardID            string `json:"guard_id"`
	ServiceID          string `json:"service_id"`
	ScheduledStartTime string `json:"scheduled_start_time" format:"date-time"`
	ScheduledEndTime   string `json:"scheduled_end_time" format:"date-time"`
	Notes              string `json:"notes,omitempty"`
}

type CreateGuardRequest struct {
	ID           string   `json:"id,omitempty"`
	Username     string   `json:"username"`
	Email        string   `json:"email,omitempty"`
	Role         string   `json:"role,omitempty"`
	ServiceCode  string   `json:"service_code,omitempty"`
	ServiceCodes []string `json:"service_codes,omitempty"`
}

type CreateServiceRequest struct {
	ID          string `json:"id,omitempty"`
	Code        string `json:"code"`
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

type ActivityResponse struct {
	Type      string           `json:"type"`
	Timestamp string           `json:"timestamp" format:"date-time"`
	Notes     string           `json:"notes,omitempty"`
	Location  *domain.Location `json:"location,omitempty"`
}

type ShiftResponse struct {
	ID                 string             `json:"id"`
	GuardID            string             `json:"guard_id"`
	ServiceID          string             `json:"service_id"`
	ShiftDate          string             `json:"shift_date"`
	ScheduledStartTime string             `json:"scheduled_start_time" format:"date-time"`
	ScheduledEndTime   string             `json:"scheduled_end_time" format:"date-time"`
	BiometricStartTime *string            `json:"biometric_start_time,omitempty" format:"date-time"`
	AppStartTime       *string            `json:"app_start_time,omitempty" format:"date-time"`
	EndTime            *string            `json:"end_time,omitempty" format:"date-time"`
	Status             string             `json:"status"`
	Activities         []ActivityResponse `json:"activities,omitempty"`
	IsWithinTimeWindow bool               `json:"is_within_time_window"`
	TotalWorkedMinutes int                `json:"total_worked_minutes"`
	TotalBreakMinutes  int                `json:"total_break_minutes"`
	TotalPatrolMinutes int                `json:"total_patrol_minutes"`
	Notes              string             `json:"notes,omitempty"`
	CreatedAt          string             `json:"created_at" format:"date-time"`
	UpdatedAt          string             `json:"updated_at" format:"date-time"`
}

func shiftResponse(s domain.Shift) ShiftResponse {
	res := ShiftResponse{
		ID:                 s.ID,
		GuardID:            s.GuardID,
		ServiceID:          s.ServiceID,
		ShiftDate:          s.ShiftDate,
		ScheduledStartTime: s.ScheduledStartTime,
		ScheduledEndTime:   s.ScheduledEndTime,
		BiometricStartTime: s.BiometricStartTime,
		AppStartTime:       s.AppStartTime,
		EndTime:            s.EndTime,
		Status:             string(s.Status),
		IsWithinTimeWindow: s.IsWithinTimeWindow,
		TotalWorkedMinutes: s.TotalWorkedMinutes,
		TotalBreakMinutes:  s.TotalBreakMinutes,
		TotalPatrolMinutes: s.TotalPatrolMinutes,
		Notes:              s.Notes,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
	}
	for _, a := range s.Activities {
		res.Activities = append(res.Activities, ActivityResponse{
			Type:      string(a.Type),
			Timestamp: a.Timestamp,
			Notes:     a.Notes,
			Location:  a.Location,
		})
	}
	return res
}

func mapShifts(items []domain.Shift) []ShiftResponse {
	res := []ShiftResponse{}
	for _, s := range items {
		res = append(res, shiftResponse(s))
	}
	return res
}

type GuardResponse struct {
	ID           string   `json:"id"`
	Username     string   `json:"username"`
	Email        string   `json:"email,omitempty"`
	Role         string   `json:"role"`
	ServiceCode  string   `json:"service_code,omitempty"`
	ServiceCodes []string `json:"service_codes,omitempty"`
	Active       bool     `json:"active"`
	CreatedAt    string   `json:"created_at" format:"date-time"`
}

func guardResponse(g domain.Guard) GuardResponse {
	return GuardResponse{
		ID:           g.ID,
		Username:     g.Username,
		Email:        g.Email,
		Role:         g.Role,
		ServiceCode:  g.ServiceCode,
		ServiceCodes: g.ServiceCodes,
		Active:       g.Active,
		CreatedAt:    g.CreatedAt,
	}
}

func mapGuards(items []domain.Guard) []GuardResponse {
	res := []GuardResponse{}
	for _, g := range items {
		res = append(res, guardResponse(g))
	}
	return res
}

type ServiceResponse struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	Active      bool   `json:"active"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

func serviceResponse(s domain.Service) ServiceResponse {
	return ServiceResponse{
		ID:          s.ID,
		Code:        s.Code,
		Name:        s.Name,
		DisplayName: s.DisplayName,
		Active:      s.Active,
		CreatedAt:   s.CreatedAt,
	}
}

func mapServices(items []domain.Service) []ServiceResponse {
	res := []ServiceResponse{}
	for _, s := range items {
		res = append(res, serviceResponse(s))
	}
	return res
}

type ShiftStatsResponse struct {
	Status             string `json:"status"`
	Count              int    `json:"count"`
	TotalWorkedMinutes int    `json:"total_worked_minutes"`
	TotalBreakMinutes  int    `json:"total_break_minutes"`
	TotalPatrolMinutes int    `json:"total_patrol_minutes"`
}

func mapStats(items []domain.ShiftStatusStats) []ShiftStatsResponse {
	res := []ShiftStatsResponse{}
	for _, st := range items {
		res = append(res, ShiftStatsResponse{
			Status:             string(st.Status),
			Count:              st.Count,
			TotalWorkedMinutes: st.TotalWorkedMinutes,
			TotalBreakMinutes:  st.TotalBreakMinutes,
			TotalPatrolMinutes: st.TotalPatrolMinutes,
		})
	}
	return res
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ServiceID  string `json:"service_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json,omitempty"`
}

func mapEvents(items []domain.Event) []EventResponse {
	res := []EventResponse{}
	for _, e := range items {
		res = append(res, EventResponse{
			ID:         e.ID,
			TS:         e.TS,
			Type:       e.Type,
			ServiceID:  e.ServiceID,
			EntityKind: e.EntityKind,
			EntityID:   e.EntityID,
			ActorID:    e.ActorID,
			Payload:    e.Payload,
		})
	}
	return res
}

type DeployConfigResponse struct {
	Name                      string   `json:"name"`
	Timezone                  string   `json:"timezone"`
	BiometricToleranceMinutes int      `json:"biometric_tolerance_minutes"`
	AppStartMinutes           int      `json:"app_start_minutes"`
	GuardRole                 string   `json:"guard_role"`
	SupervisoryRoles          []string `json:"supervisory_roles"`
}

func configResponse(cfg *config.Config) DeployConfigResponse {
	return DeployConfigResponse{
		Name:                      cfg.Deployment.Name,
		Timezone:                  cfg.Deployment.Timezone,
		BiometricToleranceMinutes: cfg.Windows.BiometricToleranceMinutes,
		AppStartMinutes:           cfg.Windows.AppStartMinutes,
		GuardRole:                 cfg.Roles.Guard,
		SupervisoryRoles:          cfg.Roles.Supervisory,
	}
}
