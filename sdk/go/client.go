package guardlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Guardline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Location is a GPS coordinate pair.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Shift represents the API shift model (partial).
type Shift struct {
	ID                 string  `json:"id"`
	GuardID            string  `json:"guard_id"`
	ServiceID          string  `json:"service_id"`
	ShiftDate          string  `json:"shift_date"`
	ScheduledStartTime string  `json:"scheduled_start_time"`
	ScheduledEndTime   string  `json:"scheduled_end_time"`
	BiometricStartTime *string `json:"biometric_start_time,omitempty"`
	AppStartTime       *string `json:"app_start_time,omitempty"`
	EndTime            *string `json:"end_time,omitempty"`
	Status             string  `json:"status"`
	IsWithinTimeWindow bool    `json:"is_within_time_window"`
	TotalWorkedMinutes int     `json:"total_worked_minutes"`
	TotalBreakMinutes  int     `json:"total_break_minutes"`
	TotalPatrolMinutes int     `json:"total_patrol_minutes"`
	Notes              string  `json:"notes,omitempty"`
}

// Service represents a guarded post.
type Service struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	Active      bool   `json:"active"`
}

// ShiftStats is a per-status aggregate for a service.
type ShiftStats struct {
	Status             string `json:"status"`
	Count              int    `json:"count"`
	TotalWorkedMinutes int    `json:"total_worked_minutes"`
	TotalBreakMinutes  int    `json:"total_break_minutes"`
	TotalPatrolMinutes int    `json:"total_patrol_minutes"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ServiceID  string `json:"service_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// AvailableServices returns the services the authenticated guard can check in to.
func (c *Client) AvailableServices(ctx context.Context) ([]Service, error) {
	var resp []Service
	err := c.do(ctx, http.MethodGet, "v0/shifts/available-services", nil, &resp)
	return resp, err
}

// ActiveShift returns the guard's current started shift.
func (c *Client) ActiveShift(ctx context.Context) (Shift, error) {
	var resp Shift
	err := c.do(ctx, http.MethodGet, "v0/shifts/active", nil, &resp)
	return resp, err
}

// RegisterBiometricEntry records the guard's device check-in. An empty
// timestamp uses the server clock.
func (c *Client) RegisterBiometricEntry(ctx context.Context, timestamp string) (Shift, error) {
	body := map[string]any{}
	if timestamp != "" {
		body["timestamp"] = timestamp
	}
	var resp Shift
	err := c.do(ctx, http.MethodPost, "v0/shifts/biometric-entry", body, &resp)
	return resp, err
}

// StartShift confirms the shift start from the app for the given service.
func (c *Client) StartShift(ctx context.Context, serviceID string, loc *Location) (Shift, error) {
	body := map[string]any{"service_id": serviceID}
	if loc != nil {
		body["location"] = loc
	}
	var resp Shift
	err := c.do(ctx, http.MethodPost, "v0/shifts/start", body, &resp)
	return resp, err
}

// StartBreak pauses the active shift.
func (c *Client) StartBreak(ctx context.Context, notes string) (Shift, error) {
	return c.shiftAction(ctx, "v0/shifts/break/start", notes)
}

// EndBreak resumes the shift and credits break minutes.
func (c *Client) EndBreak(ctx context.Context, notes string) (Shift, error) {
	return c.shiftAction(ctx, "v0/shifts/break/end", notes)
}

// StartPatrol marks the guard out on a patrol round.
func (c *Client) StartPatrol(ctx context.Context, notes string) (Shift, error) {
	return c.shiftAction(ctx, "v0/shifts/patrol/start", notes)
}

// EndPatrol ends the patrol round and credits patrol minutes.
func (c *Client) EndPatrol(ctx context.Context, notes string) (Shift, error) {
	return c.shiftAction(ctx, "v0/shifts/patrol/end", notes)
}

// EndShift completes the shift and computes worked minutes.
func (c *Client) EndShift(ctx context.Context, notes string) (Shift, error) {
	return c.shiftAction(ctx, "v0/shifts/end", notes)
}

func (c *Client) shiftAction(ctx context.Context, endpoint, notes string) (Shift, error) {
	body := map[string]any{}
	if notes != "" {
		body["notes"] = notes
	}
	var resp Shift
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ScheduleShift creates a scheduled shift for a guard.
func (c *Client) ScheduleShift(ctx context.Context, guardID, serviceID, start, end string) (Shift, error) {
	body := map[string]any{
		"guard_id":             guardID,
		"service_id":           serviceID,
		"scheduled_start_time": start,
		"scheduled_end_time":   end,
	}
	var resp Shift
	err := c.do(ctx, http.MethodPost, "v0/shifts/schedule", body, &resp)
	return resp, err
}

// ServiceShifts lists shifts for a service, optionally date bounded (YYYY-MM-DD).
func (c *Client) ServiceShifts(ctx context.Context, serviceID, startDate, endDate string) ([]Shift, error) {
	endpoint := fmt.Sprintf("v0/services/%s/shifts", url.PathEscape(serviceID))
	endpoint = withDateRange(endpoint, startDate, endDate)
	var resp []Shift
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ServiceShiftStats returns per-status aggregates for a service.
func (c *Client) ServiceShiftStats(ctx context.Context, serviceID, startDate, endDate string) ([]ShiftStats, error) {
	endpoint := fmt.Sprintf("v0/services/%s/shifts/stats", url.PathEscape(serviceID))
	endpoint = withDateRange(endpoint, startDate, endDate)
	var resp []ShiftStats
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func withDateRange(endpoint, startDate, endDate string) string {
	params := url.Values{}
	if startDate != "" {
		params.Set("start_date", startDate)
	}
	if endDate != "" {
		params.Set("end_date", endDate)
	}
	if len(params) == 0 {
		return endpoint
	}
	return endpoint + "?" + params.Encode()
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
