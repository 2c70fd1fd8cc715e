package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"guardline/internal/domain"
	"guardline/internal/engine"
	"guardline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"out_of_window"`
	Message string         `json:"message" example:"biometric entry outside allowed window"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Guardline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the required envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Guardline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerShifts(group, cfg.Engine)
	registerShiftAdmin(group, cfg.Engine)
	registerGuards(group, cfg.Engine)
	registerServices(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerConfig(group, cfg.Engine)
	if cfg.Auth.EnableDevLogin {
		registerDevAuth(group, cfg.Engine, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrOutOfWindow):
		return newAPIError(http.StatusUnprocessableEntity, "out_of_window", err.Error(), nil)
	case errors.Is(err, engine.ErrWindowExpired):
		return newAPIError(http.StatusUnprocessableEntity, "window_expired", err.Error(), nil)
	case errors.Is(err, engine.ErrServiceMismatch):
		return newAPIError(http.StatusConflict, "service_mismatch", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidState):
		return newAPIError(http.StatusConflict, "invalid_state", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") || strings.Contains(lowered, "inactive") || strings.Contains(lowered, "must be"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	devLoginPath := path.Join(basePath, "auth/dev/login")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath || route == devLoginPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Guardline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

// registerShifts covers the guard-facing lifecycle: everything acts on the
// authenticated principal's guard id.
func registerShifts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "available-services",
		Method:      http.MethodGet,
		Path:        "/shifts/available-services",
		Summary:     "Services the guard can check in to",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ServiceResponse `json:"body"`
	}, error) {
		guardID, authErr := guardIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.AvailableServices(ctx, guardID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ServiceResponse `json:"body"`
		}{Body: mapServices(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "active-shift",
		Method:      http.MethodGet,
		Path:        "/shifts/active",
		Summary:     "Guard's current started shift",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ShiftResponse `json:"body"`
	}, error) {
		guardID, authErr := guardIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.ActiveShift(ctx, guardID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ShiftResponse `json:"body"`
		}{Body: shiftResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "biometric-entry",
		Method:      http.MethodPost,
		Path:        "/shifts/biometric-entry",
		Summary:     "Register biometric check-in",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body BiometricEntryRequest `json:"body"`
	}) (*struct {
		Body ShiftResponse `json:"body"`
	}, error) {
		guardID, authErr := guardIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var at *time.Time
		if input.Body.Timestamp != "" {
			parsed, err := time.Parse(time.RFC3339, input.Body.Timestamp)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid timestamp", map[string]any{"timestamp": input.Body.Timestamp})
			}
			at = &parsed
		}
		s, err := e.RegisterBiometricEntry(ctx, guardID, at, guardID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ShiftResponse `json:"body"`
		}{Body: shiftResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-shift",
		Method:      http.MethodPost,
		Path:        "/shifts/start",
		Summary:     "Confirm shift start from the app",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body StartShiftRequest `json:"body"`
	}) (*struct {
		Body ShiftResponse `json:"body"`
	}, error) {
		guardID, authErr := guardIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.StartShiftInApp(ctx, guardID, input.Body.ServiceID, input.Body.Location.toDomain(), guardID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ShiftResponse `json:"body"`
		}{Body: shiftResponse(s)}, nil
	})

	type actionHandler func(ctx context.Context, guardID, notes string, loc *domain.Location, actorID string) (domain.Shift, error)
	registerAction := func(opID, route, summary string, fn actionHandler) {
		huma.Register(api, huma.Operation{
			OperationID: opID,
			Method:      http.MethodPost,
			Path:        route,
			Summary:     summary,
			Errors: []int{
				http.StatusNotFound,
				http.StatusConflict,
			},
		}, func(ctx context.Context, input *struct {
			Body ShiftActionRequest `json:"body"`
		}) (*struct {
			Body ShiftResponse `json:"body"`
		}, error) {
			guardID, authErr := guardIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			s, err := fn(ctx, guardID, input.Body.Notes, input.Body.Location.toDomain(), guardID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body ShiftResponse `json:"body"`
			}{Body: shiftResponse(s)}, nil
		})
	}
	registerAction("start-break", "/shifts/break/start", "Start a break", e.StartBreak)
	registerAction("end-break", "/shifts/break/end", "End the break", e.EndBreak)
	registerAction("start-patrol", "/shifts/patrol/start", "Start a patrol round", e.StartPatrol)
	registerAction("end-patrol", "/shifts/patrol/end", "End the patrol round", e.EndPatrol)
	registerAction("end-shift", "/shifts/end", "Complete the shift", e.EndShift)
}

// registerShiftAdmin covers scheduling and deployment-wide listings.
func registerShiftAdmin(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "schedule-shift",
		Method:        http.MethodPost,
		Path:          "/shifts/schedule",
		Summary:       "Schedule a shift",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body ScheduleShiftRequest `json:"body"`
	}) (*struct {
		Body ShiftResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := guardIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.ScheduleShift(ctx, engine.ShiftScheduleOptions{
			ID:             input.Body.ID,
			GuardID:        input.Body.GuardID,
			ServiceID:      input.Body.ServiceID,
			ScheduledStart: input.Body.ScheduledStartTime,
			ScheduledEnd:   input.Body.ScheduledEndTime,
			Notes:          input.Body.Notes,
			ActorID:        actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ShiftResponse `json:"body"`
		}{Body: shiftResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-shifts",
		Method:      http.MethodGet,
		Path:        "/shifts",
		Summary:     "List shifts",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		GuardID   string `query:"guard_id"`
		ServiceID string `query:"service_id"`
		Status    string `query:"status" enum:",scheduled,biometric_registered,active,on_break,on_patrol,completed,missed"`
		StartDate string `query:"start_date"`
		EndDate   string `query:"end_date"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body []ShiftResponse `json:"body"`
	}, error) {
		if _, authErr := guardIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListShifts(ctx, repo.ShiftFilters{
			GuardID:   input.GuardID,
			ServiceID: input.ServiceID,
			Status:    input.Status,
			StartDate: input.StartDate,
			EndDate:   input.EndDate,
			Limit:     input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ShiftResponse `json:"body"`
		}{Body: mapShifts(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-shift",
		Method:      http.MethodGet,
		Path:        "/shifts/{id}",
		Summary:     "Get shift",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ShiftResponse `json:"body"`
	}, error) {
		if _, authErr := guardIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		s, err := e.Repo.GetShift(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ShiftResponse `json:"body"`
		}{Body: shiftResponse(s)}, nil
	})
}

func registerGuards(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-guard",
		Method:        http.MethodPost,
		Path:          "/guards",
		Summary:       "Create guard",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateGuardRequest `json:"body"`
	}) (*struct {
		Body GuardResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := guardIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		g, err := e.CreateGuard(ctx, domain.Guard{
			ID:           input.Body.ID,
			Username:     input.Body.Username,
			Email:        input.Body.Email,
			Role:         input.Body.Role,
			ServiceCode:  input.Body.ServiceCode,
			ServiceCodes: input.Body.ServiceCodes,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GuardResponse `json:"body"`
		}{Body: guardResponse(g)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-guards",
		Method:      http.MethodGet,
		Path:        "/guards",
		Summary:     "List guards",
	}, func(ctx context.Context, input *struct {
		Role   string `query:"role"`
		Active bool   `query:"active"`
	}) (*struct {
		Body []GuardResponse `json:"body"`
	}, error) {
		if _, authErr := guardIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListGuards(ctx, input.Role, input.Active)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []GuardResponse `json:"body"`
		}{Body: mapGuards(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-guard",
		Method:      http.MethodGet,
		Path:        "/guards/{guard_id}",
		Summary:     "Get guard",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GuardID string `path:"guard_id"`
	}) (*struct {
		Body GuardResponse `json:"body"`
	}, error) {
		if _, authErr := guardIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		g, err := e.Repo.GetGuard(ctx, input.GuardID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GuardResponse `json:"body"`
		}{Body: guardResponse(g)}, nil
	})
}

func registerServices(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-service",
		Method:        http.MethodPost,
		Path:          "/services",
		Summary:       "Create service",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateServiceRequest `json:"body"`
	}) (*struct {
		Body ServiceResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := guardIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		svc, err := e.CreateService(ctx, domain.Service{
			ID:          input.Body.ID,
			Code:        input.Body.Code,
			Name:        input.Body.Name,
			DisplayName: input.Body.DisplayName,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ServiceResponse `json:"body"`
		}{Body: serviceResponse(svc)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-services",
		Method:      http.MethodGet,
		Path:        "/services",
		Summary:     "List services",
	}, func(ctx context.Context, input *struct {
		Active bool `query:"active"`
	}) (*struct {
		Body []ServiceResponse `json:"body"`
	}, error) {
		if _, authErr := guardIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListServices(ctx, input.Active)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ServiceResponse `json:"body"`
		}{Body: mapServices(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "service-shifts",
		Method:      http.MethodGet,
		Path:        "/services/{service_id}/shifts",
		Summary:     "Shifts for a service",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ServiceID string `path:"service_id"`
		StartDate string `query:"start_date"`
		EndDate   string `query:"end_date"`
	}) (*struct {
		Body []ShiftResponse `json:"body"`
	}, error) {
		if _, authErr := guardIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ShiftsByService(ctx, input.ServiceID, input.StartDate, input.EndDate)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ShiftResponse `json:"body"`
		}{Body: mapShifts(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "service-shift-stats",
		Method:      http.MethodGet,
		Path:        "/services/{service_id}/shifts/stats",
		Summary:     "Per-status shift stats for a service",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ServiceID string `path:"service_id"`
		StartDate string `query:"start_date"`
		EndDate   string `query:"end_date"`
	}) (*struct {
		Body []ShiftStatsResponse `json:"body"`
	}, error) {
		if _, authErr := guardIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ShiftStats(ctx, input.ServiceID, input.StartDate, input.EndDate)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ShiftStatsResponse `json:"body"`
		}{Body: mapStats(items)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ServiceID  string `query:"service_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:",shift,guard,service"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if _, authErr := guardIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEventsFrom(ctx, input.Limit, cursorID, input.ServiceID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(items)}, nil
	})
}

func registerConfig(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-config",
		Method:      http.MethodGet,
		Path:        "/config",
		Summary:     "Get deployment config",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body DeployConfigResponse `json:"body"`
	}, error) {
		if _, authErr := guardIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		cfg, err := e.Repo.GetDeployConfig(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DeployConfigResponse `json:"body"`
		}{Body: configResponse(cfg)}, nil
	})
}

type DevLoginRequest struct {
	GuardID string   `json:"guard_id"`
	Roles   []string `json:"roles,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func registerDevAuth(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		guardID := strings.TrimSpace(input.Body.GuardID)
		if guardID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "guard_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, guardID, input.Body.Roles)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func signDevToken(secret, guardID string, roles []string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	now := time.Now()
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   guardID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
		},
		Roles: roles,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}
