package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"guardline/internal/app"
	"guardline/internal/config"
	"guardline/internal/db"
	"guardline/internal/domain"
	"guardline/internal/engine"
	"guardline/internal/migrate"
	"guardline/internal/repo"
	"guardline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "gl",
	Short: "Guardline CLI",
	Long: `Guardline runs the shift lifecycle for residential security services.
Core concepts:
- Workspace: your .guardline directory holding the database; the deployment
  config lives in the DB and is imported explicitly.
- Services: the posts guards cover (one per residential community).
- Shifts: scheduled work periods. A guard checks in at the biometric device
  around the scheduled start, then confirms from the app within the start
  window. Shifts flow scheduled -> biometric_registered -> active ->
  completed, with breaks and patrol rounds tracked in between. Shifts that
  miss their window end up missed.
- Event log: diary of every transition, view with 'gl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("GUARDLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("guard-id", "", "guard acting on their own shift (defaults to actor-id)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("guard-id", rootCmd.PersistentFlags().Lookup("guard-id"))
}

func registerCommands() {
	rootCmd.AddCommand(guardCmd())
	rootCmd.AddCommand(serviceCmd())
	rootCmd.AddCommand(shiftCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func actingGuardID() string {
	if id := strings.TrimSpace(viper.GetString("guard-id")); id != "" {
		return id
	}
	return viper.GetString("actor-id")
}

func guardCmd() *cobra.Command {
	g := &cobra.Command{Use: "guard", Short: "Manage guards"}
	g.AddCommand(guardCreateCmd())
	g.AddCommand(guardListCmd())
	g.AddCommand(guardShowCmd())
	return g
}

func guardCreateCmd() *cobra.Command {
	var g domain.Guard
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a guard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.CreateGuard(ctx, g, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&g.ID, "id", "", "guard id (UUID if omitted)")
	cmd.Flags().StringVar(&g.Username, "username", "", "username")
	cmd.Flags().StringVar(&g.Email, "email", "", "email")
	cmd.Flags().StringVar(&g.Role, "role", "", "role (defaults to the configured guard role)")
	cmd.Flags().StringVar(&g.ServiceCode, "service-code", "", "single assigned service code")
	cmd.Flags().StringArrayVar(&g.ServiceCodes, "service-codes", []string{}, "assigned service code (repeatable)")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func guardListCmd() *cobra.Command {
	var role string
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List guards",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListGuards(ctx, role, activeOnly)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Username", "Role", "Services", "Active"})
				for _, g := range items {
					services := g.ServiceCode
					if len(g.ServiceCodes) > 0 {
						services = strings.Join(g.ServiceCodes, ",")
					}
					tw.AppendRow(table.Row{g.ID, g.Username, g.Role, services, g.Active})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role filter")
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active guards")
	return cmd
}

func guardShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a guard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.Repo.GetGuard(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	return cmd
}

func serviceCmd() *cobra.Command {
	s := &cobra.Command{Use: "service", Short: "Manage services"}
	s.AddCommand(serviceCreateCmd())
	s.AddCommand(serviceListCmd())
	s.AddCommand(serviceShiftsCmd())
	s.AddCommand(serviceStatsCmd())
	return s
}

func serviceCreateCmd() *cobra.Command {
	var svc domain.Service
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.CreateService(ctx, svc, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&svc.ID, "id", "", "service id (UUID if omitted)")
	cmd.Flags().StringVar(&svc.Code, "code", "", "service code")
	cmd.Flags().StringVar(&svc.Name, "name", "", "name")
	cmd.Flags().StringVar(&svc.DisplayName, "display-name", "", "display name")
	_ = cmd.MarkFlagRequired("code")
	return cmd
}

func serviceListCmd() *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List services",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListServices(ctx, activeOnly)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active services")
	return cmd
}

func serviceShiftsCmd() *cobra.Command {
	var startDate, endDate string
	cmd := &cobra.Command{
		Use:   "shifts <service-id>",
		Short: "List shifts for a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serviceID := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ShiftsByService(ctx, serviceID, startDate, endDate)
				if err != nil {
					return err
				}
				return printShifts(items)
			})
		},
	}
	cmd.Flags().StringVar(&startDate, "start-date", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endDate, "end-date", "", "end date (YYYY-MM-DD)")
	return cmd
}

func serviceStatsCmd() *cobra.Command {
	var startDate, endDate string
	cmd := &cobra.Command{
		Use:   "stats <service-id>",
		Short: "Per-status shift stats for a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serviceID := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ShiftStats(ctx, serviceID, startDate, endDate)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Status", "Count", "Worked", "Break", "Patrol"})
				for _, st := range items {
					tw.AppendRow(table.Row{st.Status, st.Count, st.TotalWorkedMinutes, st.TotalBreakMinutes, st.TotalPatrolMinutes})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&startDate, "start-date", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endDate, "end-date", "", "end date (YYYY-MM-DD)")
	return cmd
}

func shiftCmd() *cobra.Command {
	sh := &cobra.Command{
		Use:   "shift",
		Short: "Drive the shift lifecycle",
		Long:  "Shifts flow scheduled -> biometric_registered -> active -> completed. Break and patrol rounds pause the active state and credit minute totals.",
	}
	sh.AddCommand(shiftScheduleCmd())
	sh.AddCommand(shiftBiometricCmd())
	sh.AddCommand(shiftStartCmd())
	sh.AddCommand(shiftBreakCmd())
	sh.AddCommand(shiftPatrolCmd())
	sh.AddCommand(shiftEndCmd())
	sh.AddCommand(shiftActiveCmd())
	sh.AddCommand(shiftListCmd())
	sh.AddCommand(shiftShowCmd())
	sh.AddCommand(shiftServicesCmd())
	sh.AddCommand(shiftExpireCmd())
	return sh
}

func shiftScheduleCmd() *cobra.Command {
	var opts engine.ShiftScheduleOptions
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Schedule a shift",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.ScheduleShift(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "shift id (UUID if omitted)")
	cmd.Flags().StringVar(&opts.GuardID, "guard", "", "guard id")
	cmd.Flags().StringVar(&opts.ServiceID, "service", "", "service id")
	cmd.Flags().StringVar(&opts.ScheduledStart, "start", "", "scheduled start (RFC 3339)")
	cmd.Flags().StringVar(&opts.ScheduledEnd, "end", "", "scheduled end (RFC 3339)")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "notes")
	_ = cmd.MarkFlagRequired("guard")
	_ = cmd.MarkFlagRequired("service")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func shiftBiometricCmd() *cobra.Command {
	var timestamp string
	cmd := &cobra.Command{
		Use:   "biometric",
		Short: "Register the guard's biometric check-in",
		RunE: func(cmd *cobra.Command, args []string) error {
			var at *time.Time
			if timestamp != "" {
				parsed, err := time.Parse(time.RFC3339, timestamp)
				if err != nil {
					return fmt.Errorf("invalid --timestamp: %w", err)
				}
				at = &parsed
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.RegisterBiometricEntry(ctx, actingGuardID(), at, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&timestamp, "timestamp", "", "device entry time (RFC 3339, defaults to now)")
	return cmd
}

func shiftStartCmd() *cobra.Command {
	var serviceID string
	var lat, lng float64
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Confirm shift start from the app",
		RunE: func(cmd *cobra.Command, args []string) error {
			var loc *domain.Location
			if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lng") {
				loc = &domain.Location{Latitude: lat, Longitude: lng}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.StartShiftInApp(ctx, actingGuardID(), serviceID, loc, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&serviceID, "service", "", "service id shown in the app")
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "longitude")
	_ = cmd.MarkFlagRequired("service")
	return cmd
}

type shiftActionFn func(e engine.Engine) func(context.Context, string, string, *domain.Location, string) (domain.Shift, error)

func shiftActionCmd(use, short string, pick shiftActionFn) *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := pick(e)(ctx, actingGuardID(), notes, nil, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	return cmd
}

func shiftBreakCmd() *cobra.Command {
	br := &cobra.Command{Use: "break", Short: "Break tracking"}
	br.AddCommand(shiftActionCmd("start", "Start a break", func(e engine.Engine) func(context.Context, string, string, *domain.Location, string) (domain.Shift, error) {
		return e.StartBreak
	}))
	br.AddCommand(shiftActionCmd("end", "End the break", func(e engine.Engine) func(context.Context, string, string, *domain.Location, string) (domain.Shift, error) {
		return e.EndBreak
	}))
	return br
}

func shiftPatrolCmd() *cobra.Command {
	p := &cobra.Command{Use: "patrol", Short: "Patrol round tracking"}
	p.AddCommand(shiftActionCmd("start", "Start a patrol round", func(e engine.Engine) func(context.Context, string, string, *domain.Location, string) (domain.Shift, error) {
		return e.StartPatrol
	}))
	p.AddCommand(shiftActionCmd("end", "End the patrol round", func(e engine.Engine) func(context.Context, string, string, *domain.Location, string) (domain.Shift, error) {
		return e.EndPatrol
	}))
	return p
}

func shiftEndCmd() *cobra.Command {
	return shiftActionCmd("end", "Complete the shift", func(e engine.Engine) func(context.Context, string, string, *domain.Location, string) (domain.Shift, error) {
		return e.EndShift
	})
}

func shiftActiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "active",
		Short: "Show the guard's current started shift",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.ActiveShift(ctx, actingGuardID())
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func shiftListCmd() *cobra.Command {
	var f repo.ShiftFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List shifts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListShifts(ctx, f)
				if err != nil {
					return err
				}
				return printShifts(items)
			})
		},
	}
	cmd.Flags().StringVar(&f.GuardID, "guard", "", "guard filter")
	cmd.Flags().StringVar(&f.ServiceID, "service", "", "service filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.StartDate, "start-date", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.EndDate, "end-date", "", "end date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func shiftShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a shift with its activities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.Repo.GetShift(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func shiftServicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "services",
		Short: "Services the guard can check in to",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.AvailableServices(ctx, actingGuardID())
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func shiftExpireCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Mark scheduled shifts past their check-in window as missed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.ExpireScheduledShifts(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"expired": n})
				}
				fmt.Printf("expired %d shift(s)\n", n)
				return nil
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	ak := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	ak.AddCommand(apikeyCreateCmd())
	ak.AddCommand(apikeyListCmd())
	ak.AddCommand(apikeyDeleteCmd())
	return ak
}

func apikeyCreateCmd() *cobra.Command {
	var name, actor string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (secret printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			raw := make([]byte, 32)
			if _, err := rand.Read(raw); err != nil {
				return err
			}
			secret := "glk_" + hex.EncodeToString(raw)
			key := domain.APIKey{
				ID:        uuid.New().String(),
				ActorID:   actor,
				Name:      name,
				KeyHash:   repo.HashAPIKey(secret),
				CreatedAt: time.Now().UTC().Format(time.RFC3339),
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "actor_id": key.ActorID, "name": key.Name, "key": secret})
				}
				fmt.Printf("id: %s\nkey: %s\n", key.ID, secret)
				fmt.Println("store the key now; only the hash is kept")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name")
	cmd.Flags().StringVar(&actor, "actor", "", "actor the key maps to (defaults to actor-id)")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor filter")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect deployment config",
		Long:  "Config is the deployment rulebook stored in the DB: name, timezone, check-in windows, and role mapping. Import from guardline.yml if desired.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show deployment config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import deployment config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.UpsertDeployConfig(ctx, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configInitCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default guardline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(name)), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "guardline", "deployment name")
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: scheduled shifts, check-ins, breaks, patrols, completions.",
	}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var serviceID, evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, serviceID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&serviceID, "service", "", "service filter")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin, legacyHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			cfg, err := app.ResolveConfig(cmd.Context(), workspace, "", r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("GUARDLINE_JWT_SECRET"),
				EnableDevLogin:         devLogin,
				AllowLegacyGuardHeader: legacyHeader,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("GUARDLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Guardline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable POST /auth/dev/login (dev only)")
	cmd.Flags().BoolVar(&legacyHeader, "allow-legacy-guard-header", false, "accept X-Guard-Id without auth (dev only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	cfg, err := app.ResolveConfig(ctx, workspace, "", r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
}

func printShifts(items []domain.Shift) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Guard", "Service", "Date", "Status", "Worked", "Break", "Patrol"})
	for _, s := range items {
		tw.AppendRow(table.Row{s.ID, s.GuardID, s.ServiceID, s.ShiftDate, s.Status, s.TotalWorkedMinutes, s.TotalBreakMinutes, s.TotalPatrolMinutes})
	}
	tw.Render()
	return nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
