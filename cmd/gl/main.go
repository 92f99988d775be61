package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gateline/internal/app"
	"gateline/internal/config"
	"gateline/internal/db"
	"gateline/internal/domain"
	"gateline/internal/engine"
	"gateline/internal/engine/auth"
	"gateline/internal/repo"
	"gateline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "gl",
	Short: "Gateline CLI",
	Long: `Gateline runs interior design projects through a fixed, stage-gated pipeline.
- Workspace: a .gateline directory holding the SQLite database; the config is stored in it and imported explicitly.
- Project: one client job with ten stages, from finance confirmation to handover to execution.
- Stages: locked -> in_progress -> completed. A stage closes only when its gate passes, which unlocks the next one.
- Gates: site visit logs, measurement packages, QS validation, discipline signoffs, submitted deliverables and handover signatures.
- Tasks: deliverables inside a stage; submitting scores them against their due date.
- Requisitions: material requests approved by procurement, the project manager and the quantity surveyor.
- Event log: every change is recorded, view with 'gl log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogger()
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
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func initConfig() {
	viper.SetEnvPrefix("GATELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("config", "", "config file used to seed a new workspace")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	for _, name := range []string{"workspace", "json", "actor-id", "config", "log-level"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(stageCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(requisitionCmd())
	rootCmd.AddCommand(handoverCmd())
	rootCmd.AddCommand(rbacCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(dashboardCmd())
	rootCmd.AddCommand(serveCmd())
}

func setupLogger() {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelWarn
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// exitCode distinguishes refusals a script can react to from hard failures.
func exitCode(err error) int {
	switch engine.KindOf(err) {
	case engine.KindGateNotSatisfied:
		return 3
	case engine.KindUnauthorized:
		return 4
	case engine.KindNotFound:
		return 5
	}
	return 1
}

func initCmd() *cobra.Command {
	var writeConfig bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the workspace database and seed its config",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if writeConfig {
				path := config.Path(workspace)
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists", path)
				}
				if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if viper.GetBool("json") {
					return printJSON(map[string]any{"workspace": workspace, "database": db.Path(workspace)})
				}
				fmt.Printf("Workspace ready at %s\n", db.Path(workspace))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&writeConfig, "write-config", false, "write the default gateline.yml before seeding")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config is the rulebook stored in the database: first actionable stage, task templates, triggers, approval order and roles. Import from gateline.yml to change it.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configImportCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if viper.GetBool("json") {
					return printJSON(e.Config)
				}
				out, err := e.Config.Marshal()
				if err != nil {
					return err
				}
				fmt.Print(string(out))
				return nil
			})
		},
	}
}

func configValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate stored config or a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if file != "" {
				_, err = config.FromFile(file)
			} else {
				err = withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
					return e.Config.Validate()
				})
			}
			if viper.GetBool("json") {
				msg := ""
				if err != nil {
					msg = err.Error()
				}
				return printJSON(map[string]any{"ok": err == nil, "error": msg})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "config file to validate instead of the stored one")
	return cmd
}

func configImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace the stored config (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = config.Path(viper.GetString("workspace"))
			}
			cfg, err := config.FromFile(file)
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				if err := e.ImportConfig(ctx, cfg, actor); err != nil {
					return err
				}
				fmt.Printf("imported %s\n", file)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "config file (defaults to <workspace>/gateline.yml)")
	return cmd
}

func handoverCmd() *cobra.Command {
	h := &cobra.Command{Use: "handover", Short: "Handover to execution"}
	h.AddCommand(&cobra.Command{
		Use:   "sign <project-id>",
		Short: "Sign the handover as design or operations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				res, err := e.SignHandover(ctx, args[0], actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("signed as %s; project %s is %s\n", res.Role, res.Project.ID, res.Project.Status)
				return nil
			})
		},
	})
	return h
}

func rbacCmd() *cobra.Command {
	rbac := &cobra.Command{Use: "rbac", Short: "Roles and API keys"}
	rbac.AddCommand(&cobra.Command{
		Use:   "whoami",
		Short: "Show the current actor's roles and permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				who, err := e.WhoAmI(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(who)
				}
				fmt.Printf("actor: %s\nroles: %s\npermissions: %s\n", who.ActorID, strings.Join(who.Roles, ", "), strings.Join(who.Permissions, ", "))
				return nil
			})
		},
	})
	roleChange := func(use, short string, fn func(engine.Engine, context.Context, string, string, auth.Actor) error) *cobra.Command {
		var target, role string
		cmd := &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
					return fn(e, ctx, target, role, actor)
				})
			},
		}
		cmd.Flags().StringVar(&target, "actor", "", "target actor id")
		cmd.Flags().StringVar(&role, "role", "", "role id")
		_ = cmd.MarkFlagRequired("actor")
		_ = cmd.MarkFlagRequired("role")
		return cmd
	}
	rbac.AddCommand(roleChange("grant", "Grant a role (admin)", engine.Engine.GrantRole))
	rbac.AddCommand(roleChange("revoke", "Revoke a role (admin)", engine.Engine.RevokeRole))
	rbac.AddCommand(&cobra.Command{
		Use:   "bootstrap",
		Short: "Grant admin to the current actor when no admin exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID := viper.GetString("actor-id")
				granted, err := e.Bootstrap(ctx, actorID)
				if err != nil {
					return err
				}
				if !granted {
					return errors.New("an admin already exists; ask them to grant roles")
				}
				fmt.Printf("granted %s to %s\n", engine.AdminRole, actorID)
				return nil
			})
		},
	})
	rbac.AddCommand(apiKeyCmd())
	return rbac
}

func apiKeyCmd() *cobra.Command {
	var owner, name string
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Mint an API key; the key is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				k, err := e.CreateAPIKey(ctx, owner, name, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(k)
				}
				fmt.Printf("api key for %s (id %s):\n%s\n", k.ActorID, k.ID, k.Key)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "for", "", "owner actor id (defaults to the current actor)")
	cmd.Flags().StringVar(&name, "name", "", "key label")

	var listFor string
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				keys, err := e.ListAPIKeys(ctx, listFor, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable(table.Row{"ID", "Owner", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&listFor, "for", "", "owner actor id (admins only)")
	cmd.AddCommand(list, &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				if err := e.RevokeAPIKey(ctx, args[0], actor); err != nil {
					return err
				}
				fmt.Printf("revoked %s\n", args[0])
				return nil
			})
		},
	})
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "TS", "Type", "Entity", "Actor", "Payload"})
				for _, ev := range items {
					tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, ev.EntityKind + ":" + shortID(ev.EntityID), ev.ActorID, ev.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&f.Limit, "n", "n", 20, "number of events")
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project filter")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func dashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Overdue open tasks and team productivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				d, err := e.Dashboard(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				fmt.Printf("At risk as of %s\n", d.AsOf)
				risk := newTable(table.Row{"Task", "Title", "Owner", "Due"})
				for _, t := range d.AtRisk {
					risk.AppendRow(table.Row{shortID(t.ID), t.Title, deref(t.OwnerID), deref(t.DueDate)})
				}
				risk.Render()
				fmt.Printf("\nTeam productivity, last %d days\n", d.WindowDays)
				team := newTable(table.Row{"Actor", "On time %", "Avg score", "Throughput"})
				for _, row := range d.Team {
					team.AppendRow(table.Row{row.ActorID, fmt.Sprintf("%.0f", row.OnTimeRate), fmt.Sprintf("%.1f", row.AvgScore), row.Throughput})
				}
				team.Render()
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowActorHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("GATELINE_JWT_SECRET is required for bearer auth")
			}
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			handler, err := server.New(server.Config{
				Engine:   rt.Engine,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: secret, AllowActorHeader: allowActorHeader},
				Logger:   slog.Default(),
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			slog.Info("serving", "addr", addr, "base_path", basePath)
			fmt.Printf("Serving Gateline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "trust X-Actor-Id without credentials (local use only)")
	return cmd
}

// --- helpers ---

func openRuntime(ctx context.Context) (*app.Runtime, error) {
	return app.Open(ctx, app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigFile: viper.GetString("config"),
		Logger:     slog.Default(),
	})
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt.Engine)
}

// withActor resolves --actor-id to the capabilities of its granted roles.
func withActor(ctx context.Context, fn func(context.Context, engine.Engine, auth.Actor) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		actor, err := e.Actor(ctx, viper.GetString("actor-id"))
		if err != nil {
			return err
		}
		return fn(ctx, e, actor)
	})
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	return tw
}

func printJSONOrText(v any) error {
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

func parseDate(flag, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	d, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		return nil, fmt.Errorf("--%s must be YYYY-MM-DD: %w", flag, err)
	}
	return &d, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
