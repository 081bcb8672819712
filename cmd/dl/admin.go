package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dossierline/internal/app"
	"dossierline/internal/config"
	"dossierline/internal/domain"
	"dossierline/internal/engine"
	"dossierline/internal/repo"
	"dossierline/internal/server"
)

func userCmd() *cobra.Command {
	u := &cobra.Command{Use: "user", Short: "Manage users"}
	u.AddCommand(userCreateCmd())
	u.AddCommand(userListCmd())
	u.AddCommand(userRolesCmd())
	u.AddCommand(userUseCmd())
	u.AddCommand(userAPIKeyCmd())
	return u
}

func userCreateCmd() *cobra.Command {
	var in engine.UserInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.CreateUser(ctx, in, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&in.ID, "id", "", "user id (generated when empty)")
	cmd.Flags().StringVar(&in.Name, "name", "", "display name")
	cmd.Flags().StringVar(&in.Email, "email", "", "email")
	cmd.Flags().StringSliceVar(&in.Roles, "role", nil, "role, repeatable")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				users, err := e.ListUsers(ctx, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Email", "Roles"})
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Name, u.Email, strings.Join(u.Roles, ", ")})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func userRolesCmd() *cobra.Command {
	var roles []string
	cmd := &cobra.Command{
		Use:   "roles <user-id>",
		Short: "Replace a user's roles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.SetUserRoles(ctx, args[0], roles, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role, repeatable")
	return cmd
}

func userUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <user-id>",
		Short: "Act as this user in this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := strings.TrimSpace(args[0])
			if userID == "" {
				return fmt.Errorf("user id is required")
			}
			workspace := viper.GetString("workspace")
			if err := setEnvValue(filepath.Join(workspace, ".env"), "DOSSIERLINE_USER_ID", userID); err != nil {
				return err
			}
			fmt.Printf("Set DOSSIERLINE_USER_ID=%s in %s/.env\n", userID, workspace)
			return nil
		},
	}
}

func userAPIKeyCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "api-key <user-id>",
		Short: "Issue an API key (shown once)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				plain, key, err := e.CreateAPIKey(ctx, args[0], name, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"id": key.ID, "user_id": key.UserID, "key": plain})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "label for the key")
	return cmd
}

func rbacCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rbac",
		Short: "RBAC management",
	}
	cmd.AddCommand(rbacWhoamiCmd())
	cmd.AddCommand(rbacGrantCmd())
	cmd.AddCommand(rbacRevokeCmd())
	cmd.AddCommand(rbacBootstrapCmd())
	return cmd
}

func rbacWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show current user roles and permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				who, err := e.WhoAmI(ctx, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(who)
			})
		},
	}
}

func rbacGrantCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "grant-role",
		Short: "Grant role to user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.GrantRole(ctx, target, role, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&target, "user", "", "user id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func rbacRevokeCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "revoke-role",
		Short: "Revoke role from user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.RevokeRole(ctx, target, role, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&target, "user", "", "user id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func rbacBootstrapCmd() *cobra.Command {
	var target, name string
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Create an admin user without RBAC checks (first run only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" {
				target = actorID()
			}
			if name == "" {
				name = target
			}
			a, err := app.Open(cmd.Context(), app.Options{
				Workspace: viper.GetString("workspace"),
				Driver:    viper.GetString("storage-driver"),
				DSN:       viper.GetString("storage-dsn"),
				AdminID:   target,
				AdminName: name,
				Logger:    logger(),
			})
			if err != nil {
				return err
			}
			defer a.Close()
			fmt.Printf("%s is admin\n", target)
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "user", "", "user id (defaults to --user-id)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Workspace config",
		Long:  "dossierline.yml holds storage, billable categories, VAT, cache, notification and role settings.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var office string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default dossierline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(office)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&office, "office", "", "office name")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return printJSONOrTable(a.Config)
			})
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate dossierline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every change to dossiers, quotes, teams, time entries and users.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	var follow bool
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if follow {
					return followEvents(ctx, e, interval)
				}
				events, err := e.ListEvents(ctx, f, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.LeadID, "lead", "", "lead id")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream new events until interrupted")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "poll interval with --follow")
	return cmd
}

// followEvents prints one JSON line per new event.
func followEvents(ctx context.Context, e engine.Engine, interval time.Duration) error {
	_, cursor, err := e.EventsAfter(ctx, 0, 0, true, actorID())
	if err != nil {
		return err
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	enc := json.NewEncoder(os.Stdout)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		var evts []domain.Event
		evts, cursor, err = e.EventsAfter(ctx, cursor, 100, false, actorID())
		if err != nil {
			return err
		}
		for _, ev := range evts {
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var legacy, devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger()
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				authCfg := server.AuthConfig{
					JWTSecret:              viper.GetString("jwt-secret"),
					AllowLegacyActorHeader: legacy,
					EnableDevLogin:         devLogin,
					Logger:                 log,
				}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("DOSSIERLINE_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{
					Engine:   a.Engine,
					BasePath: basePath,
					Auth:     authCfg,
					Metrics:  a.Metrics,
					Logger:   log,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				log.Info("serving dossierline API", "addr", addr, "base_path", basePath, "docs", "/docs", "metrics", "/metrics")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&legacy, "allow-actor-header", false, "accept unauthenticated X-Actor-Id (development only)")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST /auth/dev/login to mint tokens without credentials (development only)")
	return cmd
}
