package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dossierline/internal/app"
	"dossierline/internal/db"
	"dossierline/internal/engine"
)

var rootCmd = &cobra.Command{
	Use:   "dl",
	Short: "Dossierline CLI",
	Long: `Dossierline tracks client dossiers for an engineering office.
- Lead: one dossier, from intake (Nieuw) through Calculatie, Offerte Verzonden and Opdracht to Archief.
- Quote: line items submitted for approval; every submission is a new version you can diff or roll back to.
- Team: a projectleider, rekenaar and tekenaar per dossier, plus whose turn it is (aan zet).
- Time: logged minutes per user, with billable totals per week.
- Event log: every change, view with 'dl log tail'.`,
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
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	// Workspace .env supplies defaults such as DOSSIERLINE_USER_ID; real env vars win.
	_ = godotenv.Load(filepath.Join(viper.GetString("workspace"), ".env"))
	viper.SetEnvPrefix("DOSSIERLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user-id", "local-admin", "acting user id")
	rootCmd.PersistentFlags().Bool("verbose", false, "debug logging")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func registerCommands() {
	rootCmd.AddCommand(leadCmd())
	rootCmd.AddCommand(quoteCmd())
	rootCmd.AddCommand(teamCmd())
	rootCmd.AddCommand(timeCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(rbacCmd())
}

func actorID() string {
	return strings.TrimSpace(viper.GetString("user-id"))
}

func logger() *slog.Logger {
	level := slog.LevelInfo
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// --- helpers ---

// withApp opens the workspace. The first user to touch a fresh workspace is made admin
// by 'dl rbac bootstrap', not here.
func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		Driver:    viper.GetString("storage-driver"),
		DSN:       viper.GetString("storage-dsn"),
		Logger:    logger(),
	})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		return fn(ctx, a.Engine)
	})
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

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
