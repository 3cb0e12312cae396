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
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"agrotasks/internal/app"
	"agrotasks/internal/db"
	"agrotasks/internal/domain"
	"agrotasks/internal/scanner"
	"agrotasks/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "agt",
	Short: "Agrotasks CLI",
	Long: `Agrotasks tracks tasks handed out on a farm and fines for missed deadlines.
Core concepts:
- Workspace: a directory holding agrotasks.yml and the .agrotasks database.
- Employees: people who give and receive tasks. Only confirmed, active employees take part.
- Tasks: pending -> in_progress -> wait_confirm -> completed. The assignee accepts or rejects,
  may delegate or extend the deadline, and reports the work; the assigner confirms or returns it.
- Scanner: a daily sweep that marks late tasks overdue and issues a fine for each.
- Fines: pending until an administrator confirms or cancels them.
- Event log: every change, view with 'agt log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		logger, err := newLogger()
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
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
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("AGROTASKS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	// .env in the workspace supplies secrets such as AGROTASKS_JWT_SECRET.
	if err := godotenv.Load(envPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "warning: read .env:", err)
	}
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("config", "", "config file (default <workspace>/agrotasks.yml)")
	flags.String("db", "", "database file (default <workspace>/.agrotasks/agrotasks.db)")
	flags.Bool("json", false, "output JSON")
	flags.Int64("actor-id", 0, "id of the employee issuing the command")
	flags.String("log-format", "text", "log format: text or json")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	for _, name := range []string{"workspace", "config", "db", "json", "actor-id", "log-format", "log-level"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(employeeCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(fineCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(authCmd())
	rootCmd.AddCommand(serveCmd())
}

func newLogger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		return nil, fmt.Errorf("--log-level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch viper.GetString("log-format") {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("--log-format must be text or json")
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var actorHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the deadline scanner",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" && !actorHeader {
				return fmt.Errorf("AGROTASKS_JWT_SECRET is required for bearer auth; run agt auth init")
			}
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				handler, err := server.New(server.Config{
					Engine:     a.Engine,
					Scanner:    a.Scanner,
					Translator: a.Translator,
					Gatherer:   a.Registry,
					BasePath:   basePath,
					Auth:       server.AuthConfig{JWTSecret: secret, AllowActorHeader: actorHeader},
					Logger:     a.Logger,
				})
				if err != nil {
					return err
				}
				sched, err := scanner.NewScheduler(a.Scanner)
				if errors.Is(err, scanner.ErrDisabled) {
					a.Logger.Warn("deadline scanner disabled")
				} else if err != nil {
					return err
				}

				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					a.Logger.Info("serving agrotasks API", "addr", addr, "base_path", basePath,
						"openapi", filepath.ToSlash(filepath.Join(basePath, "openapi.json")), "docs", "/docs")
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
				if sched != nil {
					g.Go(func() error { return sched.Run(gctx) })
				}
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&actorHeader, "dev-actor-header", false, "DEV ONLY: trust X-Employee-Id without a token")
	return cmd
}

// --- helpers ---

func envPath() string {
	return filepath.Join(viper.GetString("workspace"), ".env")
}

func withApp(ctx context.Context, quiet bool, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigPath: viper.GetString("config"),
		DBPath:     viper.GetString("db"),
		Logger:     slog.Default(),
		Quiet:      quiet,
	})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func actorID() (int64, error) {
	id := viper.GetInt64("actor-id")
	if id <= 0 {
		return 0, fmt.Errorf("--actor-id (or AGROTASKS_ACTOR_ID) is required")
	}
	return id, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func parseDate(flag, s string) (time.Time, error) {
	d, err := domain.ParseDate(strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s must be YYYY-MM-DD: %w", flag, err)
	}
	return d, nil
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
