package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"agrotasks/internal/app"
	"agrotasks/internal/config"
	"agrotasks/internal/domain"
	"agrotasks/internal/engine"
	"agrotasks/internal/repo"
	"agrotasks/internal/server"
)

func employeeCmd() *cobra.Command {
	emp := &cobra.Command{
		Use:   "employee",
		Short: "Manage the employee directory",
		Long:  "Employees must be confirmed and active to give or receive tasks. Administrators manage fines and may act on any task as assigner.",
	}
	emp.AddCommand(employeeAddCmd())
	emp.AddCommand(employeeFlagCmd("confirm", "Confirm and activate an employee", func(ctx context.Context, e engine.Engine, id int64) (domain.Employee, error) {
		return e.ConfirmEmployee(ctx, id)
	}))
	emp.AddCommand(employeeFlagCmd("deactivate", "Deactivate an employee", func(ctx context.Context, e engine.Engine, id int64) (domain.Employee, error) {
		return e.DeactivateEmployee(ctx, id)
	}))
	emp.AddCommand(employeeListCmd())
	emp.AddCommand(employeeBootstrapCmd())
	return emp
}

func employeeAddCmd() *cobra.Command {
	var name string
	var confirmed, admin bool
	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Register an employee",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				emp, err := a.Engine.AddEmployee(ctx, domain.Employee{ID: id, FullName: name})
				if err != nil {
					return err
				}
				if confirmed || admin {
					flags := repo.EmployeeFlags{}
					if confirmed {
						flags.Confirmed, flags.Active = &confirmed, &confirmed
					}
					if admin {
						flags.Admin = &admin
					}
					if emp, err = a.Engine.UpdateEmployee(ctx, id, flags); err != nil {
						return err
					}
				}
				return printJSONOrTable(emp)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "full name")
	cmd.Flags().BoolVar(&confirmed, "confirmed", false, "confirm and activate right away")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant administrator rights")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func employeeFlagCmd(use, short string, fn func(context.Context, engine.Engine, int64) (domain.Employee, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				emp, err := fn(ctx, a.Engine, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(emp)
			})
		},
	}
}

func employeeListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List employees",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				emps, err := a.Engine.ListEmployees(ctx)
				if err != nil {
					return err
				}
				return printEmployees(emps)
			})
		},
	}
}

func employeeBootstrapCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "bootstrap <id>",
		Short: "Make sure an employee exists as an administrator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				emp, err := a.Bootstrap(ctx, id, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(emp)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "Administrator", "full name used when the employee is new")
	return cmd
}

func fineCmd() *cobra.Command {
	fine := &cobra.Command{
		Use:   "fine",
		Short: "Manage fines",
		Long:  "Fines are issued by the deadline scanner or by administrators and stay pending until an administrator confirms or cancels them.",
	}
	fine.AddCommand(fineListCmd())
	fine.AddCommand(fineAddCmd())
	fine.AddCommand(fineResolveCmd("confirm", "Confirm a pending fine", func(ctx context.Context, e engine.Engine, id, actor int64) (domain.Fine, error) {
		return e.ConfirmFine(ctx, id, actor)
	}))
	fine.AddCommand(fineResolveCmd("cancel", "Cancel a pending fine", func(ctx context.Context, e engine.Engine, id, actor int64) (domain.Fine, error) {
		return e.CancelFine(ctx, id, actor)
	}))
	return fine
}

func fineListCmd() *cobra.Command {
	var f repo.FineFilters
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List fines",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Status = domain.FineStatus(status)
			if status != "" && !f.Status.Valid() {
				return fmt.Errorf("unknown fine status %q", status)
			}
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				fines, err := a.Engine.ListFines(ctx, f)
				if err != nil {
					return err
				}
				return printFines(fines)
			})
		},
	}
	cmd.Flags().Int64Var(&f.UserID, "user", 0, "employee filter")
	cmd.Flags().Int64Var(&f.TaskID, "task", 0, "task filter")
	cmd.Flags().StringVar(&status, "status", "", "pending, confirmed or canceled")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum number of fines")
	return cmd
}

func fineAddCmd() *cobra.Command {
	var opts engine.FineOptions
	var amount string
	var taskID int64
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Issue a fine (administrators only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			opts.ActorID = actor
			if opts.Amount, err = engine.ParseAmount(amount); err != nil {
				return err
			}
			if taskID != 0 {
				opts.TaskID = &taskID
			}
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				fine, err := a.Engine.AddFine(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(fine)
			})
		},
	}
	cmd.Flags().Int64Var(&opts.UserID, "user", 0, "fined employee id")
	cmd.Flags().StringVar(&amount, "amount", "", "amount, e.g. 1000 or 250.50")
	cmd.Flags().StringVar(&opts.Reason, "reason", "", "reason")
	cmd.Flags().Int64Var(&taskID, "task", 0, "related task id")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func fineResolveCmd(use, short string, fn func(context.Context, engine.Engine, int64, int64) (domain.Fine, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				fine, err := fn(ctx, a.Engine, id, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(fine)
			})
		},
	}
}

func printFines(fines []domain.Fine) error {
	if viper.GetBool("json") {
		if fines == nil {
			fines = []domain.Fine{}
		}
		return printJSON(fines)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Employee", "Amount", "Status", "Task", "Reason", "Created"})
	for _, f := range fines {
		task := ""
		if f.TaskID != nil {
			task = fmt.Sprint(*f.TaskID)
		}
		tw.AppendRow(table.Row{f.ID, f.UserID, f.Amount.StringFixed(2), f.Status, task, f.Reason, f.CreatedAt.Format(time.DateOnly)})
	}
	tw.Render()
	return nil
}

func sweepCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue tasks and issue fines now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				day := a.Engine.Today()
				if date != "" {
					d, err := parseDate("date", date)
					if err != nil {
						return err
					}
					day = d
				}
				expired, err := a.Scanner.Sweep(ctx, day)
				if err != nil {
					return err
				}
				if expired == nil {
					expired = []int64{}
				}
				return printJSONOrTable(map[string]any{"date": day.Format(domain.DateLayout), "expired": expired})
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "sweep as of this date (YYYY-MM-DD), today by default")
	return cmd
}

func statsCmd() *cobra.Command {
	var month string
	cmd := &cobra.Command{
		Use:   "stats <employee-id>",
		Short: "Monthly statistics and rating of an employee",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				day := a.Engine.Today()
				if month != "" {
					if day, err = time.Parse("2006-01", month); err != nil {
						return fmt.Errorf("--month must be YYYY-MM: %w", err)
					}
				}
				stats, err := a.Engine.MonthStats(ctx, id, day)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(stats)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.SetTitle(fmt.Sprintf("Employee %d, %s", stats.UserID, stats.Period))
				tw.AppendHeader(table.Row{"Metric", "Value"})
				tw.AppendRow(table.Row{"tasks", stats.Total})
				for _, s := range domain.Statuses {
					tw.AppendRow(table.Row{string(s), stats.ByStatus[s]})
				}
				tw.AppendRow(table.Row{"confirmed fines", stats.FinesTotal.StringFixed(2)})
				tw.AppendFooter(table.Row{"rating", stats.Rating})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&month, "month", "", "month (YYYY-MM), current month by default")
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "log",
		Short: "Inspect the event log",
	}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				events, err := a.Engine.Events(ctx, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().Int64Var(&f.TaskID, "task", 0, "task filter")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "agrotasks.yml sets the timezone, locale, penalty amount and grace days, the scanner schedule and notification sinks.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default agrotasks.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func loadConfig() (*config.Config, error) {
	if path := viper.GetString("config"); path != "" {
		return config.FromFile(path)
	}
	return config.LoadOptional(viper.GetString("workspace"))
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
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

func authCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "auth",
		Short: "Manage API credentials",
	}
	a.AddCommand(authInitCmd())
	a.AddCommand(authTokenCmd())
	return a
}

const jwtSecretKey = "AGROTASKS_JWT_SECRET"

func authInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a JWT secret into the workspace .env",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := envPath()
			env, err := godotenv.Read(path)
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if env == nil {
				env = map[string]string{}
			}
			if env[jwtSecretKey] != "" && !force {
				return fmt.Errorf("%s already set in %s; use --force to rotate", jwtSecretKey, path)
			}
			env[jwtSecretKey] = uuid.NewString() + uuid.NewString()
			if err := godotenv.Write(env, path); err != nil {
				return err
			}
			fmt.Println("wrote", jwtSecretKey, "to", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing secret")
	return cmd
}

func authTokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <employee-id>",
		Short: "Issue a bearer token for an employee",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			token, err := server.IssueToken(viper.GetString("jwt-secret"), id, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime, 0 for none")
	return cmd
}
