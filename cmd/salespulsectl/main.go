package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/salespulse/cmd/salespulsectl/cli"
	"github.com/odyssey-erp/salespulse/internal/app"
	"github.com/odyssey-erp/salespulse/internal/platform/cache"
	"github.com/odyssey-erp/salespulse/internal/platform/db"
	"github.com/odyssey-erp/salespulse/jobs"
	"github.com/odyssey-erp/salespulse/migrations"
)

// exitErr carries a numeric exit code through the cobra error path.
type exitErr struct {
	code int
}

func (e *exitErr) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func exitWith(code int) error {
	if code == cli.ExitOK {
		return nil
	}
	return &exitErr{code: code}
}

// env opens connections on first use so that commands only pay for what
// they touch.
type env struct {
	ctx    context.Context
	cfg    *app.Config
	logger *slog.Logger
	pool   *pgxpool.Pool
	redis  *redis.Client
	svc    *app.Services
}

func (e *env) load() error {
	if e.cfg != nil {
		return nil
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	e.cfg = cfg
	e.logger = app.NewLogger(cfg)
	return nil
}

func (e *env) database() (*pgxpool.Pool, error) {
	if err := e.load(); err != nil {
		return nil, err
	}
	if e.pool == nil {
		pool, err := db.New(e.ctx, e.cfg.PGDSN, db.Options{MaxConns: 2})
		if err != nil {
			return nil, err
		}
		e.pool = pool
	}
	return e.pool, nil
}

func (e *env) services() (*app.Services, error) {
	if e.svc != nil {
		return e.svc, nil
	}
	pool, err := e.database()
	if err != nil {
		return nil, err
	}
	if client, err := cache.New(e.ctx, e.cfg.RedisAddr, 0); err != nil {
		e.logger.Warn("redis unavailable, reports built uncached", slog.Any("error", err))
	} else {
		e.redis = client
	}
	svc, err := app.NewServices(e.cfg, e.logger, pool, e.redis, nil)
	if err != nil {
		return nil, err
	}
	e.svc = svc
	return svc, nil
}

func (e *env) close() {
	if e.svc != nil {
		e.svc.Close()
	}
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.pool != nil {
		e.pool.Close()
	}
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping cli startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e := &env{ctx: ctx}
	root := newRootCommand(e)
	err := root.ExecuteContext(ctx)
	e.close()
	if err != nil {
		var ee *exitErr
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitFailure)
	}
}

func newRootCommand(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:           "salespulsectl",
		Short:         "Operate the SalesPulse order and revenue service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		migrateCommand(e),
		reportCommand(e),
		transitionCommand(e),
		tokenCommand(e),
		jobsCommand(e),
	)
	return root
}

func migrateCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := e.database()
			if err != nil {
				return err
			}
			applied, err := migrations.Apply(cmd.Context(), pool)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", strings.Join(applied, ", "))
			return nil
		},
	}
}

func reportCommand(e *env) *cobra.Command {
	var opts cli.ReportOptions
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print a revenue report as a given viewer sees it",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := e.services()
			if err != nil {
				return err
			}
			c, err := cli.NewReportCLI(svc.Actors, svc.Reports)
			if err != nil {
				return err
			}
			opts.Stdout, opts.Stderr = cmd.OutOrStdout(), cmd.ErrOrStderr()
			return exitWith(c.Command(cmd.Context(), opts))
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.ViewerID, "viewer", "", "Actor id to report as")
	f.StringVar(&opts.Period, "period", "this_month", "Period token")
	f.StringVar(&opts.Policy, "policy", "funnel", "Revenue policy: funnel or completed_only")
	f.BoolVar(&opts.JSONOutput, "json", false, "Emit the full result as JSON")
	f.StringVar(&opts.Lang, "lang", "en", "Locale used to format amounts")
	f.IntVar(&opts.Top, "top", 5, "Rows printed per breakdown")
	return cmd
}

func transitionCommand(e *env) *cobra.Command {
	var opts cli.TransitionOptions
	cmd := &cobra.Command{
		Use:   "transition",
		Short: "Change an order's status on behalf of a viewer",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := e.services()
			if err != nil {
				return err
			}
			c, err := cli.NewTransitionCLI(svc.Actors, svc.Orders)
			if err != nil {
				return err
			}
			opts.Stdout, opts.Stderr = cmd.OutOrStdout(), cmd.ErrOrStderr()
			return exitWith(c.Command(cmd.Context(), opts))
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.ViewerID, "viewer", "", "Actor id performing the change")
	f.Int64Var(&opts.OrderID, "order", 0, "Order id")
	f.StringVar(&opts.Status, "status", "", "Target status")
	f.BoolVar(&opts.JSONOutput, "json", false, "Emit the saved order as JSON")
	return cmd
}

func tokenCommand(e *env) *cobra.Command {
	var opts cli.TokenOptions
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a directory actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := e.services()
			if err != nil {
				return err
			}
			opts.Stdout, opts.Stderr = cmd.OutOrStdout(), cmd.ErrOrStderr()
			return exitWith(cli.IssueToken(cmd.Context(), svc.Actors, svc.Verifier, opts))
		},
	}
	cmd.Flags().StringVar(&opts.ViewerID, "viewer", "", "Actor id")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", time.Hour, "Token lifetime")
	return cmd
}

func jobsCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and trigger background jobs",
	}

	var trigger cli.TriggerOptions
	triggerCmd := &cobra.Command{
		Use:   "trigger <job>",
		Short: "Enqueue a job now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.load(); err != nil {
				return err
			}
			client := jobs.NewClient(asynq.RedisClientOpt{Addr: e.cfg.RedisAddr})
			defer client.Close()
			trigger.Name = args[0]
			trigger.Stdout, trigger.Stderr = cmd.OutOrStdout(), cmd.ErrOrStderr()
			return exitWith(cli.NewJobsCLI(client, nil).Trigger(cmd.Context(), trigger))
		},
	}
	triggerCmd.Flags().StringSliceVar(&trigger.Periods, "period", nil, "Period tokens to warm (repeatable)")
	triggerCmd.Flags().StringSliceVar(&trigger.Policies, "policy", nil, "Policies to warm (repeatable)")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print default queue counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.load(); err != nil {
				return err
			}
			inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: e.cfg.RedisAddr})
			defer inspector.Close()
			c := cli.NewJobsCLI(nil, cli.AsynqInspector{Inspector: inspector})
			return exitWith(c.Stats(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr()))
		},
	}

	cmd.AddCommand(triggerCmd, statsCmd)
	return cmd
}
