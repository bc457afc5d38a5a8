// Command medtrack runs the medication adherence backend.
//
//	medtrack serve            HTTP API plus the background sweeper
//	medtrack sweep            one missed-dose sweep, then exit
//	medtrack migrate          create or update the SQLite schema
//	medtrack doses today      print a profile's doses for today
//	medtrack doses take       record a dose from the command line
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/tbourn/medtrack-backend/internal/config"
	httpapi "github.com/tbourn/medtrack-backend/internal/http"
	"github.com/tbourn/medtrack-backend/internal/observability"
	"github.com/tbourn/medtrack-backend/internal/repo"
	"github.com/tbourn/medtrack-backend/internal/services"
	"github.com/tbourn/medtrack-backend/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	dbPath string
	pretty bool
}

func rootCmd() *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:           "medtrack",
		Short:         "Medication adherence backend",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&g.dbPath, "db", "", "SQLite path (overrides DB_PATH)")
	root.PersistentFlags().BoolVar(&g.pretty, "pretty", false, "human-readable logs (overrides LOG_PRETTY)")

	root.AddCommand(serveCmd(&g))
	root.AddCommand(sweepCmd(&g))
	root.AddCommand(migrateCmd(&g))
	root.AddCommand(dosesCmd(&g))
	return root
}

// runtimeEnv is what every command needs: config, logger and an open,
// migrated database.
type runtimeEnv struct {
	cfg config.Config
	log *zerolog.Logger
	db  *gorm.DB
}

// setup loads config, installs the logger and opens the database. The
// returned close func releases the database handle.
func setup(cmd *cobra.Command, g *globalFlags, migrate bool) (*runtimeEnv, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	cfg.DBPath = sysutil.FirstNonEmpty(g.dbPath, cfg.DBPath)

	lg := sysutil.NewLogger(cmd.ErrOrStderr(), sysutil.LogOptions{
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty || g.pretty,
		NoColor: sysutil.IsTruthy(os.Getenv("NO_COLOR")),
		Command: cmd.Name(),
	})

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", cfg.DBPath, err)
	}
	closeDB := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if migrate {
		if err := repo.AutoMigrate(db); err != nil {
			closeDB()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return &runtimeEnv{cfg: cfg, log: lg, db: db}, closeDB, nil
}

// stack wires the services for env.
func (e *runtimeEnv) stack() *services.Stack {
	return services.NewStack(e.db, httpapi.ProfileRepo{}, services.StackOptions{
		Loc:                 e.cfg.Schedule.Location(),
		Log:                 e.log,
		HealthCacheTTL:      e.cfg.Schedule.HealthCacheTTL,
		AdherenceWindowDays: e.cfg.Schedule.AdherenceWindowDays,
		DispatchMaxAttempts: e.cfg.Schedule.DispatchMaxAttempts,
	})
}

// tracing starts OpenTelemetry for role and returns its shutdown func.
func (e *runtimeEnv) tracing(ctx context.Context, role string) func(context.Context) error {
	shutdown, err := observability.SetupOTel(ctx, e.cfg.OTEL, version, observability.WithRole(role))
	if err != nil {
		e.log.Warn().Err(err).Msg("tracing disabled")
		return func(context.Context) error { return nil }
	}
	return shutdown
}

func migrateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, closeDB, err := setup(cmd, g, true)
			if err != nil {
				return err
			}
			defer closeDB()
			env.log.Info().Str("db", env.cfg.DBPath).Int("models", len(repo.Models())).Msg("schema up to date")
			return nil
		},
	}
}

func sweepCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Record lapsed doses as missed, then exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, closeDB, err := setup(cmd, g, true)
			if err != nil {
				return err
			}
			defer closeDB()

			ctx := cmd.Context()
			shutdown := env.tracing(ctx, "sweep")
			defer func() { _ = shutdown(context.Background()) }()

			res, err := env.stack().Sweeper.Sweep(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated=%d failed=%d orphaned=%d archived=%d notified=%d\n",
				res.Updated, res.Failed, res.Orphaned, res.Archived, res.Notified)
			return nil
		},
	}
}
