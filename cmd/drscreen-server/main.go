package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/visionai/drscreen/internal/config"
	"github.com/visionai/drscreen/internal/domain/account"
	"github.com/visionai/drscreen/internal/domain/encounter"
	"github.com/visionai/drscreen/internal/platform/artifact"
	"github.com/visionai/drscreen/internal/platform/db"
	"github.com/visionai/drscreen/internal/platform/pdfreport"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "drscreen-server",
		Short:        "Diabetic retinopathy screening API server",
		SilenceUsage: true,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(regenerateCmd())
	root.AddCommand(auditCmd())
	root.AddCommand(orphansCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// newLogger writes JSON to stdout, or human-readable lines in development.
func newLogger(cfg *config.Config) zerolog.Logger {
	var logger zerolog.Logger
	if cfg != nil && cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	level := zerolog.InfoLevel
	if cfg != nil && cfg.LogLevel != "" {
		if l, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err == nil {
			level = l
		}
	}
	return logger.Level(level)
}

// storage is what every command needs: the database, the artifact store
// and the report compiler.
type storage struct {
	pool       *pgxpool.Pool
	store      *artifact.FSStore
	accounts   account.Repository
	encounters *encounter.Service
	compiler   *pdfreport.Compiler
}

func openStorage(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*storage, error) {
	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		return nil, err
	}
	store, err := artifact.NewFSStore(artifact.Options{
		Root:      cfg.ArtifactRoot,
		RefPrefix: cfg.ArtifactRefPrefix,
	})
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &storage{
		pool:       pool,
		store:      store,
		accounts:   account.NewRepo(pool),
		encounters: encounter.NewService(encounter.NewRepo(pool)),
		compiler:   pdfreport.NewCompiler(store, logger.With().Str("component", "pdfreport").Logger()),
	}, nil
}

func (s *storage) Close() { s.pool.Close() }

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	var dir string
	withMigrator := func(run func(ctx context.Context, m *db.Migrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}
			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: 2})
			if err != nil {
				return err
			}
			defer pool.Close()
			return run(ctx, db.NewMigrator(pool, dir))
		}
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: withMigrator(func(ctx context.Context, m *db.Migrator) error {
			count, err := m.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s).\n", count)
			return nil
		}),
	}
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: withMigrator(func(ctx context.Context, m *db.Migrator) error {
			statuses, err := m.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(os.Stdout, statuses)
			return nil
		}),
	}
	for _, c := range []*cobra.Command{upCmd, statusCmd} {
		c.Flags().StringVar(&dir, "dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
		cmd.AddCommand(c)
	}
	return cmd
}
