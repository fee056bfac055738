package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ehr/codingassist/internal/config"
	"github.com/ehr/codingassist/internal/domain/icd10"
	"github.com/ehr/codingassist/internal/platform/cmsfile"
	"github.com/ehr/codingassist/internal/platform/db"
	"github.com/ehr/codingassist/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "coding-server",
		Short: "ICD-10-CM coding assistant API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(searchCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the coding assistant API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// migrationsFS returns the embedded migrations, or dir when one is given.
func migrationsFS(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := loadDatabaseConfig()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, poolConfig(cfg))
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrationsFS(dir)).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default: embedded migrations)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := loadDatabaseConfig()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, poolConfig(cfg))
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationsFS(dir)).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default: embedded migrations)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printMigrationStatus(cmd *cobra.Command, statuses []db.MigrationStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load a CMS icd10cm_order file into the configured search backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			if file == "" {
				return fmt.Errorf("--file is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			records, err := cmsfile.ReadFile(file)
			if err != nil {
				return err
			}
			fmt.Printf("Parsed %d code(s) from %s\n", len(records), file)

			ctx := context.Background()
			switch cfg.SearchBackend {
			case config.BackendBleve:
				if cfg.BleveIndexPath == "" {
					return fmt.Errorf("BLEVE_INDEX_PATH is required to import into the bleve backend")
				}
				repo, err := icd10.OpenBleveCodeRepo(cfg.BleveIndexPath)
				if err != nil {
					return err
				}
				defer repo.Close()
				if err := repo.IndexRecords(records); err != nil {
					return err
				}
				count, err := repo.DocCount()
				if err != nil {
					return err
				}
				fmt.Printf("Indexed %d code(s) into %s\n", count, cfg.BleveIndexPath)
			default:
				if cfg.DatabaseURL == "" {
					return fmt.Errorf("DATABASE_URL is required")
				}
				pool, err := db.NewPool(ctx, poolConfig(cfg))
				if err != nil {
					return err
				}
				defer pool.Close()
				n, err := icd10.ReplaceCodesPG(ctx, pool, records)
				if err != nil {
					return fmt.Errorf("import failed: %w", err)
				}
				fmt.Printf("Imported %d code(s) into icd10cm_codes\n", n)
			}

			flushed, err := flushSearchCache(ctx, cfg)
			if err != nil {
				return fmt.Errorf("codes imported but search cache not flushed, cached results stay stale until SEARCH_CACHE_TTL: %w", err)
			}
			if cfg.RedisURL != "" {
				fmt.Printf("Flushed %d cached search result(s)\n", flushed)
			}
			return nil
		},
	}
	cmd.Flags().String("file", "", "Path to the CMS icd10cm_order_*.txt file")
	return cmd
}

func searchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run one search through the full pipeline and print the JSON response",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			maxResults, _ := cmd.Flags().GetInt("max")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			// The CLI runs locally and never checks the shared secret.
			if cfg.APISharedSecret == "" {
				cfg.APISharedSecret = "cli"
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := newLogger(cfg)
			ctx := context.Background()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			resp, err := a.svc.HandleSearch(ctx, strings.Join(args, " "), maxResults)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}
	cmd.Flags().Int("max", 0, "Maximum number of database results (default: DEFAULT_MAX_RESULTS)")
	return cmd
}

func loadDatabaseConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func poolConfig(cfg *config.Config) db.PoolConfig {
	return db.PoolConfig{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		ApplicationName: "coding-server",
		ConnectTimeout:  cfg.DBTimeout,
	}
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize")
	}
	defer a.Close()

	e := newEcho(cfg, a, logger)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("backend", cfg.SearchBackend).Bool("ai", cfg.AIEnabled()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
