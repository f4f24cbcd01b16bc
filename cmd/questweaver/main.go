// Command questweaver runs the narrative turn pipeline: an HTTP server
// exposing the turn endpoint, subject sheets, the event intake, and a
// websocket turn stream, plus maintenance subcommands.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fernwright/questweaver/internal/backup"
	"github.com/fernwright/questweaver/internal/cache"
	"github.com/fernwright/questweaver/internal/combat"
	"github.com/fernwright/questweaver/internal/config"
	"github.com/fernwright/questweaver/internal/llm"
	"github.com/fernwright/questweaver/internal/memory"
	"github.com/fernwright/questweaver/internal/notify"
	"github.com/fernwright/questweaver/internal/orchestrator"
	"github.com/fernwright/questweaver/internal/retrieval"
	"github.com/fernwright/questweaver/internal/server"
	"github.com/fernwright/questweaver/internal/skillcheck"
	"github.com/fernwright/questweaver/internal/storage"
	"github.com/fernwright/questweaver/internal/storage/postgres"
	"github.com/fernwright/questweaver/internal/storage/sqlite"
	"github.com/fernwright/questweaver/internal/validator"
)

var version = "dev"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "questweaver",
		Short: "AI-narrated wellness RPG turn pipeline",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the turn pipeline HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}

	expireCmd := &cobra.Command{
		Use:   "expire",
		Short: "Delete memory records whose TTL has passed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExpire(configPath)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	root.AddCommand(serveCmd, expireCmd, backupCommand(&configPath), versionCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, vectors, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	narrator, err := llm.NewNarrator(cfg.Narrator)
	if err != nil {
		return fmt.Errorf("build narrator: %w", err)
	}
	embedder := llm.NewEmbedder(cfg.Narrator)

	mem := memory.NewService(store, vectors, narrator, embedder, cfg.Memory)
	engine := retrieval.NewEngine(store, vectors, embedder, cfg.Retrieval)
	resolver := skillcheck.NewResolver(store, store, nil)
	machine := combat.NewMachine(store, nil)
	gate := validator.New(cfg.Validator, nil)

	responses, err := cache.New(cfg.Cache, embedder)
	if err != nil {
		return fmt.Errorf("build cache: %w", err)
	}

	turns := orchestrator.New(cfg, orchestrator.Deps{
		Memory:    mem,
		Retrieval: engine,
		Skills:    resolver,
		Combat:    machine,
		Validator: gate,
		Cache:     responses,
		Narrator:  narrator,
		Subjects:  store,
	})

	srv := server.New(cfg.Server, turns, mem, store, store, responses)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Intake.Enabled {
		watcher, err := notify.NewWatcher(cfg.Intake.DropPath, mem)
		if err != nil {
			return fmt.Errorf("build intake watcher: %w", err)
		}
		go func() {
			if err := watcher.Run(ctx); err != nil {
				log.Printf("intake watcher stopped: %v", err)
			}
		}()
	}

	go runExpiryLoop(ctx, mem)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Println("shutting down")
	return srv.Shutdown(shutdownCtx)
}

func runExpire(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, vectors, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	mem := memory.NewService(store, vectors, nil, nil, cfg.Memory)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	removed, err := mem.ExpireStale(ctx)
	if err != nil {
		return fmt.Errorf("expire records: %w", err)
	}
	log.Printf("removed %d expired records", removed)
	return nil
}

// backupCommand groups the snapshot subcommands. Snapshots operate on
// the sqlite database file directly, so the server should be stopped
// before a restore (create and verify are safe against a live server).
func backupCommand(configPath *string) *cobra.Command {
	var backupDir string
	var keep int

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage database snapshots",
	}
	cmd.PersistentFlags().StringVar(&backupDir, "dir", "./backups", "snapshot directory")

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Write a verified snapshot of the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			path, err := backup.Create(filepath.Join(cfg.Storage.DataPath, "questweaver.db"), backupDir)
			if err != nil {
				return err
			}
			log.Printf("snapshot written to %s", path)
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshots, err := backup.List(backupDir)
			if err != nil {
				return err
			}
			for _, s := range snapshots {
				fmt.Printf("%s\t%d bytes\t%s\n", s.Path, s.Size, s.Timestamp.Format(time.RFC3339))
			}
			return nil
		},
	}

	restoreCmd := &cobra.Command{
		Use:   "restore <snapshot>",
		Short: "Restore the database from a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			target := filepath.Join(cfg.Storage.DataPath, "questweaver.db")
			if err := backup.Restore(args[0], target); err != nil {
				return err
			}
			log.Printf("restored %s from %s", target, args[0])
			return nil
		},
	}

	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the newest snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := backup.Prune(backupDir, keep)
			if err != nil {
				return err
			}
			log.Printf("removed %d snapshots", removed)
			return nil
		},
	}
	pruneCmd.Flags().IntVar(&keep, "keep", 7, "snapshots to keep")

	cmd.AddCommand(createCmd, listCmd, restoreCmd, pruneCmd)
	return cmd
}

// openStorage opens the sqlite store, which is always the canonical
// store, and layers the postgres pgvector backend over it as the vector
// provider when configured.
func openStorage(cfg *config.Config) (storage.Store, storage.VectorProvider, error) {
	if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create data path: %w", err)
	}
	store, err := sqlite.Open(filepath.Join(cfg.Storage.DataPath, "questweaver.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite store: %w", err)
	}

	var vectors storage.VectorProvider = store
	if cfg.Storage.Engine == "postgres" && cfg.Storage.PostgresDSN != "" {
		pg, err := postgres.Open(cfg.Storage.PostgresDSN)
		if err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("open postgres vector store: %w", err)
		}
		vectors = pg
	}
	return store, vectors, nil
}

// runExpiryLoop deletes expired records hourly.
func runExpiryLoop(ctx context.Context, mem *memory.Service) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := mem.ExpireStale(ctx)
			if err != nil {
				log.Printf("expiry sweep: %v", err)
				continue
			}
			if removed > 0 {
				log.Printf("expiry sweep removed %d records", removed)
			}
		}
	}
}
