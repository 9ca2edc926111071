package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/triage/internal/api"
	"github.com/sprite-ai/triage/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the companion server",
	Long: `Start the HTTP server that holds review documents.

Endpoints:
  GET    /health                          Health check
  GET    /info                            Server version, hostname and repositories
  GET    /reviews                         Saved reviews, newest first
  GET    /comparisons/{key}/review        Review document
  PUT    /comparisons/{key}/review        Save (If-Match: <version> for a versioned write)
  DELETE /comparisons/{key}/review        Delete
  POST   /comparisons/{key}/hunks         Hunks of the comparison
  GET    /comparisons/{key}/clusters      Identical groups, symbol clusters, progress
  GET    /comparisons/{key}/tree          Changed-file tree with status counts
  GET    /taxonomy                        Trust taxonomy
  GET    /metrics                         Prometheus metrics
  GET    /api/ws                          WebSocket change notifications

Comparison routes take ?repo=<id or absolute path>.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("addr", "a", "", "address to listen on (default from config)")
	serveCmd.Flags().String("storage", "", "document backend: file or badger")
}

func runServe(cmd *cobra.Command, args []string) error {
	addr := cfg.Server.Addr
	if v, _ := cmd.Flags().GetString("addr"); v != "" {
		addr = v
	}
	backend := cfg.Storage.Backend
	if v, _ := cmd.Flags().GetString("storage"); v != "" {
		backend = v
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.Home, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", cfg.Home, err)
	}
	reg, err := store.OpenRegistry(cfg.RegistryPath())
	if err != nil {
		return err
	}
	defer reg.Close()

	st, fileStore, err := openStore(backend, cfg.DataDir())
	if err != nil {
		return err
	}
	defer st.Close()

	srv := api.New(addr, st,
		api.WithRegistry(reg),
		api.WithLogger(logger),
		api.WithToken(cfg.Server.Token),
		api.WithVersion(version),
	)
	if fileStore != nil {
		if err := srv.WatchStore(ctx, fileStore); err != nil {
			logger.Warn("external edits will not be broadcast", "error", err)
		}
	}
	logger.Info("store ready", "backend", backend, "dir", cfg.DataDir(), "auth", cfg.Server.Token != "")
	return srv.ListenAndServe(ctx)
}

// openStore opens the configured backend. The file store is also returned
// on its own so its directory can be watched.
func openStore(backend, dir string) (store.Store, *store.FileStore, error) {
	switch backend {
	case "badger":
		bcfg := store.DefaultBadgerConfig(filepath.Join(dir, "badger"))
		bcfg.Logger = logger
		st, err := store.OpenBadger(bcfg)
		if err != nil {
			return nil, nil, err
		}
		return st, nil, nil
	case "", "file":
		fs, err := store.NewFileStore(dir, store.WithFileLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return fs, fs, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

// signalContext is the context one-shot commands run under.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}
