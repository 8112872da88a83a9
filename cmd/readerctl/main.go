// Command readerctl administers an Alexandria data directory offline: it loads EPUBs into the
// catalog, lists and clears annotations, rebuilds the search index and pages through books in a
// headless reader. Stop the server first; the badger backend takes an exclusive lock.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/alexandriaapp/alexandria-server/internal/config"
	"github.com/alexandriaapp/alexandria-server/internal/logger"
	"github.com/alexandriaapp/alexandria-server/internal/search"
	"github.com/alexandriaapp/alexandria-server/internal/store"
	"github.com/alexandriaapp/alexandria-server/internal/store/sqlite"
)

var (
	dataPath string
	backend  string
	logLevel string
	asJSON   bool
)

var rootCmd = &cobra.Command{
	Use:   "readerctl",
	Short: "Administer an Alexandria data directory",
	Long: `readerctl works directly on the server's data directory.

Available commands:
  scan         - Load the EPUBs under a directory into the catalog
  books        - List the catalog
  annotations  - List, export or clear a book's annotations
  search       - Query or rebuild the annotation index
  read         - Page through a book in a headless reader`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if dataPath == "" {
			dataPath = os.Getenv("DATA_PATH")
		}
		if dataPath == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("resolve home directory: %w", err)
			}
			dataPath = filepath.Join(home, "Alexandria")
		}
		switch backend {
		case config.BackendBadger, config.BackendSQLite:
		default:
			return fmt.Errorf("unknown storage backend %q (want badger or sqlite)", backend)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&dataPath, "data-path", "d", "", "Data directory (default: $DATA_PATH or ~/Alexandria)")
	rootCmd.PersistentFlags().StringVar(&backend, "storage-backend", config.BackendBadger, "Annotation store backend (badger, sqlite)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "Print JSON instead of tables")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(booksCmd)
	rootCmd.AddCommand(annotationsCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(readCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	return logger.New(logger.Config{
		Writer:      os.Stderr,
		Level:       logger.ParseLevel(logLevel),
		Environment: "development",
	}).Logger
}

// env holds what a command opened; close releases it.
type env struct {
	log   *slog.Logger
	store *store.Store
	index *search.SearchIndex
}

func (e *env) close() {
	if e.index != nil {
		if err := e.index.Close(); err != nil {
			e.log.Warn("failed to close search index", "error", err)
		}
	}
	if err := e.store.Close(); err != nil {
		e.log.Warn("failed to close store", "error", err)
	}
}

// openEnv opens the store and, when withIndex is set, the search index wired to it.
func openEnv(withIndex bool) (*env, error) {
	storage := config.StorageConfig{Backend: backend, BasePath: dataPath}
	log := newLogger()

	var (
		st  *store.Store
		err error
	)
	if backend == config.BackendSQLite {
		var kv *sqlite.KV
		kv, err = sqlite.Open(storage.DatabasePath(), log)
		if err == nil {
			st = store.NewWithBackend(kv, log, nil)
		}
	} else {
		st, err = store.New(storage.DatabasePath(), log, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open store in %s: %w", dataPath, err)
	}

	e := &env{log: log, store: st}
	if withIndex {
		e.index, err = search.NewSearchIndex(search.Options{DataPath: storage.SearchIndexPath(), Logger: log})
		if err != nil {
			e.close()
			return nil, fmt.Errorf("open search index: %w", err)
		}
		st.SetSearchIndexer(e.index)
	}
	return e, nil
}
