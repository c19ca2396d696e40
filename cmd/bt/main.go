package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/castifi/bugtracker/internal/config"
	"github.com/castifi/bugtracker/internal/debug"
	"github.com/castifi/bugtracker/internal/rpc"
	"github.com/castifi/bugtracker/internal/storage"
	"github.com/castifi/bugtracker/internal/storage/sqlite"
	"github.com/castifi/bugtracker/internal/workspace"
)

// Mode values reported by `bt info`
const (
	modeDirect = "direct"
	modeServer = "server"
	modeNoDB   = "no-db"
)

// clientTimeout covers a full ingestion cycle on the server
const clientTimeout = 5 * time.Minute

var (
	dbPath     string
	jsonOutput bool
	noDb       bool
	serverAddr string
	verbose    bool

	cfg    *config.Config
	store  storage.Storage
	app    *application
	client *rpc.Client // set when --server points at a running `bt serve`
	mode   string

	// exportPath is the JSONL file backing --no-db mode
	exportPath string
)

// Commands that run without opening a store
var noDbCommands = []string{
	"init",
	"version",
	"help",
	"completion",
	"doctor",
}

var rootCmd = &cobra.Command{
	Use:   "bt",
	Short: "bt - bug reports from Slack, Zendesk and Shortcut in one store",
	Long: `bt ingests bug reports from Slack, Zendesk and Shortcut into a single
store keyed by ticket id, links reports that describe the same bug, and
answers queries and flow analytics over them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Flags win over config when explicitly set
		if cmd.Flags().Changed("db") {
			config.Set("db", dbPath)
		}
		if cmd.Flags().Changed("json") {
			config.Set("json", jsonOutput)
		}
		if cmd.Flags().Changed("no-db") {
			config.Set("no-db", noDb)
		}
		if !cmd.Flags().Changed("server") {
			serverAddr = config.GetString("server.connect")
		}
		if verbose {
			debug.SetEnabled(true)
		}

		var err error
		if cfg, err = config.Load(); err != nil {
			return err
		}
		dbPath, jsonOutput, noDb = cfg.DBPath, cfg.JSON, cfg.NoDB

		if slices.Contains(noDbCommands, cmd.Name()) {
			return nil
		}
		return openStore(cmd.Context(), cmd.Name())
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeStore(cmd.Context())
	},
}

func init() {
	if err := config.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize config: %v\n", err)
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (default: auto-discover .bugtracker/*.db)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noDb, "no-db", false, "Use no-db mode: load from JSONL, write back after each command")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "", "Send operations to a running 'bt serve' at this address")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug output")
}

// openStore connects to a server, loads the no-db export, or opens SQLite
func openStore(ctx context.Context, cmdName string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if serverAddr != "" && cmdName != "serve" {
		c, err := rpc.TryConnect(ctx, serverAddr)
		if err != nil {
			return err
		}
		if c == nil {
			return fmt.Errorf("no bt server answering at %s\nHint: start one with 'bt serve' or drop --server", serverAddr)
		}
		client = rpc.NewClient(serverAddr, clientTimeout)
		client.Version = Version
		mode = modeServer
		debug.Logf("using server at %s", serverAddr)
		return nil
	}

	if noDb {
		return initializeNoDbMode(ctx)
	}

	if dbPath == "" {
		dbPath = workspace.FindDatabasePath()
	}
	if dbPath == "" {
		return errors.New("no bt database found\n" +
			"Hint: run 'bt init' to create a workspace here, or set BT_DB / --db")
	}

	s, err := sqlite.New(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}
	store = s
	mode = modeDirect
	debug.Logf("using database %s", dbPath)

	logPath := cfg.LogFile
	if logPath == "" && cmdName == "serve" {
		logPath = filepath.Join(filepath.Dir(dbPath), "serve.log")
	}
	if app, err = newApplication(cfg, store, logPath); err != nil {
		_ = store.Close()
		store = nil
		return err
	}
	return nil
}

// closeStore flushes no-db mode and releases everything openStore took
func closeStore(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var firstErr error
	if mode == modeNoDB && store != nil {
		if err := writeNoDbExport(ctx); err != nil {
			firstErr = err
		}
	}
	if app != nil {
		if err := app.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		app = nil
	}
	if store != nil {
		if err := store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		store = nil
	}
	client = nil
	return firstErr
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		_ = closeStore(context.Background())
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
