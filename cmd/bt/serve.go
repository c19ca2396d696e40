package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/castifi/bugtracker/internal/config"
	"github.com/castifi/bugtracker/internal/logging"
	"github.com/castifi/bugtracker/internal/workspace"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and ingest on a schedule",
	Long: `Serve the query, link and maintenance operations over HTTP (POST /rpc,
GET /health) and run an ingestion cycle every --interval, flagging records
the cycle no longer refreshes as stale.

Other bt commands can use the server with --server <addr>. Edits to the
config file are picked up without a restart; source credentials and the
database still need one.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		if !cmd.Flags().Changed("addr") {
			addr = cfg.ServerAddr
		}
		interval, _ := cmd.Flags().GetDuration("interval")
		if !cmd.Flags().Changed("interval") {
			interval = cfg.SyncInterval
		}
		noSync, _ := cmd.Flags().GetBool("no-sync")
		if noSync {
			interval = 0
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cmd, addr, interval)
	},
}

// serveWorkspaceDir is where the pid file goes
func serveWorkspaceDir() string {
	if dbPath != "" {
		return filepath.Dir(dbPath)
	}
	return workspace.FindWorkspaceDir()
}

func runServe(ctx context.Context, cmd *cobra.Command, addr string, interval time.Duration) error {
	log := app.log
	out := cmd.OutOrStdout()

	wsDir := serveWorkspaceDir()
	if wsDir == "" {
		return errors.New("no .bugtracker directory found\nHint: run 'bt init' first")
	}
	pidFile := filepath.Join(wsDir, pidFileName)
	if err := acquirePIDFile(pidFile); err != nil {
		return err
	}
	defer func() { _ = os.Remove(pidFile) }()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	srv := &http.Server{Handler: app.server.Handler(), ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	log.Log("Server started on %s (pid %d, sync interval %v)", ln.Addr(), os.Getpid(), interval)
	fmt.Fprintf(out, "Serving on http://%s (Ctrl-C to stop)\n", ln.Addr())

	reloads := make(chan *config.Config, 1)
	if path := config.ConfigFileUsed(); path != "" {
		stopWatch, err := watchConfig(path, log, reloads)
		if err != nil {
			log.Log("Warning: config reload disabled: %v", err)
		} else {
			defer stopWatch()
		}
	}

	var wg sync.WaitGroup
	staleWindow := cfg.StaleWindow
	startSync := func() {
		window := staleWindow
		wg.Add(1)
		go func() {
			defer wg.Done()
			syncOnce(ctx, log, window)
		}()
	}

	var ticker *time.Ticker
	var tick <-chan time.Time
	switch {
	case interval <= 0:
		log.Log("Scheduled ingestion disabled")
	case len(app.sources) == 0:
		log.Log("No sources configured; scheduled ingestion disabled")
	default:
		ticker = time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
		startSync()
	}

	for {
		select {
		case <-ctx.Done():
			log.Log("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Log("Warning: shutdown: %v", err)
			}
			wg.Wait()
			if cp, ok := store.(interface{ CheckpointWAL(context.Context) error }); ok {
				if err := cp.CheckpointWAL(shutdownCtx); err != nil {
					log.Log("Warning: WAL checkpoint failed: %v", err)
				}
			}
			fmt.Fprintln(out, "Server stopped")
			return nil

		case err := <-serveErr:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("server failed: %w", err)

		case <-tick:
			startSync()

		case next := <-reloads:
			staleWindow = next.StaleWindow
			if ticker != nil && next.SyncInterval > 0 && next.SyncInterval != interval {
				interval = next.SyncInterval
				ticker.Reset(interval)
				log.Log("Sync interval now %v", interval)
			}
		}
	}
}

// syncOnce runs one ingestion cycle and flags what it no longer refreshes.
// Stale marking is skipped after a failed cycle.
func syncOnce(ctx context.Context, log logging.Logger, staleWindow time.Duration) {
	report, err := app.server.Ingest(ctx, false)
	if report != nil {
		log.Log("Ingestion: %d records (slack %d, zendesk %d, shortcut %d) in %s",
			report.TotalRecords, report.SlackRecords, report.ZendeskRecords, report.ShortcutRecords, report.Duration)
	}
	if err != nil {
		log.Log("Ingestion failed: %v", err)
		return
	}

	r, err := app.stale.Mark(ctx, staleWindow)
	if err != nil {
		log.Log("Stale scan failed: %v", err)
		return
	}
	if r.Marked > 0 {
		log.Log("Flagged %d stale record(s)", r.Marked)
	}
}

// watchConfig reloads the config file when it changes and sends the result
// to reloads. The directory is watched so editors that replace the file by
// rename are seen too.
func watchConfig(path string, log logging.Logger, reloads chan *config.Config) (func(), error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil, err
	}

	target := filepath.Clean(path)
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
					continue
				}
				next, err := config.Reload(path)
				if err != nil {
					log.Log("Config reload rejected: %v", err)
					continue
				}
				log.Log("Config reloaded from %s", path)
				select {
				case reloads <- next:
				default:
					// an unread reload is superseded
					select {
					case <-reloads:
					default:
					}
					reloads <- next
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Log("Config watcher error: %v", err)
			}
		}
	}()
	return func() { _ = w.Close() }, nil
}

func init() {
	serveCmd.Flags().String("addr", "127.0.0.1:8787", "Listen address (default from server.addr)")
	serveCmd.Flags().Duration("interval", 6*time.Hour, "Ingestion interval (default from sync.interval)")
	serveCmd.Flags().Bool("no-sync", false, "Serve queries only, never ingest")
	rootCmd.AddCommand(serveCmd)
}
