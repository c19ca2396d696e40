package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/google/uuid"

	"github.com/castifi/bugtracker/internal/config"
	"github.com/castifi/bugtracker/internal/correlate"
	"github.com/castifi/bugtracker/internal/debug"
	"github.com/castifi/bugtracker/internal/ingest"
	"github.com/castifi/bugtracker/internal/linker"
	"github.com/castifi/bugtracker/internal/logging"
	"github.com/castifi/bugtracker/internal/normalize"
	"github.com/castifi/bugtracker/internal/query"
	"github.com/castifi/bugtracker/internal/rpc"
	"github.com/castifi/bugtracker/internal/sources"
	"github.com/castifi/bugtracker/internal/stale"
	"github.com/castifi/bugtracker/internal/storage"
)

// application holds the engines behind one open store
type application struct {
	server  *rpc.Server
	stale   *stale.Scanner
	log     logging.Logger
	logFile io.Closer
	sources []sources.Source
}

// newApplication wires every engine to store. Sources without credentials
// are skipped; logPath "" logs to stderr under --verbose and nowhere otherwise.
func newApplication(cfg *config.Config, store storage.Storage, logPath string) (*application, error) {
	a := &application{log: logging.Discard()}
	if logPath != "" {
		w, log, err := logging.NewFile(logPath, cfg.LogRotation)
		if err != nil {
			return nil, err
		}
		a.log, a.logFile = log, w
	} else if debug.Enabled() {
		a.log = logging.Stderr()
	}

	vocab, err := normalize.LoadVocabulary(cfg.VocabularyPath)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	if a.sources, err = buildSources(cfg, normalize.New(vocab), nil); err != nil {
		_ = a.Close()
		return nil, err
	}

	batcher := cfg.Batcher()
	q := query.New(store, a.log)
	a.stale = stale.New(store, batcher, a.log)
	deps := rpc.Deps{
		Store:     store,
		Query:     q,
		Correlate: correlate.New(q, a.log, cfg.Flow),
		Linker:    linker.New(store, batcher, a.log),
		Stale:     a.stale,
		Log:       a.log,
	}
	if len(a.sources) > 0 {
		deps.Ingest = &ingest.Cycle{Sources: a.sources, Store: store, Batcher: batcher, Log: a.log}
	}
	a.server = rpc.NewServer(deps)
	return a, nil
}

// Close releases the log file
func (a *application) Close() error {
	if a.logFile == nil {
		return nil
	}
	err := a.logFile.Close()
	a.logFile = nil
	return err
}

// buildSources returns every source with credentials configured
func buildSources(cfg *config.Config, norm *normalize.Normalizer, transport http.RoundTripper) ([]sources.Source, error) {
	var out []sources.Source
	skip := func(err error) error {
		if errors.Is(err, sources.ErrNotConfigured) {
			debug.Logf("skipping source: %v", err)
			return nil
		}
		return err
	}

	if s, err := sources.NewSlack(cfg.Slack, norm, transport); err == nil {
		out = append(out, s)
	} else if err := skip(err); err != nil {
		return nil, err
	}
	if s, err := sources.NewZendesk(cfg.Zendesk, norm, transport); err == nil {
		out = append(out, s)
	} else if err := skip(err); err != nil {
		return nil, err
	}
	if s, err := sources.NewShortcut(cfg.Shortcut, norm, transport); err == nil {
		out = append(out, s)
	} else if err := skip(err); err != nil {
		return nil, err
	}
	return out, nil
}

// dispatch runs op against the server when connected, in process otherwise,
// and decodes the result into out. A successful response that still carries
// an error (partial failure) is printed as a warning.
func dispatch(ctx context.Context, op string, args, out interface{}) error {
	var resp *rpc.Response
	if client != nil {
		r, err := client.Execute(ctx, op, args)
		if err != nil {
			return err
		}
		resp = r
	} else {
		if app == nil {
			return errors.New("no database open")
		}
		req := &rpc.Request{
			Operation:     op,
			RequestID:     uuid.New().String(),
			ClientVersion: rpc.ServerVersion,
		}
		if args != nil {
			raw, err := json.Marshal(args)
			if err != nil {
				return fmt.Errorf("failed to encode %s args: %w", op, err)
			}
			req.Args = raw
		}
		r := app.server.HandleRequest(ctx, req)
		resp = &r
	}

	if out != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("failed to decode %s data: %w", op, err)
		}
	}
	if !resp.Success {
		if resp.Error == "" {
			return fmt.Errorf("%s failed", op)
		}
		return errors.New(resp.Error)
	}
	if resp.Error != "" {
		printWarning(os.Stderr, resp.Error)
	}
	return nil
}
