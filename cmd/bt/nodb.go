package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/castifi/bugtracker/internal/debug"
	"github.com/castifi/bugtracker/internal/storage/jsonl"
	"github.com/castifi/bugtracker/internal/storage/memory"
	"github.com/castifi/bugtracker/internal/workspace"
)

// initializeNoDbMode sets up in-memory storage from the workspace JSONL export
func initializeNoDbMode(ctx context.Context) error {
	wsDir := workspace.FindWorkspaceDir()
	if wsDir == "" {
		return errors.New("no .bugtracker directory found\nHint: run 'bt init' first")
	}
	exportPath = workspace.FindExportPath(filepath.Join(wsDir, workspace.CanonicalDatabaseName))

	recs, err := jsonl.ReadFile(exportPath)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", exportPath, err)
	}

	mem := memory.New()
	if err := mem.LoadFromRecords(recs); err != nil {
		return fmt.Errorf("failed to load records into memory: %w", err)
	}
	debug.Logf("loaded %d records from %s", len(recs), exportPath)

	store = mem
	mode = modeNoDB
	if app, err = newApplication(cfg, store, cfg.LogFile); err != nil {
		_ = mem.Close()
		store = nil
		return err
	}
	return nil
}

// writeNoDbExport writes the in-memory records back to the export
func writeNoDbExport(ctx context.Context) error {
	n, err := jsonl.Export(ctx, store, exportPath)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", exportPath, err)
	}
	debug.Logf("wrote %d records to %s", n, exportPath)
	return nil
}
