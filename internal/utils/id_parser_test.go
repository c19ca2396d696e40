package utils

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/castifi/bugtracker/internal/storage/memory"
	"github.com/castifi/bugtracker/internal/storage/storagetest"
	"github.com/castifi/bugtracker/internal/types"
)

func TestParseTicketID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"already canonical", "ZD-123", "ZD-123"},
		{"lower-case zendesk prefix", "zd-123", "ZD-123"},
		{"lower-case shortcut prefix", "sc-77", "SC-77"},
		{"synthetic keeps hex case", "sl-9f3a", "SL-9f3a"},
		{"bare number is zendesk", "123", "ZD-123"},
		{"surrounding space", "  ZD-5 ", "ZD-5"},
		{"free form left alone", "1700000000.000100", "1700000000.000100"},
		{"prefix alone left alone", "zd-", "zd-"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseTicketID(tt.input); got != tt.expected {
				t.Errorf("ParseTicketID(%q) = %q; want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestResolveTicketID(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	created := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for _, rec := range []*types.BugRecord{
		storagetest.Record("ZD-123", types.SourceZendesk, "123", created),
		storagetest.Record("ZD-124", types.SourceZendesk, "124", created),
		storagetest.Record("SC-900", types.SourceShortcut, "900", created),
		storagetest.Record("SL-9f3a01c2d4e5b6a7", types.SourceSlack, "1700000000.000100", created),
		storagetest.Record("SL-9f3b000000000000", types.SourceSlack, "1700000000.000200", created),
	} {
		if err := store.Upsert(ctx, rec); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  error
	}{
		{"exact", "ZD-123", "ZD-123", nil},
		{"lower-case", "zd-124", "ZD-124", nil},
		{"bare zendesk number", "123", "ZD-123", nil},
		{"bare number falls back to shortcut", "900", "SC-900", nil},
		{"unique partial", "9f3a", "SL-9f3a01c2d4e5b6a7", nil},
		{"ambiguous partial", "9f3", "", types.ErrMalformedInput},
		{"ambiguous zendesk partial", "ZD-12", "", types.ErrMalformedInput},
		{"no match", "nothing", "", types.ErrNotFound},
		{"empty", "  ", "", types.ErrMalformedInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveTicketID(ctx, store, tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ResolveTicketID(%q) error = %v; want %v", tt.input, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveTicketID(%q) failed: %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("ResolveTicketID(%q) = %q; want %q", tt.input, got, tt.expected)
			}
		})
	}

	ids, err := ResolveTicketIDs(ctx, store, []string{"123", "sc-900"})
	if err != nil || len(ids) != 2 || ids[1] != "SC-900" {
		t.Errorf("ResolveTicketIDs = %v, %v", ids, err)
	}
}

func TestExtractTicketParts(t *testing.T) {
	tests := []struct {
		id     string
		prefix string
		number int
	}{
		{"ZD-123", "ZD", 123},
		{"SC-12-a", "SC", 0},
		{"SL-9f3a01c2d4e5b6a7", "SL", 0},
		{"nohyphen", "", 0},
		{"ZD-", "ZD", 0},
	}
	for _, tt := range tests {
		if got := ExtractTicketPrefix(tt.id); got != tt.prefix {
			t.Errorf("ExtractTicketPrefix(%q) = %q; want %q", tt.id, got, tt.prefix)
		}
		if got := ExtractTicketNumber(tt.id); got != tt.number {
			t.Errorf("ExtractTicketNumber(%q) = %d; want %d", tt.id, got, tt.number)
		}
	}
}

func TestCanonicalizePath(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "real")
	if err := os.Mkdir(real, 0750); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "link")
	if err := os.Symlink(real, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	want, _ := filepath.EvalSymlinks(real)
	if got := CanonicalizePath(link); got != want {
		t.Errorf("CanonicalizePath(%q) = %q; want %q", link, got, want)
	}
	missing := filepath.Join(dir, "missing")
	if got := CanonicalizePath(missing); got != missing {
		t.Errorf("CanonicalizePath(%q) = %q", missing, got)
	}
}
