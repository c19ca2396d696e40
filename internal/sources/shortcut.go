package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/castifi/bugtracker/internal/normalize"
	"github.com/castifi/bugtracker/internal/types"
)

// ShortcutConfig holds the Shortcut API token and search settings
type ShortcutConfig struct {
	BaseURL        string // default https://api.app.shortcut.com
	APIToken       string
	WorkflowStates []string // default: the five bug workflow states
	PageSize       int      // default 25
	Timeout        time.Duration
}

// ShortcutSource searches bug stories in the configured workflow states
type ShortcutSource struct {
	cfg    ShortcutConfig
	client *Client
	norm   *normalize.Normalizer
}

// NewShortcut returns a Shortcut source, or ErrNotConfigured without a token
func NewShortcut(cfg ShortcutConfig, norm *normalize.Normalizer, transport http.RoundTripper) (*ShortcutSource, error) {
	if cfg.APIToken == "" {
		return nil, fmt.Errorf("shortcut: %w (need api token)", ErrNotConfigured)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.app.shortcut.com"
	}
	if len(cfg.WorkflowStates) == 0 {
		cfg.WorkflowStates = []string{
			normalize.ShortcutReadyForDev,
			normalize.ShortcutInProgress,
			normalize.ShortcutCodeReview,
			normalize.ShortcutReadyForQA,
			normalize.ShortcutBlocked,
		}
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 25
	}
	return &ShortcutSource{
		cfg:    cfg,
		client: NewClient(ClientConfig{BaseURL: cfg.BaseURL, Timeout: cfg.Timeout, Transport: transport}),
		norm:   norm,
	}, nil
}

// System implements Source
func (s *ShortcutSource) System() types.SourceSystem { return types.SourceShortcut }

// SearchQuery builds the story search expression
func (s *ShortcutSource) SearchQuery() string {
	clauses := make([]string, len(s.cfg.WorkflowStates))
	for i, id := range s.cfg.WorkflowStates {
		clauses[i] = "workflow_state_id:" + id
	}
	return fmt.Sprintf("type:bug (%s) -state:Complete", strings.Join(clauses, " OR "))
}

type shortcutSearchResponse struct {
	Data []normalize.ShortcutStory `json:"data"`
}

// Fetch implements Source
func (s *ShortcutSource) Fetch(ctx context.Context) (*Batch, error) {
	batch := &Batch{System: types.SourceShortcut}

	var resp shortcutSearchResponse
	err := s.client.getJSON(ctx, request{
		Path:    "/api/v3/search/stories",
		Query:   url.Values{"query": {s.SearchQuery()}, "page_size": {strconv.Itoa(s.cfg.PageSize)}},
		Headers: map[string]string{"Shortcut-Token": s.cfg.APIToken},
	}, &resp)
	if err != nil {
		return batch, err
	}

	for _, story := range resp.Data {
		batch.add(s.norm.FromShortcut(story))
	}
	return batch, nil
}
