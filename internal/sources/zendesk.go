package sources

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/castifi/bugtracker/internal/normalize"
	"github.com/castifi/bugtracker/internal/types"
)

// BugTag marks the Zendesk tickets that are ingested
const BugTag = "bug"

// ZendeskConfig holds Zendesk API token credentials
type ZendeskConfig struct {
	BaseURL   string // default https://<subdomain>.zendesk.com
	Subdomain string
	Email     string
	APIToken  string
	Timeout   time.Duration
}

// ZendeskSource reads tickets.json and keeps the ones tagged "bug"
type ZendeskSource struct {
	cfg    ZendeskConfig
	client *Client
	norm   *normalize.Normalizer
}

// NewZendesk returns a Zendesk source, or ErrNotConfigured without credentials
func NewZendesk(cfg ZendeskConfig, norm *normalize.Normalizer, transport http.RoundTripper) (*ZendeskSource, error) {
	if cfg.Email == "" || cfg.APIToken == "" || (cfg.Subdomain == "" && cfg.BaseURL == "") {
		return nil, fmt.Errorf("zendesk: %w (need subdomain, email and api token)", ErrNotConfigured)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = fmt.Sprintf("https://%s.zendesk.com", cfg.Subdomain)
	}
	return &ZendeskSource{
		cfg:    cfg,
		client: NewClient(ClientConfig{BaseURL: cfg.BaseURL, Timeout: cfg.Timeout, Transport: transport}),
		norm:   norm,
	}, nil
}

// System implements Source
func (s *ZendeskSource) System() types.SourceSystem { return types.SourceZendesk }

type zendeskTicketsResponse struct {
	Tickets []normalize.ZendeskTicket `json:"tickets"`
}

// Fetch implements Source
func (s *ZendeskSource) Fetch(ctx context.Context) (*Batch, error) {
	batch := &Batch{System: types.SourceZendesk}

	var resp zendeskTicketsResponse
	err := s.client.getJSON(ctx, request{
		Path: "/api/v2/tickets.json",
		Auth: func(r *http.Request) { r.SetBasicAuth(s.cfg.Email+"/token", s.cfg.APIToken) },
	}, &resp)
	if err != nil {
		return batch, err
	}

	for _, t := range resp.Tickets {
		if !t.HasTag(BugTag) {
			continue
		}
		batch.add(s.norm.FromZendesk(t))
	}
	return batch, nil
}
