package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/castifi/bugtracker/internal/normalize"
	"github.com/castifi/bugtracker/internal/types"
)

// SlackConfig holds Slack credentials and the channels to read
type SlackConfig struct {
	BaseURL  string // default https://slack.com
	Token    string
	Channels []string
	Limit    int // messages per channel, default 50
	Timeout  time.Duration
}

// SlackSource reads conversations.history for each configured channel
type SlackSource struct {
	cfg    SlackConfig
	client *Client
	norm   *normalize.Normalizer
}

// NewSlack returns a Slack source, or ErrNotConfigured without a token and channel
func NewSlack(cfg SlackConfig, norm *normalize.Normalizer, transport http.RoundTripper) (*SlackSource, error) {
	if cfg.Token == "" || len(cfg.Channels) == 0 {
		return nil, fmt.Errorf("slack: %w (need token and at least one channel)", ErrNotConfigured)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://slack.com"
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 50
	}
	return &SlackSource{
		cfg:    cfg,
		client: NewClient(ClientConfig{BaseURL: cfg.BaseURL, Timeout: cfg.Timeout, Transport: transport}),
		norm:   norm,
	}, nil
}

// System implements Source
func (s *SlackSource) System() types.SourceSystem { return types.SourceSlack }

type slackHistoryResponse struct {
	OK       bool                     `json:"ok"`
	Error    string                   `json:"error,omitempty"`
	Messages []normalize.SlackMessage `json:"messages"`
}

// Fetch implements Source
func (s *SlackSource) Fetch(ctx context.Context) (*Batch, error) {
	batch := &Batch{System: types.SourceSlack}
	for _, channel := range s.cfg.Channels {
		var resp slackHistoryResponse
		err := s.client.getJSON(ctx, request{
			Path:    "/api/conversations.history",
			Query:   url.Values{"channel": {channel}, "limit": {strconv.Itoa(s.cfg.Limit)}},
			Headers: map[string]string{"Authorization": "Bearer " + s.cfg.Token},
		}, &resp)
		if err != nil {
			return batch, err
		}
		if !resp.OK {
			return batch, fmt.Errorf("%w: slack channel %s: %s", types.ErrExternal, channel, resp.Error)
		}
		for _, msg := range resp.Messages {
			msg.Channel = channel
			batch.add(s.norm.FromSlack(msg))
		}
	}
	return batch, nil
}
