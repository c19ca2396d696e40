package correlate

import (
	"fmt"
	"sort"

	"github.com/castifi/bugtracker/internal/types"
)

// Node categories
const (
	CategoryChannel = "channel"
	CategoryOwner   = "owner"
	CategoryCard    = "card"
)

// Fallback labels for origins and cards missing a value
const (
	ZendeskChannel = "zendesk"
	Unassigned     = "Unassigned"
)

// FlowConfig bounds the flow graph
type FlowConfig struct {
	TopCards    int `mapstructure:"top_cards" json:"top_cards"`
	MinOwners   int `mapstructure:"min_owners" json:"min_owners"`
	MinChannels int `mapstructure:"min_channels" json:"min_channels"`
}

// DefaultFlowConfig returns the stock graph limits
func DefaultFlowConfig() FlowConfig {
	return FlowConfig{TopCards: 15, MinOwners: 3, MinChannels: 2}
}

// Node is one Sankey node
type Node struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	Placeholder bool   `json:"placeholder,omitempty"`
}

// Link is a weighted Sankey link between node ids
type Link struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Value  int    `json:"value"`
}

// Graph is the channel → owner → card flow
type Graph struct {
	Nodes    []Node   `json:"nodes"`
	Links    []Link   `json:"links"`
	Warnings []string `json:"warnings,omitempty"`
}

type flow struct {
	channel, owner, card string
}

// BuildFlow turns the edges ending at Shortcut cards into a Sankey graph.
// Each such edge contributes one channel → owner → card path: the channel is
// the Slack origin's channel (ZendeskChannel for Zendesk origins) and the
// owner is the card's assignee. Only the cfg.TopCards most referenced cards
// are kept. When fewer than cfg.MinOwners owners or cfg.MinChannels channels
// were observed, unlinked placeholder nodes are added and a warning is set.
func BuildFlow(edges []Edge, cfg FlowConfig) *Graph {
	if cfg.TopCards <= 0 {
		cfg.TopCards = DefaultFlowConfig().TopCards
	}

	var flows []flow
	refs := make(map[string]int)
	names := make(map[string]string)
	for _, e := range edges {
		if e.To.SourceSystem != types.SourceShortcut {
			continue
		}
		channel := ZendeskChannel
		if e.From.SourceSystem == types.SourceSlack && e.from.Channel != "" {
			channel = e.from.Channel
		}
		owner := e.to.Assignee
		if owner == "" {
			owner = Unassigned
		}
		card := e.To.key()
		refs[card]++
		names[card] = cardName(e.to)
		flows = append(flows, flow{channel: channel, owner: owner, card: card})
	}

	cards := make([]string, 0, len(refs))
	for c := range refs {
		cards = append(cards, c)
	}
	sort.Slice(cards, func(i, j int) bool {
		if refs[cards[i]] != refs[cards[j]] {
			return refs[cards[i]] > refs[cards[j]]
		}
		return cards[i] < cards[j]
	})
	g := &Graph{Nodes: []Node{}, Links: []Link{}}
	if len(cards) > cfg.TopCards {
		g.Warnings = append(g.Warnings, fmt.Sprintf("showing the %d most referenced of %d cards", cfg.TopCards, len(cards)))
		cards = cards[:cfg.TopCards]
	}
	kept := make(map[string]bool, len(cards))
	for _, c := range cards {
		kept[c] = true
	}

	weights := make(map[[2]string]int)
	channels := make(map[string]bool)
	owners := make(map[string]bool)
	for _, f := range flows {
		if !kept[f.card] {
			continue
		}
		channels[f.channel] = true
		owners[f.owner] = true
		weights[[2]string{nodeID(CategoryChannel, f.channel), nodeID(CategoryOwner, f.owner)}]++
		weights[[2]string{nodeID(CategoryOwner, f.owner), nodeID(CategoryCard, f.card)}]++
	}

	for _, c := range sortedKeys(channels) {
		g.Nodes = append(g.Nodes, Node{ID: nodeID(CategoryChannel, c), Name: c, Category: CategoryChannel})
	}
	g.addPlaceholders(CategoryChannel, "channel", len(channels), cfg.MinChannels)
	for _, o := range sortedKeys(owners) {
		g.Nodes = append(g.Nodes, Node{ID: nodeID(CategoryOwner, o), Name: o, Category: CategoryOwner})
	}
	g.addPlaceholders(CategoryOwner, "owner", len(owners), cfg.MinOwners)
	for _, c := range cards {
		g.Nodes = append(g.Nodes, Node{ID: nodeID(CategoryCard, c), Name: names[c], Category: CategoryCard})
	}

	for pair, w := range weights {
		g.Links = append(g.Links, Link{Source: pair[0], Target: pair[1], Value: w})
	}
	sort.Slice(g.Links, func(i, j int) bool {
		if g.Links[i].Source != g.Links[j].Source {
			return g.Links[i].Source < g.Links[j].Source
		}
		return g.Links[i].Target < g.Links[j].Target
	})
	return g
}

func (g *Graph) addPlaceholders(category, label string, observed, min int) {
	if observed >= min {
		return
	}
	for i := observed + 1; i <= min; i++ {
		name := fmt.Sprintf("placeholder %s %d", label, i)
		g.Nodes = append(g.Nodes, Node{ID: nodeID(category, name), Name: name, Category: category, Placeholder: true})
	}
	g.Warnings = append(g.Warnings, fmt.Sprintf("only %d %ss observed, added %d placeholder %ss", observed, label, min-observed, label))
}

func nodeID(category, name string) string {
	return category + ":" + name
}

func cardName(r *types.BugRecord) string {
	if r.Subject != "" {
		return r.Subject
	}
	return r.TicketID
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
