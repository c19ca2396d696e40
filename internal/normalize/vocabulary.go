package normalize

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/castifi/bugtracker/internal/types"
)

// Shortcut workflow state ids for the bug workflow
const (
	ShortcutReadyForDev = "500000027"
	ShortcutInProgress  = "500000043"
	ShortcutCodeReview  = "500000385"
	ShortcutReadyForQA  = "500003719"
	ShortcutBlocked     = "500009065"
)

// ShortcutWorkflowNames maps workflow state ids to their display names
var ShortcutWorkflowNames = map[string]string{
	ShortcutReadyForDev: "Ready for Dev",
	ShortcutInProgress:  "In Progress",
	ShortcutCodeReview:  "Code Review",
	ShortcutReadyForQA:  "Ready for QA",
	ShortcutBlocked:     "Blocked",
}

// Vocabulary maps each source's native status vocabulary into normalized states.
// Keys are matched case-insensitively.
type Vocabulary struct {
	Zendesk  map[string]types.State `yaml:"zendesk"`
	Shortcut map[string]types.State `yaml:"shortcut"`
	Slack    map[string]types.State `yaml:"slack"`
}

// DefaultVocabulary returns the built-in lookup tables
func DefaultVocabulary() *Vocabulary {
	return &Vocabulary{
		Zendesk: map[string]types.State{
			"new":     types.StateOpen,
			"open":    types.StateOpen,
			"pending": types.StatePending,
			"hold":    types.StateBlocked,
			"solved":  types.StateClosed,
			"closed":  types.StateClosed,
		},
		Shortcut: map[string]types.State{
			ShortcutReadyForDev: types.StateOpen,
			ShortcutInProgress:  types.StateInProgress,
			ShortcutCodeReview:  types.StateInProgress,
			ShortcutReadyForQA:  types.StatePending,
			ShortcutBlocked:     types.StateBlocked,
		},
		Slack: map[string]types.State{
			"open":          types.StateOpen,
			"new":           types.StateOpen,
			"reported":      types.StateOpen,
			"wip":           types.StateInProgress,
			"in-progress":   types.StateInProgress,
			"in_progress":   types.StateInProgress,
			"investigating": types.StateInProgress,
			"pending":       types.StatePending,
			"waiting":       types.StatePending,
			"blocked":       types.StateBlocked,
			"hold":          types.StateBlocked,
			"fixed":         types.StateClosed,
			"resolved":      types.StateClosed,
			"done":          types.StateClosed,
			"closed":        types.StateClosed,
		},
	}
}

// LoadVocabulary returns the default vocabulary extended by the YAML file at path.
// Entries in the file override built-in ones; an empty path returns the defaults.
//
// Example file:
//
//	zendesk:
//	  escalated: blocked
//	shortcut:
//	  "500012345": in_progress
func LoadVocabulary(path string) (*Vocabulary, error) {
	v := DefaultVocabulary()
	if path == "" {
		return v, nil
	}

	data, err := os.ReadFile(path) // #nosec G304 - path comes from user config
	if err != nil {
		return nil, fmt.Errorf("failed to read vocabulary file: %w", err)
	}

	var overrides Vocabulary
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("%w: failed to parse vocabulary file %s: %v", types.ErrMalformedInput, path, err)
	}
	if err := v.merge(&overrides); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

func (v *Vocabulary) merge(o *Vocabulary) error {
	for _, pair := range []struct {
		dst, src map[string]types.State
	}{
		{v.Zendesk, o.Zendesk},
		{v.Shortcut, o.Shortcut},
		{v.Slack, o.Slack},
	} {
		for k, s := range pair.src {
			if !isClosedSetState(s) {
				return fmt.Errorf("%w: %q maps to unsupported state %q", types.ErrMalformedInput, k, s)
			}
			pair.dst[strings.ToLower(strings.TrimSpace(k))] = s
		}
	}
	return nil
}

func isClosedSetState(s types.State) bool {
	for _, known := range types.AllStates {
		if s == known {
			return true
		}
	}
	return false
}

func (v *Vocabulary) table(source types.SourceSystem) map[string]types.State {
	switch source {
	case types.SourceZendesk:
		return v.Zendesk
	case types.SourceShortcut:
		return v.Shortcut
	case types.SourceSlack:
		return v.Slack
	}
	return nil
}

// NormalizeState maps a native status into the closed state set.
// Unrecognized values become unknown(<native>); an empty Slack status is open.
func (v *Vocabulary) NormalizeState(source types.SourceSystem, native string) types.State {
	key := strings.ToLower(strings.TrimSpace(native))
	if key == "" {
		if source == types.SourceSlack {
			return types.StateOpen
		}
		return types.StateUnknown
	}
	if s, ok := v.table(source)[key]; ok {
		return s
	}
	return types.UnknownState(native)
}

// NormalizeState maps a native status using the default vocabulary
func NormalizeState(source types.SourceSystem, native string) types.State {
	return defaultVocabulary.NormalizeState(source, native)
}

var defaultVocabulary = DefaultVocabulary()
