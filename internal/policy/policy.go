// Package policy loads the declarative transition table and route permission
// map, validates them and compiles them for use by the workflow and access
// packages. Both tables are embedded in the binary and may be replaced by files.
package policy

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/neomorfeo/inspectiq/internal/access"
	"github.com/neomorfeo/inspectiq/internal/domain"
)

//go:embed defaults/*.yaml
var defaults embed.FS

const (
	transitionsFile = "defaults/transitions.yaml"
	routesFile      = "defaults/routes.yaml"
)

// Policy is the loaded, validated pair of tables.
type Policy struct {
	Table    *domain.TransitionTable
	Routes   []domain.RoutePattern
	Resolver *access.Resolver
}

// DefaultTransitions returns the embedded transition table source.
func DefaultTransitions() []byte {
	data, _ := defaults.ReadFile(transitionsFile)
	return data
}

// DefaultRoutes returns the embedded route map source.
func DefaultRoutes() []byte {
	data, _ := defaults.ReadFile(routesFile)
	return data
}

// LoadDefault loads the embedded tables.
func LoadDefault() (*Policy, error) {
	return Load(DefaultTransitions(), DefaultRoutes())
}

// LoadFiles loads tables from disk. An empty path selects the embedded table.
func LoadFiles(transitionsPath, routesPath string) (*Policy, error) {
	transitions := DefaultTransitions()
	routes := DefaultRoutes()

	if transitionsPath != "" {
		data, err := os.ReadFile(transitionsPath)
		if err != nil {
			return nil, fmt.Errorf("reading transition table: %w", err)
		}
		transitions = data
	}
	if routesPath != "" {
		data, err := os.ReadFile(routesPath)
		if err != nil {
			return nil, fmt.Errorf("reading route map: %w", err)
		}
		routes = data
	}
	return Load(transitions, routes)
}

// Load parses and validates both tables. Any inconsistency is returned as a
// *domain.ConfigurationError; callers should treat it as fatal.
func Load(transitionsYAML, routesYAML []byte) (*Policy, error) {
	table, err := ParseTransitions(transitionsYAML)
	if err != nil {
		return nil, err
	}
	routes, err := ParseRoutes(routesYAML)
	if err != nil {
		return nil, err
	}
	resolver, err := access.NewResolver(routes)
	if err != nil {
		return nil, err
	}
	return &Policy{Table: table, Routes: routes, Resolver: resolver}, nil
}

type transitionsDoc struct {
	View struct {
		Label    string `yaml:"label"`
		Priority int    `yaml:"priority"`
	} `yaml:"view"`
	Kinds map[string]kindDoc `yaml:"kinds"`
}

type kindDoc struct {
	States []string  `yaml:"states"`
	Rules  []ruleDoc `yaml:"rules"`
}

type ruleDoc struct {
	Action         string    `yaml:"action"`
	From           stateList `yaml:"from"`
	To             string    `yaml:"to"`
	Label          string    `yaml:"label"`
	Permission     string    `yaml:"permission"`
	Priority       int       `yaml:"priority"`
	Destructive    bool      `yaml:"destructive"`
	RequiresReason bool      `yaml:"requires_reason"`
	Confirm        *bool     `yaml:"confirm"`
	Params         []string  `yaml:"params"`
	Effects        []string  `yaml:"effects"`
}

// stateList accepts either a single state or a sequence of states.
type stateList []string

func (s *stateList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*s = stateList{value.Value}
		return nil
	}
	var many []string
	if err := value.Decode(&many); err != nil {
		return err
	}
	*s = many
	return nil
}

// ParseTransitions decodes and validates a transition table document.
func ParseTransitions(data []byte) (*domain.TransitionTable, error) {
	var doc transitionsDoc
	if err := decodeStrict(data, &doc); err != nil {
		return nil, &domain.ConfigurationError{Source: "transition table", Problems: []string{err.Error()}}
	}

	var problems []string
	states := make(map[domain.EntityKind][]domain.WorkflowState, len(doc.Kinds))
	var rules []domain.TransitionRule

	for name := range doc.Kinds {
		if !domain.EntityKind(name).Valid() {
			problems = append(problems, fmt.Sprintf("unknown kind %q", name))
		}
	}

	// Iterate kinds in a fixed order so rule order is deterministic.
	for _, kind := range domain.Kinds {
		kd, ok := doc.Kinds[string(kind)]
		if !ok {
			continue
		}
		for _, s := range kd.States {
			states[kind] = append(states[kind], domain.WorkflowState(s))
		}
		for _, rd := range kd.Rules {
			if len(rd.From) == 0 {
				problems = append(problems, fmt.Sprintf("%s rule %q has no from state", kind, rd.Action))
				continue
			}
			for _, from := range rd.From {
				rules = append(rules, rd.rule(kind, domain.WorkflowState(from)))
			}
		}
	}

	table := domain.NewTransitionTable(
		domain.ViewAction{Label: doc.View.Label, Priority: doc.View.Priority},
		states,
		rules,
	)
	if err := table.Validate(); err != nil {
		var cfgErr *domain.ConfigurationError
		if errors.As(err, &cfgErr) {
			problems = append(problems, cfgErr.Problems...)
		} else {
			return nil, err
		}
	}
	if len(problems) > 0 {
		return nil, &domain.ConfigurationError{Source: "transition table", Problems: problems}
	}
	return table, nil
}

func (rd ruleDoc) rule(kind domain.EntityKind, from domain.WorkflowState) domain.TransitionRule {
	confirm := rd.Destructive || rd.RequiresReason
	if rd.Confirm != nil {
		confirm = *rd.Confirm
	}
	effects := make([]domain.Effect, len(rd.Effects))
	for i, e := range rd.Effects {
		effects[i] = domain.Effect(e)
	}
	return domain.TransitionRule{
		Kind:                 kind,
		From:                 from,
		To:                   domain.WorkflowState(rd.To),
		Action:               domain.Action(rd.Action),
		Label:                rd.Label,
		Permission:           rd.Permission,
		Priority:             rd.Priority,
		Destructive:          rd.Destructive,
		RequiresReason:       rd.RequiresReason,
		RequiresConfirmation: confirm,
		Params:               append([]string(nil), rd.Params...),
		Effects:              effects,
	}
}

type routesDoc struct {
	Routes []struct {
		Pattern    string `yaml:"pattern"`
		Permission string `yaml:"permission"`
	} `yaml:"routes"`
}

// ParseRoutes decodes a route map document. Pattern validation happens when
// the routes are compiled by access.NewResolver.
func ParseRoutes(data []byte) ([]domain.RoutePattern, error) {
	var doc routesDoc
	if err := decodeStrict(data, &doc); err != nil {
		return nil, &domain.ConfigurationError{Source: "route map", Problems: []string{err.Error()}}
	}
	routes := make([]domain.RoutePattern, len(doc.Routes))
	for i, r := range doc.Routes {
		routes[i] = domain.RoutePattern{Pattern: r.Pattern, Permission: r.Permission}
	}
	return routes, nil
}

// decodeStrict rejects unknown fields so typos in a table fail at startup.
func decodeStrict(data []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid yaml: %w", err)
	}
	return nil
}
