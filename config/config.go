// Package config loads a declarative workflow definition from YAML and
// resolves it into a runnable workflow. Runners and tools are code, not
// configuration: the definition references them by name and the loader
// resolves the names against caller-supplied registries.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agentrelay/agent"
	"github.com/hupe1980/agentrelay/model"
	"github.com/hupe1980/agentrelay/tool"
	"github.com/hupe1980/agentrelay/workflow"
)

// Definition is the YAML shape of a workflow.
type Definition struct {
	// Triage names the entry agent. It must appear in Agents.
	Triage string `yaml:"triage"`
	// MaxRounds caps agent activations per turn. Zero means the engine
	// default.
	MaxRounds int `yaml:"max_rounds"`
	// Streaming selects the chunked model calling convention.
	Streaming bool `yaml:"streaming"`
	// Agents defines the participants in declaration order. Order matters:
	// pattern routing breaks ties by it.
	Agents []AgentDefinition `yaml:"agents"`
}

// AgentDefinition is the YAML shape of one agent.
type AgentDefinition struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Instructions string   `yaml:"instructions"`
	Runner       string   `yaml:"runner"`
	Tools        []string `yaml:"tools"`
	Handoffs     []string `yaml:"handoffs"`
	TurnLimit    int      `yaml:"turn_limit"`
	WindowSize   int      `yaml:"window_size"`
	Patterns     []string `yaml:"patterns"`
	Regexps      []string `yaml:"regexps"`
}

// Load reads and validates a definition from a YAML file.
func Load(path string) (*Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates a definition from YAML bytes.
func Parse(raw []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks referential integrity of the definition.
func (d *Definition) Validate() error {
	if len(d.Agents) == 0 {
		return fmt.Errorf("config: no agents defined")
	}
	if d.Triage == "" {
		return fmt.Errorf("config: triage agent not named")
	}

	names := map[string]bool{}
	for _, a := range d.Agents {
		if a.Name == "" {
			return fmt.Errorf("config: agent with empty name")
		}
		if names[a.Name] {
			return fmt.Errorf("config: duplicate agent name %q", a.Name)
		}
		names[a.Name] = true
	}
	if !names[d.Triage] {
		return fmt.Errorf("config: triage agent %q not defined", d.Triage)
	}
	for _, a := range d.Agents {
		for _, target := range a.Handoffs {
			if !names[target] {
				return fmt.Errorf("config: agent %q hands off to unknown agent %q", a.Name, target)
			}
		}
	}
	return nil
}

// Registry resolves the names a definition references to concrete
// implementations.
type Registry struct {
	// Runners maps runner names to implementations. The empty name keys the
	// default runner used by agents that do not name one.
	Runners map[string]model.Runner
	// Tools maps tool names to implementations.
	Tools map[string]tool.Tool
}

// Build resolves the definition against the registry and constructs the
// workflow. Additional option functions apply on top of the definition, so
// code-level concerns (memory, guards, trackers) stay out of YAML.
func Build(def *Definition, reg Registry, optFns ...func(o *workflow.Options)) (*workflow.Workflow, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	var triage *agent.Agent
	var specialists []*agent.Agent
	for _, ad := range def.Agents {
		ag, err := buildAgent(ad, reg)
		if err != nil {
			return nil, err
		}
		if ad.Name == def.Triage {
			triage = ag
			continue
		}
		specialists = append(specialists, ag)
	}

	fns := append([]func(o *workflow.Options){func(o *workflow.Options) {
		o.MaxRounds = def.MaxRounds
		o.Streaming = def.Streaming
	}}, optFns...)

	return workflow.New(triage, specialists, fns...)
}

func buildAgent(ad AgentDefinition, reg Registry) (*agent.Agent, error) {
	runner, ok := reg.Runners[ad.Runner]
	if !ok {
		return nil, fmt.Errorf("config: agent %q references unknown runner %q", ad.Name, ad.Runner)
	}

	tools := make([]tool.Tool, 0, len(ad.Tools))
	for _, name := range ad.Tools {
		t, ok := reg.Tools[name]
		if !ok {
			return nil, fmt.Errorf("config: agent %q references unknown tool %q", ad.Name, name)
		}
		tools = append(tools, t)
	}

	return agent.New(ad.Name, runner, func(o *agent.Options) {
		if ad.Description != "" {
			o.Description = ad.Description
		}
		if ad.Instructions != "" {
			o.Instructions = agent.StaticInstruction(ad.Instructions)
		}
		o.Tools = agent.StaticToolset(tools)
		o.Handoffs = ad.Handoffs
		if ad.TurnLimit > 0 {
			o.TurnLimit = ad.TurnLimit
		}
		o.WindowSize = ad.WindowSize
		if len(ad.Patterns) > 0 || len(ad.Regexps) > 0 {
			rule := agent.MatchPatterns(ad.Patterns...)
			if len(ad.Regexps) > 0 {
				rule = rule.WithRegexps(ad.Regexps...)
			}
			o.Match = rule
		}
	}), nil
}
