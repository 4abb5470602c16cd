// Package agents holds agent definitions and the Delegation Registry that
// maps agent ids to live runtimes.
package agents

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"indiistudio/internal/logging"
)

//go:embed roster.yaml
var defaultRoster []byte

// CapabilitiesPlaceholder in a system prompt is replaced by ListCapabilities output.
const CapabilitiesPlaceholder = "{{capabilities}}"

var (
	ErrInvalidDefinition = errors.New("invalid agent definition")
	ErrDuplicateAgent    = errors.New("duplicate agent id")
)

var idPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// Definition is an agent: a system prompt, an allowed tool set and a turn ceiling.
type Definition struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	SystemPrompt string   `yaml:"system_prompt"`
	Tools        []string `yaml:"tools"`
	MaxTurns     int      `yaml:"max_turns,omitempty"`
}

// Validate checks the fields needed at load time.
func (d Definition) Validate() error {
	if !idPattern.MatchString(d.ID) {
		return fmt.Errorf("%w: id %q must be lowercase letters, digits, '-' or '_'", ErrInvalidDefinition, d.ID)
	}
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: %s has no name", ErrInvalidDefinition, d.ID)
	}
	if d.MaxTurns < 0 {
		return fmt.Errorf("%w: %s has negative max_turns", ErrInvalidDefinition, d.ID)
	}
	for i, tool := range d.Tools {
		if strings.TrimSpace(tool) == "" {
			return fmt.Errorf("%w: %s tool #%d is empty", ErrInvalidDefinition, d.ID, i+1)
		}
	}
	return nil
}

type rosterFile struct {
	Agents []Definition `yaml:"agents"`
}

// ParseDefinitions decodes a roster document.
func ParseDefinitions(data []byte) ([]Definition, error) {
	var file rosterFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse agent roster: %w", err)
	}
	if len(file.Agents) == 0 {
		return nil, fmt.Errorf("%w: roster has no agents", ErrInvalidDefinition)
	}

	seen := make(map[string]bool, len(file.Agents))
	for _, def := range file.Agents {
		if err := def.Validate(); err != nil {
			return nil, err
		}
		if seen[def.ID] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAgent, def.ID)
		}
		seen[def.ID] = true
	}
	return file.Agents, nil
}

// DefaultDefinitions returns the built-in roster.
func DefaultDefinitions() []Definition {
	defs, err := ParseDefinitions(defaultRoster)
	if err != nil {
		panic(fmt.Sprintf("embedded agent roster is invalid: %v", err))
	}
	return defs
}

// LoadDefinitions reads a roster file. An empty path returns the built-in roster.
func LoadDefinitions(path string) ([]Definition, error) {
	if path == "" {
		return DefaultDefinitions(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent roster: %w", err)
	}
	defs, err := ParseDefinitions(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	logging.Agents("Loaded %d agent definitions from %s", len(defs), path)
	return defs, nil
}
