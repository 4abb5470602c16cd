package agents

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"indiistudio/internal/logging"
	"indiistudio/internal/types"
)

// Runner executes a task as one agent and returns its final text.
type Runner interface {
	RunTask(ctx context.Context, ec *types.ExecutionContext, req types.ExecutionRequest) (string, error)
}

// Factory builds the live Runner for a definition.
type Factory func(def Definition) (Runner, error)

// Agent is a definition bound to its live runtime.
type Agent struct {
	Definition
	Runner Runner
}

// Directory is the Delegation Registry. Definitions are fixed at construction;
// runtimes are built lazily on first Get and cached. A factory failure leaves
// the id known but not live, and is retried on the next Get.
type Directory struct {
	defs    []Definition
	byID    map[string]Definition
	factory Factory

	mu   sync.Mutex
	live map[string]*Agent
}

// NewDirectory indexes defs. factory may be nil, in which case only agents
// added with Register are live.
func NewDirectory(defs []Definition, factory Factory) (*Directory, error) {
	d := &Directory{
		byID:    make(map[string]Definition, len(defs)),
		factory: factory,
		live:    make(map[string]*Agent),
	}
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return nil, err
		}
		if _, dup := d.byID[def.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAgent, def.ID)
		}
		d.byID[def.ID] = def
		d.defs = append(d.defs, def)
	}
	return d, nil
}

// KnownIDs returns every defined id in roster order.
func (d *Directory) KnownIDs() []string {
	ids := make([]string, len(d.defs))
	for i, def := range d.defs {
		ids[i] = def.ID
	}
	return ids
}

// Definition returns the definition for id.
func (d *Directory) Definition(id string) (Definition, bool) {
	def, ok := d.byID[id]
	return def, ok
}

// Definitions returns all definitions in roster order.
func (d *Directory) Definitions() []Definition {
	return append([]Definition(nil), d.defs...)
}

// Register installs a live runtime for a known id.
func (d *Directory) Register(id string, r Runner) error {
	def, ok := d.byID[id]
	if !ok {
		return fmt.Errorf("unknown agent id: %s", id)
	}
	d.mu.Lock()
	d.live[id] = &Agent{Definition: def, Runner: r}
	d.mu.Unlock()
	return nil
}

// Get returns the live agent for id, instantiating it if needed.
func (d *Directory) Get(id string) (*Agent, bool) {
	def, ok := d.byID[id]
	if !ok {
		return nil, false
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if a, ok := d.live[id]; ok {
		return a, true
	}
	if d.factory == nil {
		return nil, false
	}
	r, err := d.factory(def)
	if err != nil || r == nil {
		logging.Get(logging.CategoryAgents).Error("Failed to load agent %s: %v", id, err)
		return nil, false
	}
	a := &Agent{Definition: def, Runner: r}
	d.live[id] = a
	logging.AgentsDebug("Instantiated agent %s", id)
	return a, true
}

// ListCapabilities returns one "- Name (id): description" line per agent.
func (d *Directory) ListCapabilities() string {
	lines := make([]string, len(d.defs))
	for i, def := range d.defs {
		lines[i] = fmt.Sprintf("- %s (%s): %s", def.Name, def.ID, def.Description)
	}
	return strings.Join(lines, "\n")
}

// SystemPrompt returns def's prompt with the capabilities placeholder filled in.
func (d *Directory) SystemPrompt(def Definition) string {
	if !strings.Contains(def.SystemPrompt, CapabilitiesPlaceholder) {
		return def.SystemPrompt
	}
	return strings.ReplaceAll(def.SystemPrompt, CapabilitiesPlaceholder, d.ListCapabilities())
}
