// Package registry loads agent and workflow definitions from a directory of
// YAML or JSON files and serves lookups to the engines. It is injected, never
// global, and can hot-reload when the directory changes.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/selim/orkestra/pkg/run"
	"github.com/selim/orkestra/pkg/workflow"
)

// MaxFileSize is the largest definition file the loader accepts.
const MaxFileSize = 1 * 1024 * 1024

// Definition is the shape of one definition file. A file may declare agents,
// workflows, or both.
type Definition struct {
	Agents    []run.Agent         `json:"agents" yaml:"agents"`
	Workflows []workflow.Workflow `json:"workflows" yaml:"workflows"`
}

// Registry holds the currently loaded definitions. Load replaces the whole
// set atomically, so readers never observe a half-reloaded directory.
type Registry struct {
	dir    string
	logger zerolog.Logger

	mu        sync.RWMutex
	agents    map[string]*run.Agent
	workflows map[string]*workflow.Workflow
}

// New creates a registry over the given directory. Call Load before use.
func New(dir string, logger zerolog.Logger) *Registry {
	return &Registry{
		dir:       dir,
		logger:    logger,
		agents:    make(map[string]*run.Agent),
		workflows: make(map[string]*workflow.Workflow),
	}
}

// Load reads every .yaml/.yml/.json file in the directory and replaces the
// registry contents. A file that fails to parse or validate rejects the whole
// load, leaving the previous set in place.
func (r *Registry) Load() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("failed to read definitions directory: %w", err)
	}

	agents := make(map[string]*run.Agent)
	workflows := make(map[string]*workflow.Workflow)

	for _, entry := range entries {
		if entry.IsDir() || !isDefinitionFile(entry.Name()) {
			continue
		}

		path := filepath.Join(r.dir, entry.Name())
		def, err := loadFile(path)
		if err != nil {
			return fmt.Errorf("%s: %w", entry.Name(), err)
		}

		for i := range def.Agents {
			a := &def.Agents[i]
			if err := validateAgent(a); err != nil {
				return fmt.Errorf("%s: %w", entry.Name(), err)
			}
			if _, dup := agents[a.ID]; dup {
				return fmt.Errorf("%s: duplicate agent id %q", entry.Name(), a.ID)
			}
			agents[a.ID] = a
		}
		for i := range def.Workflows {
			w := &def.Workflows[i]
			if w.ID == "" {
				return fmt.Errorf("%s: workflow %d has no id", entry.Name(), i)
			}
			if err := w.Validate(); err != nil {
				return fmt.Errorf("%s: workflow %s: %w", entry.Name(), w.ID, err)
			}
			if _, dup := workflows[w.ID]; dup {
				return fmt.Errorf("%s: duplicate workflow id %q", entry.Name(), w.ID)
			}
			workflows[w.ID] = w
		}
	}

	r.mu.Lock()
	r.agents = agents
	r.workflows = workflows
	r.mu.Unlock()

	r.logger.Info().
		Int("agents", len(agents)).
		Int("workflows", len(workflows)).
		Str("dir", r.dir).
		Msg("Definitions loaded")

	return nil
}

// GetAgent looks up an agent definition by id. It satisfies the workflow
// engine's AgentSource.
func (r *Registry) GetAgent(ctx context.Context, id string) (*run.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent not found: %s", id)
	}
	return a, nil
}

// GetWorkflow looks up a workflow definition by id.
func (r *Registry) GetWorkflow(id string) (*workflow.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.workflows[id]
	if !ok {
		return nil, fmt.Errorf("workflow not found: %s", id)
	}
	return w, nil
}

// ListAgents returns all agent ids, sorted.
func (r *Registry) ListAgents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ListWorkflows returns all workflow ids, sorted.
func (r *Registry) ListWorkflows() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.workflows))
	for id := range r.workflows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func isDefinitionFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

func loadFile(path string) (*Definition, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("file size %d exceeds maximum %d", info.Size(), MaxFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var def Definition
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("failed to parse json: %w", err)
		}
		return &def, nil
	}

	// The model types carry json tags, so YAML goes through an intermediate
	// decode and a JSON round trip instead of duplicating every tag.
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse yaml: %w", err)
	}
	bridged, err := json.Marshal(normalizeYAML(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to convert yaml: %w", err)
	}
	if err := json.Unmarshal(bridged, &def); err != nil {
		return nil, fmt.Errorf("failed to decode definition: %w", err)
	}
	return &def, nil
}

// normalizeYAML rewrites map[interface{}]interface{} trees into
// map[string]interface{} so they survive JSON marshalling.
func normalizeYAML(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(val)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normalizeYAML(val)
		}
		return out
	default:
		return v
	}
}

// validateAgent checks the fields the engines cannot run without. Budget
// fields fall back to the runner's defaults when omitted.
func validateAgent(a *run.Agent) error {
	if a.ID == "" {
		return fmt.Errorf("agent has no id")
	}
	if a.Provider == "" {
		return fmt.Errorf("agent %s has no provider", a.ID)
	}
	if a.Model == "" {
		return fmt.Errorf("agent %s has no model", a.ID)
	}
	return nil
}
