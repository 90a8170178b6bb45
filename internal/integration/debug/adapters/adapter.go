// Package adapters provides per-type session contributions for common debug adapters.
//
// A contribution validates configurations of its debug type and fills in the
// adapter defaults the user left out before the launch or attach request is sent.
package adapters

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/dshills/dapsession/internal/integration/debug"
)

// Debug types of the built-in contributions.
const (
	TypeGo     = "go"
	TypePython = "debugpy"
	TypeNode   = "node"
)

// Contribution describes how sessions of one debug type are started.
type Contribution struct {
	// Type is the configuration type this contribution serves.
	Type string

	// Label is a human-readable adapter name.
	Label string

	// Extensions lists the source file extensions the adapter debugs.
	Extensions []string

	// LaunchDefaults and AttachDefaults are applied for keys the configuration leaves out.
	// Keys may use sjson paths.
	LaunchDefaults map[string]any
	AttachDefaults map[string]any

	// Validate checks the adapter-specific attributes.
	Validate func(debug.Configuration) error

	// Shape rewrites the arguments after defaults were applied. Optional.
	Shape func(args []byte) ([]byte, error)
}

// LaunchArguments renders the launch or attach arguments for cfg.
func (c Contribution) LaunchArguments(cfg debug.Configuration) (json.RawMessage, error) {
	if c.Validate != nil {
		if err := c.Validate(cfg); err != nil {
			return nil, fmt.Errorf("%s configuration %q: %w", c.Type, cfg.Name, err)
		}
	}

	args, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}

	defaults := c.LaunchDefaults
	if cfg.Request == debug.RequestAttach {
		defaults = c.AttachDefaults
	}
	args, err = applyDefaults(args, defaults)
	if err != nil {
		return nil, err
	}

	if c.Shape != nil {
		if args, err = c.Shape(args); err != nil {
			return nil, err
		}
	}
	return args, nil
}

// applyDefaults sets every key of defaults that args does not carry, in key order.
func applyDefaults(args []byte, defaults map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var err error
	for _, k := range keys {
		if gjson.GetBytes(args, k).Exists() {
			continue
		}
		if args, err = sjson.SetBytes(args, k, defaults[k]); err != nil {
			return nil, fmt.Errorf("apply default %s: %w", k, err)
		}
	}
	return args, nil
}

// Factory returns a session factory that sends this contribution's arguments.
func (c Contribution) Factory() debug.SessionFactory {
	return func(p debug.SessionParams) *debug.Session {
		p.LaunchArguments = c.LaunchArguments
		return debug.NewSession(p)
	}
}

// Registry holds the known contributions by type.
type Registry struct {
	contributions map[string]Contribution
}

// NewRegistry creates a registry with the built-in contributions.
func NewRegistry() *Registry {
	r := &Registry{contributions: make(map[string]Contribution)}
	r.Register(Delve())
	r.Register(Python())
	r.Register(Node())
	return r
}

// Register adds or replaces a contribution.
func (r *Registry) Register(c Contribution) {
	r.contributions[c.Type] = c
}

// Get returns the contribution for a debug type.
func (r *Registry) Get(debugType string) (Contribution, bool) {
	c, ok := r.contributions[debugType]
	return c, ok
}

// Types returns the registered debug types, sorted.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.contributions))
	for t := range r.contributions {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// ManagerOptions returns options registering every contribution's factory with a Manager.
func (r *Registry) ManagerOptions() []debug.ManagerOption {
	opts := make([]debug.ManagerOption, 0, len(r.contributions))
	for _, t := range r.Types() {
		opts = append(opts, debug.WithSessionFactory(t, r.contributions[t].Factory()))
	}
	return opts
}

// DetectType returns the debug type for a source file, or "" if none matches.
func (r *Registry) DetectType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return ""
	}
	for _, t := range r.Types() {
		for _, e := range r.contributions[t].Extensions {
			if e == ext {
				return t
			}
		}
	}
	return ""
}

func hasField(cfg debug.Configuration, key string) bool {
	v, ok := cfg.Field(key)
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	}
	return true
}
