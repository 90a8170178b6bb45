package debug

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Request kinds.
const (
	RequestLaunch = "launch"
	RequestAttach = "attach"
)

// Configuration is a debug launch configuration.
//
// Type, Request and Name are common to all adapters; everything else is
// carried in Fields and sent to the adapter untouched.
type Configuration struct {
	Type    string
	Request string
	Name    string

	// DebugServer is the host:port of an adapter already listening on a socket.
	DebugServer string

	// DebugServerURL is the ws:// or wss:// URL of an adapter behind a WebSocket.
	DebugServerURL string

	// Resolved marks a configuration whose variables were already substituted.
	Resolved bool

	// Fields holds the adapter-specific attributes.
	Fields map[string]any
}

// Clone returns a deep copy of c.
func (c Configuration) Clone() Configuration {
	out := c
	out.Fields = cloneValue(c.Fields).(map[string]any)
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	case nil:
		return map[string]any(nil)
	default:
		return v
	}
}

// Field returns an adapter-specific attribute.
func (c Configuration) Field(key string) (any, bool) {
	v, ok := c.Fields[key]
	return v, ok
}

// StringField returns an adapter-specific attribute as a string.
func (c Configuration) StringField(key string) string {
	if s, ok := c.Fields[key].(string); ok {
		return s
	}
	return ""
}

// Validate checks the common attributes.
func (c Configuration) Validate() error {
	if c.Type == "" {
		return fmt.Errorf("configuration %q: type is required", c.Name)
	}
	if c.Name == "" {
		return fmt.Errorf("configuration of type %q: name is required", c.Type)
	}
	switch c.Request {
	case RequestLaunch, RequestAttach:
		return nil
	default:
		return fmt.Errorf("configuration %q: invalid request type %q", c.Name, c.Request)
	}
}

// MarshalJSON flattens the configuration into one object, as sent to the adapter.
func (c Configuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.toMap())
}

// UnmarshalJSON reads a flat configuration object.
func (c *Configuration) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	cfg, err := configurationFromMap(m)
	if err != nil {
		return err
	}
	*c = cfg
	return nil
}

func (c Configuration) toMap() map[string]any {
	m := make(map[string]any, len(c.Fields)+5)
	for k, v := range c.Fields {
		m[k] = v
	}
	m["type"] = c.Type
	m["request"] = c.Request
	m["name"] = c.Name
	if c.DebugServer != "" {
		m["debugServer"] = c.DebugServer
	}
	if c.DebugServerURL != "" {
		m["debugServerURL"] = c.DebugServerURL
	}
	return m
}

func configurationFromMap(m map[string]any) (Configuration, error) {
	cfg := Configuration{Fields: make(map[string]any)}
	for k, v := range m {
		switch k {
		case "type":
			cfg.Type = fmt.Sprint(v)
		case "request":
			cfg.Request = fmt.Sprint(v)
		case "name":
			cfg.Name = fmt.Sprint(v)
		case "debugServer":
			addr, err := debugServerAddress(v)
			if err != nil {
				return Configuration{}, err
			}
			cfg.DebugServer = addr
		case "debugServerURL":
			cfg.DebugServerURL = fmt.Sprint(v)
		default:
			cfg.Fields[k] = normalizeValue(v)
		}
	}
	if cfg.Request == "" {
		cfg.Request = RequestLaunch
	}
	return cfg, nil
}

// debugServerAddress accepts a bare port number or a host:port string.
func debugServerAddress(v any) (string, error) {
	switch t := v.(type) {
	case int:
		return "127.0.0.1:" + strconv.Itoa(t), nil
	case int64:
		return "127.0.0.1:" + strconv.FormatInt(t, 10), nil
	case float64:
		return "127.0.0.1:" + strconv.Itoa(int(t)), nil
	case string:
		if _, err := strconv.Atoi(t); err == nil {
			return "127.0.0.1:" + t, nil
		}
		return t, nil
	default:
		return "", fmt.Errorf("invalid debugServer %v", v)
	}
}

// normalizeValue turns decoder-specific containers into map[string]any and []any.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = normalizeValue(e)
		}
		return m
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[fmt.Sprint(k)] = normalizeValue(e)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = normalizeValue(e)
		}
		return s
	case []map[string]any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = normalizeValue(e)
		}
		return s
	default:
		return v
	}
}

// LaunchFile is a set of named configurations.
type LaunchFile struct {
	Version        string
	Configurations []Configuration
}

// Find returns the configuration with the given name.
func (f *LaunchFile) Find(name string) (Configuration, bool) {
	for _, c := range f.Configurations {
		if c.Name == name {
			return c, true
		}
	}
	return Configuration{}, false
}

// Names returns the configuration names in file order.
func (f *LaunchFile) Names() []string {
	names := make([]string, len(f.Configurations))
	for i, c := range f.Configurations {
		names[i] = c.Name
	}
	return names
}

// LoadLaunchFile reads a YAML, TOML, or JSON launch file, chosen by extension.
func LoadLaunchFile(path string) (*LaunchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read launch file: %w", err)
	}
	return ParseLaunchFile(data, filepath.Ext(path))
}

// ParseLaunchFile decodes launch file content in the format named by ext.
func ParseLaunchFile(data []byte, ext string) (*LaunchFile, error) {
	var raw map[string]any
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse yaml launch file: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse toml launch file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse json launch file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported launch file format %q", ext)
	}

	file := &LaunchFile{}
	if v, ok := raw["version"]; ok {
		file.Version = fmt.Sprint(v)
	}

	list, _ := normalizeValue(raw["configurations"]).([]any)
	seen := make(map[string]struct{}, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("configuration %d: not an object", i)
		}
		cfg, err := configurationFromMap(m)
		if err != nil {
			return nil, fmt.Errorf("configuration %d: %w", i, err)
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[cfg.Name]; dup {
			return nil, fmt.Errorf("duplicate configuration name %q", cfg.Name)
		}
		seen[cfg.Name] = struct{}{}
		file.Configurations = append(file.Configurations, cfg)
	}
	return file, nil
}

// Variables supplies the values substituted into configurations.
type Variables struct {
	WorkspaceFolder string
	Cwd             string
	UserHome        string

	// Env looks up environment variables; os.LookupEnv when nil.
	Env func(string) (string, bool)
}

// DefaultVariables returns variables for the current process.
func DefaultVariables(workspace string) Variables {
	cwd, _ := os.Getwd()
	home, _ := os.UserHomeDir()
	if workspace == "" {
		workspace = cwd
	}
	return Variables{WorkspaceFolder: workspace, Cwd: cwd, UserHome: home}
}

// Substitute replaces ${workspaceFolder}, ${cwd}, ${userHome}, ${pathSeparator}
// and ${env:NAME} in s. Unknown variables are left as they are.
func (v Variables) Substitute(s string) string {
	var b strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			b.WriteString(s)
			return b.String()
		}
		end := strings.IndexByte(s[start:], '}')
		if end < 0 {
			b.WriteString(s)
			return b.String()
		}
		end += start

		b.WriteString(s[:start])
		name := s[start+2 : end]
		if value, ok := v.lookup(name); ok {
			b.WriteString(value)
		} else {
			b.WriteString(s[start : end+1])
		}
		s = s[end+1:]
	}
}

func (v Variables) lookup(name string) (string, bool) {
	switch name {
	case "workspaceFolder":
		return v.WorkspaceFolder, true
	case "cwd":
		return v.Cwd, true
	case "userHome":
		return v.UserHome, true
	case "pathSeparator":
		return string(os.PathSeparator), true
	}
	if env, ok := strings.CutPrefix(name, "env:"); ok {
		lookup := v.Env
		if lookup == nil {
			lookup = os.LookupEnv
		}
		value, _ := lookup(env)
		return value, true
	}
	return "", false
}

// Resolve substitutes variables in every string of the configuration and
// marks it resolved. A configuration already resolved is returned unchanged.
func (v Variables) Resolve(c Configuration) Configuration {
	if c.Resolved {
		return c
	}
	out := c.Clone()
	out.Name = v.Substitute(out.Name)
	out.DebugServer = v.Substitute(out.DebugServer)
	out.DebugServerURL = v.Substitute(out.DebugServerURL)

	for k, value := range out.Fields {
		out.Fields[k] = v.substituteValue(value)
	}
	out.Resolved = true
	return out
}

func (v Variables) substituteValue(value any) any {
	switch t := value.(type) {
	case string:
		return v.Substitute(t)
	case map[string]any:
		for k, e := range t {
			t[k] = v.substituteValue(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = v.substituteValue(e)
		}
		return t
	default:
		return value
	}
}
