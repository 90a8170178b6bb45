package debug

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlLaunch = `
version: "1"
configurations:
  - name: Launch app
    type: go
    request: launch
    program: ${workspaceFolder}/cmd/app
    args: ["-v", "${env:APP_MODE}"]
    env:
      HOME_DIR: ${userHome}
    debugServer: 4711
  - name: Attach
    type: go
    request: attach
    processId: 1234
    debugServerURL: ws://localhost:8080/dap
`

const tomlLaunch = `
version = "1"

[[configurations]]
name = "Launch app"
type = "go"
program = "./cmd/app"
debugServer = "localhost:4711"

[configurations.env]
LEVEL = "debug"
`

const jsonLaunch = `{
  "version": "1",
  "configurations": [
    {"name": "Node", "type": "node", "request": "launch", "program": "index.js", "debugServer": "9229"}
  ]
}`

func TestParseLaunchFile_YAML(t *testing.T) {
	file, err := ParseLaunchFile([]byte(yamlLaunch), ".yaml")
	require.NoError(t, err)

	assert.Equal(t, "1", file.Version)
	assert.Equal(t, []string{"Launch app", "Attach"}, file.Names())

	launch, ok := file.Find("Launch app")
	require.True(t, ok)
	assert.Equal(t, "go", launch.Type)
	assert.Equal(t, RequestLaunch, launch.Request)
	assert.Equal(t, "127.0.0.1:4711", launch.DebugServer)
	assert.Equal(t, "${workspaceFolder}/cmd/app", launch.StringField("program"))
	assert.Equal(t, []any{"-v", "${env:APP_MODE}"}, launch.Fields["args"])
	assert.Equal(t, map[string]any{"HOME_DIR": "${userHome}"}, launch.Fields["env"])

	attach, ok := file.Find("Attach")
	require.True(t, ok)
	assert.Equal(t, RequestAttach, attach.Request)
	assert.Equal(t, "ws://localhost:8080/dap", attach.DebugServerURL)

	_, ok = file.Find("missing")
	assert.False(t, ok)
}

func TestParseLaunchFile_TOML(t *testing.T) {
	file, err := ParseLaunchFile([]byte(tomlLaunch), ".toml")
	require.NoError(t, err)
	require.Len(t, file.Configurations, 1)

	cfg := file.Configurations[0]
	assert.Equal(t, RequestLaunch, cfg.Request, "request defaults to launch")
	assert.Equal(t, "localhost:4711", cfg.DebugServer)
	assert.Equal(t, map[string]any{"LEVEL": "debug"}, cfg.Fields["env"])
}

func TestParseLaunchFile_JSON(t *testing.T) {
	file, err := ParseLaunchFile([]byte(jsonLaunch), ".json")
	require.NoError(t, err)
	require.Len(t, file.Configurations, 1)
	assert.Equal(t, "127.0.0.1:9229", file.Configurations[0].DebugServer)
}

func TestParseLaunchFile_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		ext  string
		want string
	}{
		{"format", "x", ".ini", "unsupported launch file format"},
		{"syntax", "configurations: [", ".yaml", "parse yaml"},
		{"missing type", "configurations:\n  - name: a\n", ".yaml", "type is required"},
		{"bad request", "configurations:\n  - {name: a, type: go, request: run}\n", ".yaml", "invalid request type"},
		{"duplicate", "configurations:\n  - {name: a, type: go}\n  - {name: a, type: go}\n", ".yaml", `duplicate configuration name "a"`},
		{"not object", "configurations:\n  - 3\n", ".yaml", "not an object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLaunchFile([]byte(tt.data), tt.ext)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoadLaunchFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "launch.yml")
	require.NoError(t, os.WriteFile(path, []byte(yamlLaunch), 0o644))

	file, err := LoadLaunchFile(path)
	require.NoError(t, err)
	assert.Len(t, file.Configurations, 2)

	_, err = LoadLaunchFile(filepath.Join(t.TempDir(), "none.yaml"))
	assert.ErrorContains(t, err, "read launch file")
}

func TestConfiguration_JSON(t *testing.T) {
	cfg := Configuration{
		Type:        "go",
		Request:     RequestLaunch,
		Name:        "app",
		DebugServer: "127.0.0.1:1",
		Fields:      map[string]any{"program": "./app", "stopOnEntry": true},
	}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"go","request":"launch","name":"app","debugServer":"127.0.0.1:1","program":"./app","stopOnEntry":true}`, string(data))

	var back Configuration
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, cfg, back)
}

func TestConfiguration_Clone(t *testing.T) {
	cfg := Configuration{Name: "a", Fields: map[string]any{"env": map[string]any{"A": "1"}}}
	clone := cfg.Clone()
	clone.Fields["env"].(map[string]any)["A"] = "2"
	assert.Equal(t, "1", cfg.Fields["env"].(map[string]any)["A"])

	empty := Configuration{Name: "b"}.Clone()
	assert.Nil(t, empty.Fields)
}

func TestVariables_Substitute(t *testing.T) {
	vars := Variables{
		WorkspaceFolder: "/ws",
		Cwd:             "/cwd",
		UserHome:        "/home/u",
		Env: func(name string) (string, bool) {
			if name == "MODE" {
				return "fast", true
			}
			return "", false
		},
	}

	tests := []struct {
		in   string
		want string
	}{
		{"${workspaceFolder}/bin", "/ws/bin"},
		{"${cwd}:${userHome}", "/cwd:/home/u"},
		{"${env:MODE}-${env:NOPE}", "fast-"},
		{"${unknown} stays", "${unknown} stays"},
		{"unterminated ${cwd", "unterminated ${cwd"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, vars.Substitute(tt.in))
		})
	}
}

func TestVariables_Resolve(t *testing.T) {
	vars := Variables{WorkspaceFolder: "/ws", Env: func(string) (string, bool) { return "x", true }}
	cfg := Configuration{
		Type:    "go",
		Request: RequestLaunch,
		Name:    "${env:NAME}",
		Fields: map[string]any{
			"program": "${workspaceFolder}/app",
			"args":    []any{"${env:A}", 3},
			"env":     map[string]any{"P": "${workspaceFolder}"},
		},
	}

	resolved := vars.Resolve(cfg)
	assert.True(t, resolved.Resolved)
	assert.Equal(t, "x", resolved.Name)
	assert.Equal(t, "/ws/app", resolved.StringField("program"))
	assert.Equal(t, []any{"x", 3}, resolved.Fields["args"])
	assert.Equal(t, map[string]any{"P": "/ws"}, resolved.Fields["env"])

	assert.Equal(t, "${workspaceFolder}/app", cfg.StringField("program"), "input untouched")

	again := vars.Resolve(Configuration{Name: "${cwd}", Resolved: true})
	assert.Equal(t, "${cwd}", again.Name)
}
