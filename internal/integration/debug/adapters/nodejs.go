package adapters

import (
	"errors"

	"github.com/dshills/dapsession/internal/integration/debug"
)

// Node returns the contribution for the Node.js debugger.
func Node() Contribution {
	return Contribution{
		Type:       TypeNode,
		Label:      "Node.js Debugger",
		Extensions: []string{".js", ".mjs", ".cjs", ".ts"},
		LaunchDefaults: map[string]any{
			"console":    "internalConsole",
			"sourceMaps": true,
			"smartStep":  true,
			"timeout":    10000,
			"skipFiles":  []string{"<node_internals>/**"},
		},
		AttachDefaults: map[string]any{
			"sourceMaps": true,
			"timeout":    10000,
		},
		Validate: validateNode,
	}
}

func validateNode(cfg debug.Configuration) error {
	switch cfg.Request {
	case debug.RequestLaunch:
		if !hasField(cfg, "program") && !hasField(cfg, "runtimeExecutable") {
			return errors.New("program is required for launch request")
		}
	case debug.RequestAttach:
		if !hasField(cfg, "port") && !hasField(cfg, "processId") {
			return errors.New("port is required for attach request")
		}
	}
	return nil
}
