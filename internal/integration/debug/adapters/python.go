package adapters

import (
	"errors"

	"github.com/dshills/dapsession/internal/integration/debug"
)

// Python returns the contribution for debugpy.
func Python() Contribution {
	return Contribution{
		Type:       TypePython,
		Label:      "Python Debugger (debugpy)",
		Extensions: []string{".py"},
		LaunchDefaults: map[string]any{
			"console":         "internalConsole",
			"justMyCode":      true,
			"redirectOutput":  true,
			"showReturnValue": true,
		},
		AttachDefaults: map[string]any{
			"justMyCode": true,
		},
		Validate: validatePython,
	}
}

func validatePython(cfg debug.Configuration) error {
	switch cfg.Request {
	case debug.RequestLaunch:
		if !hasField(cfg, "program") && !hasField(cfg, "module") {
			return errors.New("program or module is required for launch request")
		}
	case debug.RequestAttach:
		if !hasField(cfg, "processId") && !hasField(cfg, "connect") && !hasField(cfg, "port") {
			return errors.New("connect, port or processId is required for attach request")
		}
	}
	return nil
}
