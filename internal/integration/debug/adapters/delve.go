package adapters

import (
	"errors"
	"fmt"
	"sort"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/dshills/dapsession/internal/integration/debug"
)

// Delve returns the contribution for Go debugging with dlv dap.
func Delve() Contribution {
	return Contribution{
		Type:       TypeGo,
		Label:      "Delve (Go Debugger)",
		Extensions: []string{".go"},
		LaunchDefaults: map[string]any{
			"mode":            "debug",
			"stackTraceDepth": 50,
		},
		AttachDefaults: map[string]any{
			"mode":            "local",
			"stackTraceDepth": 50,
		},
		Validate: validateDelve,
		Shape:    shapeSubstitutePath,
	}
}

func validateDelve(cfg debug.Configuration) error {
	switch cfg.Request {
	case debug.RequestLaunch:
		if !hasField(cfg, "program") {
			return errors.New("program is required for launch request")
		}
		switch cfg.StringField("mode") {
		case "", "debug", "test", "exec", "core", "replay":
		default:
			return fmt.Errorf("invalid mode %q", cfg.StringField("mode"))
		}
	case debug.RequestAttach:
		if !hasField(cfg, "processId") && cfg.StringField("mode") != "remote" {
			return errors.New("processId is required for local attach")
		}
	}
	return nil
}

// shapeSubstitutePath turns a {from: to} object into the [{from, to}] list dlv expects.
func shapeSubstitutePath(args []byte) ([]byte, error) {
	subs := gjson.GetBytes(args, "substitutePath")
	if !subs.IsObject() {
		return args, nil
	}

	var list []map[string]string
	subs.ForEach(func(from, to gjson.Result) bool {
		list = append(list, map[string]string{"from": from.String(), "to": to.String()})
		return true
	})
	sort.Slice(list, func(i, j int) bool { return list[i]["from"] < list[j]["from"] })
	return sjson.SetBytes(args, "substitutePath", list)
}
