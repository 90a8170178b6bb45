// Package bpstore persists user breakpoints in a YAML file and reloads
// them when the file changes on disk.
//
//	version: "1"
//	breakpoints:
//	  - uri: file:///src/app/main.go
//	    line: 12
//	    enabled: true
//	    condition: n > 3
//
// FileStore embeds a debug.MemoryStore, so sessions observe file edits
// through the ordinary OnDidChangeMarkers notifications.
package bpstore
