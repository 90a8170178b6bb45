// Package terminal runs the commands debug adapters send through the
// runInTerminal reverse request.
//
// An "integrated" request runs the command inside a pseudo-terminal and
// streams the terminal output to the spawner's writer. An "external"
// request runs it with plain pipes. Either way the process is tracked by a
// process.Supervisor, so Close reaps whatever the debuggee left behind.
package terminal
