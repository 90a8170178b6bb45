// Package process starts and reaps the programs a debug adapter asks the
// client to run through runInTerminal.
//
// A Supervisor tracks every Process it starts until the process exits.
// Processes are either started with piped standard streams (Start) or
// attached to a pseudo-terminal (StartPTY):
//
//	sup := process.NewSupervisor(process.WithLogger(log))
//	defer sup.Shutdown(5 * time.Second)
//
//	proc, err := sup.StartPTY("dlv", exec.Command("dlv", "dap"), nil)
//	if err != nil {
//	    return err
//	}
//	go io.Copy(out, proc.Terminal)
//	<-proc.Done()
//
// Shutdown sends SIGTERM, waits for the timeout, then sends SIGKILL.
// Supervisor and Process are safe for concurrent use.
package process
