package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/opsentry/gosudo/internal/backchannel"
	"github.com/opsentry/gosudo/internal/supervisor"
	"github.com/opsentry/gosudo/internal/supervisor/pty"
)

// runMonitor is the process body of a gosudo instance re-exec'd as
// the PTY monitor: it reconstructs its inherited descriptors, waits
// for the parent's ExecCommand go-ahead, and hands off to the
// monitor's event loop. It never reaches the normal CLI.
func runMonitor() int {
	follower := os.NewFile(uintptr(pty.MonitorFollowerFd), "pty-follower")
	bc := backchannel.FromFile(os.NewFile(uintptr(pty.MonitorBackchannelFd), "backchannel"))
	optFile := os.NewFile(uintptr(pty.MonitorOptionsFd), "monitor-options")

	encoded, err := io.ReadAll(optFile)
	optFile.Close()
	if err != nil {
		return 1
	}
	var cmdOpts supervisor.Options
	if err := json.Unmarshal(encoded, &cmdOpts); err != nil {
		return 1
	}

	// Forking the command is only permitted once the parent has
	// closed its copy of the follower and said so.
	for {
		msg, err := backchannel.RecvParentMessage(bc)
		if err != nil {
			return 1
		}
		if msg.Kind == backchannel.ExecCommand {
			break
		}
	}

	return pty.RunMonitor(pty.MonitorOptions{
		Command:     cmdOpts,
		Follower:    follower,
		Backchannel: bc,
	})
}
