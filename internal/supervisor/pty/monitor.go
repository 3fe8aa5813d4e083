package pty

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/opsentry/gosudo/internal/backchannel"
	"github.com/opsentry/gosudo/internal/supervisor"
	"golang.org/x/sys/unix"
)

// CommandState names the monitor-side state machine's states.
type CommandState int

const (
	StateSpawned CommandState = iota
	StateExited
	StateTerminated
	StateStopped
)

// MonitorFSM is the monitor's pure state machine, factored out of the
// process/syscall plumbing so it can be driven and tested without a
// real fork. SigCONTFg/SigCONTBg are synthetic internal signals
// that both forward a real SIGCONT; SigCONTFg additionally sets the
// PTY follower's foreground group first.
type MonitorFSM struct {
	State      CommandState
	ExitCode   int
	TermSignal syscall.Signal
	StopSignal syscall.Signal
}

const (
	SigCONTFg = -1
	SigCONTBg = -2
)

// OnChildExit transitions SPAWNED -> EXITED.
func (m *MonitorFSM) OnChildExit(code int) {
	m.State = StateExited
	m.ExitCode = code
}

// OnChildTerm transitions SPAWNED -> TERMINATED(signal).
func (m *MonitorFSM) OnChildTerm(sig syscall.Signal) {
	m.State = StateTerminated
	m.TermSignal = sig
}

// OnChildStop transitions SPAWNED -> STOPPED(signal).
func (m *MonitorFSM) OnChildStop(sig syscall.Signal) {
	m.State = StateStopped
	m.StopSignal = sig
}

// OnBackchannelSignal handles a Signal message from the parent. A
// plain signal is forwarded unconditionally; SigCONTFg/SigCONTBg also
// move a STOPPED command back to SPAWNED, matching
// "STOPPED -- Signal(SIGCONT_FG|SIGCONT_BG) --> SPAWNED".
func (m *MonitorFSM) OnBackchannelSignal(num int) (forward syscall.Signal, setForeground bool, ok bool) {
	switch num {
	case SigCONTFg:
		m.State = StateSpawned
		return syscall.SIGCONT, true, true
	case SigCONTBg:
		m.State = StateSpawned
		return syscall.SIGCONT, false, true
	default:
		return syscall.Signal(num), false, true
	}
}

// MonitorOptions is what the re-exec'd monitor process needs; Follower
// and Backchannel are inherited file descriptors rather than fields
// the monitor resolves itself.
type MonitorOptions struct {
	Command    supervisor.Options
	Follower   *os.File
	Backchannel *backchannel.Conn
}

// RunMonitor is the monitor's process
// body a re-exec'd gosudo instance runs once it detects the
// monitor-reexec sentinel (see reexec.go). It never returns to normal
// CLI flow — the caller must os.Exit with whatever this returns.
func RunMonitor(opts MonitorOptions) int {
	fsm := &MonitorFSM{State: StateSpawned}

	// Descriptors inherited from the parent that the command must not
	// see are swept here, before the fork; only the follower and the
	// backchannel survive.
	closer := supervisor.NewCloser(opts.Command.CloseFrom,
		int(opts.Follower.Fd()), opts.Backchannel.Fd())
	_ = closer.CloseAllExcept()

	cmd, errPipeR, err := startCommand(opts)
	if err != nil {
		_ = backchannel.SendIoError(opts.Backchannel, errnoOf(err))
		return 1
	}
	_ = backchannel.SendCommandPid(opts.Backchannel, cmd.Process.Pid)

	if errno := readExecError(errPipeR); errno != 0 {
		_ = backchannel.SendIoError(opts.Backchannel, errno)
		_ = cmd.Process.Kill()
		return 1
	}

	waitCh := make(chan *os.ProcessState, 1)
	go func() {
		state, _ := cmd.Process.Wait()
		waitCh <- state
	}()

	msgCh := make(chan backchannel.ParentMessage, 8)
	go func() {
		for {
			msg, err := backchannel.RecvParentMessage(opts.Backchannel)
			if err != nil {
				return
			}
			msgCh <- msg
		}
	}()

	for {
		select {
		case state := <-waitCh:
			return reportExit(opts.Backchannel, fsm, state)
		case msg := <-msgCh:
			if msg.Kind != backchannel.Signal {
				continue
			}
			sig, setFg, ok := fsm.OnBackchannelSignal(msg.SignalNum)
			if !ok {
				continue
			}
			if setFg {
				setForegroundGroup(opts.Follower, cmd.Process.Pid)
			}
			_ = unix.Kill(-cmd.Process.Pid, sig)
		}
	}
}

func reportExit(bc *backchannel.Conn, fsm *MonitorFSM, state *os.ProcessState) int {
	if state == nil {
		_ = backchannel.SendIoError(bc, int(syscall.EIO))
		return 1
	}
	status, ok := state.Sys().(syscall.WaitStatus)
	if !ok {
		_ = backchannel.SendIoError(bc, int(syscall.EIO))
		return 1
	}
	switch {
	case status.Signaled():
		fsm.OnChildTerm(status.Signal())
		_ = backchannel.SendCommandTerm(bc, int(status.Signal()))
		return 128 + int(status.Signal())
	default:
		fsm.OnChildExit(status.ExitStatus())
		_ = backchannel.SendCommandExit(bc, status.ExitStatus())
		return status.ExitStatus()
	}
}

func startCommand(opts MonitorOptions) (*exec.Cmd, *os.File, error) {
	resolvedPath, attr, err := supervisor.Bootstrap(opts.Command)
	if err != nil {
		return nil, nil, err
	}
	attr.Foreground = true
	attr.Ctty = int(opts.Follower.Fd())

	errR, errW, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("pty: error pipe: %w", err)
	}

	cmd := exec.Command(resolvedPath, opts.Command.Argv[1:]...)
	cmd.Env = opts.Command.Env
	cmd.Dir = supervisor.ChdirTarget(opts.Command)
	cmd.SysProcAttr = attr
	cmd.Stdin, cmd.Stdout, cmd.Stderr = opts.Follower, opts.Follower, opts.Follower
	cmd.ExtraFiles = []*os.File{errW}

	if err := cmd.Start(); err != nil {
		errR.Close()
		errW.Close()
		return nil, nil, err
	}
	errW.Close()
	return cmd, errR, nil
}

// readExecError reads the monitor's error-pipe convention: the
// command side writes a single errno and closes the pipe only if
// execve itself failed after fork (cmd.Start already execs, so in
// practice this always reads EOF; the pipe is consulted here in
// case a future Setpgid/Foreground step needs to report failure the
// same way).
func readExecError(r *os.File) int {
	defer r.Close()
	var buf [4]byte
	n, _ := r.Read(buf[:])
	if n != 4 {
		return 0
	}
	return int(buf[0]) | int(buf[1])<<8 | int(buf[2])<<16 | int(buf[3])<<24
}

func setForegroundGroup(follower *os.File, pgid int) {
	_ = unix.IoctlSetPointerInt(int(follower.Fd()), unix.TIOCSPGRP, pgid)
}

func errnoOf(err error) int {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}
	return int(syscall.EIO)
}
