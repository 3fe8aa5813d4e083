package pty

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/opsentry/gosudo/internal/backchannel"
	"github.com/opsentry/gosudo/internal/eventloop"
	"github.com/opsentry/gosudo/internal/supervisor"
)

// MonitorOptionsFd is where Spawn writes the JSON-encoded
// supervisor.Options the re-exec'd monitor needs, since a fresh
// process image has none of the parent's in-memory state; the monitor
// entry point in cmd/gosudo reads and closes it before calling
// RunMonitor.
const MonitorOptionsFd = 5

// Parent owns the PTY leader and the parent's end of the backchannel;
// the follower belongs to the monitor once spawned.
type Parent struct {
	Leader *os.File
	bc     *backchannel.Conn
	cmd    *exec.Cmd
}

// Spawn opens a PTY, re-execs the current binary as the monitor
// (passing the follower and the monitor's backchannel end through
// ExtraFiles), and sends ExecCommand once the parent has closed its
// own copy of the follower.
func Spawn(selfExe string, opts supervisor.Options) (*Parent, error) {
	leader, follower, err := pty.Open()
	if err != nil {
		return nil, &supervisor.SetupError{Syscall: "openpty", Err: err}
	}

	parentBC, monitorBC, err := backchannel.NewPair()
	if err != nil {
		follower.Close()
		leader.Close()
		return nil, err
	}

	optR, optW, err := os.Pipe()
	if err != nil {
		follower.Close()
		leader.Close()
		return nil, fmt.Errorf("pty: options pipe: %w", err)
	}

	cmd := exec.Command(selfExe, monitorSentinel)
	cmd.ExtraFiles = []*os.File{follower, monitorBC.File(), optR}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
		Ctty:    MonitorFollowerFd, // ExtraFiles[0] lands on fd 3 in the child
	}
	cmd.Stdin, cmd.Stdout, cmd.Stderr = nil, nil, nil

	encoded, err := json.Marshal(opts)
	if err != nil {
		return nil, fmt.Errorf("pty: encode monitor options: %w", err)
	}

	if err := cmd.Start(); err != nil {
		follower.Close()
		leader.Close()
		optR.Close()
		optW.Close()
		return nil, &supervisor.SetupError{Syscall: "fork/exec monitor", Err: err}
	}

	follower.Close()
	monitorBC.Close()
	optR.Close()
	if _, err := optW.Write(encoded); err != nil {
		optW.Close()
		return nil, fmt.Errorf("pty: write monitor options: %w", err)
	}
	optW.Close()

	if err := backchannel.SendExecCommand(parentBC); err != nil {
		return nil, err
	}

	return &Parent{Leader: leader, bc: parentBC, cmd: cmd}, nil
}

// Wait pumps bytes between the controlling TTY and the PTY leader
// until the monitor reports the command's exit, forwarding user
// signals to the monitor as backchannel Signal messages. Both copy
// directions run in a single pump goroutine under an errgroup; it is
// stopped by closing stop once the monitor reports, and its error is
// not returned.
func (p *Parent) Wait() (supervisor.Result, error) {
	sigCh := make(chan os.Signal, 16)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM,
		syscall.SIGHUP, syscall.SIGWINCH)
	defer signal.Stop(sigCh)

	resultCh := make(chan supervisor.Result, 1)
	errCh := make(chan error, 1)
	go p.readMonitor(resultCh, errCh)

	var g errgroup.Group
	stop := make(chan struct{})
	g.Go(func() error { return p.pump(stop) })

	for {
		select {
		case res := <-resultCh:
			close(stop)
			_ = g.Wait()
			return res, nil
		case err := <-errCh:
			close(stop)
			_ = g.Wait()
			return supervisor.Result{}, err
		case sig := <-sigCh:
			if sig == syscall.SIGWINCH {
				propagateWinsize(os.Stdin, p.Leader)
				continue
			}
			if s, ok := sig.(syscall.Signal); ok {
				_ = backchannel.SendSignal(p.bc, int(s))
			}
		}
	}
}

func (p *Parent) readMonitor(resultCh chan<- supervisor.Result, errCh chan<- error) {
	for {
		msg, err := backchannel.RecvMonitorMessage(p.bc)
		if err != nil {
			errCh <- err
			return
		}
		switch msg.Kind {
		case backchannel.CommandPid:
			// nothing to react to; the pid frame only pins message ordering.
		case backchannel.IoError:
			errCh <- fmt.Errorf("supervisor: command exec failed: errno %d", msg.Value)
			return
		case backchannel.CommandExit:
			resultCh <- supervisor.Result{ExitCode: msg.Value}
			return
		case backchannel.CommandTerm:
			resultCh <- supervisor.Result{Signaled: true, TermSignal: syscall.Signal(msg.Value)}
			return
		case backchannel.CommandStop:
			// the monitor continues running; the parent has no separate
			// action here beyond optionally stopping itself, which is
			// left to the caller.
		case backchannel.ShortRead:
			errCh <- fmt.Errorf("supervisor: monitor closed the backchannel unexpectedly")
			return
		}
	}
}

// pump copies bytes in both directions between the controlling TTY
// and the PTY leader under a single poll loop, one RingBuffer per
// direction. Backpressure is expressed through the poll set itself: a
// full buffer's reader and an empty buffer's writer are simply not
// registered until the situation changes. Returns nil on EOF of
// either side or when stop is closed.
func (p *Parent) pump(stop <-chan struct{}) error {
	loop, err := eventloop.New()
	if err != nil {
		return err
	}
	defer loop.Close()
	go func() {
		<-stop
		loop.Stop()
	}()

	ttyIn := int(os.Stdin.Fd())
	ttyOut := int(os.Stdout.Fd())
	leader := int(p.Leader.Fd())
	toLeader := NewRingBuffer()
	toTTY := NewRingBuffer()

	var rearm func()
	onTTYIn := func(int16) error {
		if _, err := toLeader.Fill(os.Stdin); err != nil {
			return err
		}
		rearm()
		return nil
	}
	onLeader := func(revents int16) error {
		if revents&unix.POLLIN != 0 && !toTTY.Full() {
			if _, err := toTTY.Fill(p.Leader); err != nil {
				return err
			}
		}
		if revents&unix.POLLOUT != 0 && !toLeader.Empty() {
			if _, err := toLeader.Drain(p.Leader); err != nil {
				return err
			}
		}
		rearm()
		return nil
	}
	onTTYOut := func(int16) error {
		if _, err := toTTY.Drain(os.Stdout); err != nil {
			return err
		}
		rearm()
		return nil
	}
	rearm = func() {
		if toLeader.Full() {
			loop.Remove(ttyIn)
		} else {
			loop.Add(ttyIn, unix.POLLIN, onTTYIn)
		}
		var ev int16
		if !toTTY.Full() {
			ev |= unix.POLLIN
		}
		if !toLeader.Empty() {
			ev |= unix.POLLOUT
		}
		if ev == 0 {
			loop.Remove(leader)
		} else {
			loop.Add(leader, ev, onLeader)
		}
		if toTTY.Empty() {
			loop.Remove(ttyOut)
		} else {
			loop.Add(ttyOut, unix.POLLOUT, onTTYOut)
		}
	}
	rearm()

	if err := loop.Run(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func propagateWinsize(tty, leader *os.File) {
	ws, err := pty.GetsizeFull(tty)
	if err != nil {
		return
	}
	_ = pty.Setsize(leader, ws)
}

// Close releases the parent's PTY leader and backchannel, restoring
// the controlling terminal's foreground group to the parent's own
// group so descendants of the command don't receive SIGHUP when the
// parent exits.
func (p *Parent) Close() error {
	_ = unix.IoctlSetPointerInt(int(os.Stdin.Fd()), unix.TIOCSPGRP, unix.Getpgrp())
	p.bc.Close()
	return p.Leader.Close()
}
