package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/opsentry/gosudo/internal/signalpipe"
	"golang.org/x/sys/unix"
)

// Result is the supervisor's final answer for one command; callers
// add 128 to
// TermSignal themselves.
type Result struct {
	ExitCode   int
	Signaled   bool
	TermSignal syscall.Signal
}

// forwardableSignals is the user-generated set the no-PTY
// parent relays to the child, as opposed to SIGCHLD/SIGALRM which it
// handles itself.
var forwardableSignals = []os.Signal{
	syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM,
	syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGUSR2,
}

// RunNoPTY is the direct fork+exec mode with no controlling
// terminal, followed by an event loop relaying signals to the child
// while a cmd.Wait goroutine reaps it.
func RunNoPTY(opts Options) (Result, error) {
	resolvedPath, attr, err := Bootstrap(opts)
	if err != nil {
		return Result{}, err
	}

	cmd := exec.Command(resolvedPath, opts.Argv[1:]...)
	cmd.Env = opts.Env
	cmd.Dir = ChdirTarget(opts)
	cmd.SysProcAttr = attr
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr

	if err := cmd.Start(); err != nil {
		return Result{}, &SetupError{Syscall: "fork/exec", Err: err}
	}

	sigs := signalpipe.Open(append(append([]os.Signal{}, forwardableSignals...), syscall.SIGCHLD, syscall.SIGALRM)...)
	defer sigs.Close()

	if opts.CommandTimeout > 0 {
		timer := time.AfterFunc(opts.CommandTimeout, func() {
			_ = syscall.Kill(syscall.Getpid(), syscall.SIGALRM)
		})
		defer timer.Stop()
	}

	return waitForChild(cmd, sigs)
}

func waitForChild(cmd *exec.Cmd, sigs *signalpipe.Pipe) (Result, error) {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	escalating := false
	for {
		select {
		case waitErr := <-done:
			return resultFromWaitErr(waitErr)
		case sig := <-sigs.C():
			switch sig {
			case syscall.SIGCHLD:
				// cmd.Wait's goroutine already drains the child via
				// waitpid; nothing else to do here.
			case syscall.SIGALRM:
				if !escalating {
					escalating = true
					go gracefulKill(cmd.Process.Pid)
				}
			default:
				if s, ok := sig.(syscall.Signal); ok {
					_ = unix.Kill(-cmd.Process.Pid, s)
				}
			}
		}
	}
}

// gracefulKill implements the SIGALRM escalation: SIGHUP, then
// SIGTERM, then SIGKILL after a grace period, each to the command's
// process group.
func gracefulKill(pgid int) {
	_ = unix.Kill(-pgid, syscall.SIGHUP)
	time.Sleep(2 * time.Second)
	_ = unix.Kill(-pgid, syscall.SIGTERM)
	time.Sleep(2 * time.Second)
	_ = unix.Kill(-pgid, syscall.SIGKILL)
}

func resultFromWaitErr(err error) (Result, error) {
	if err == nil {
		return Result{ExitCode: 0}, nil
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return Result{}, fmt.Errorf("supervisor: wait: %w", err)
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return Result{}, fmt.Errorf("supervisor: unexpected wait status")
	}
	if status.Signaled() {
		return Result{Signaled: true, TermSignal: status.Signal()}, nil
	}
	return Result{ExitCode: status.ExitStatus()}, nil
}
