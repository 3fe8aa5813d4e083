package supervisor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

var (
	ErrCommandNotFound = errors.New("supervisor: command not found")
	ErrNotExecutable   = errors.New("supervisor: not a regular executable file")
)

// SetupError wraps a failed setup syscall; the message names the
// syscall so the operator knows which step of bringing the command
// up broke.
type SetupError struct {
	Syscall string
	Err     error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("supervisor: %s: %v", e.Syscall, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// ResolvePath resolves name against the settings-resolved
// PATH/secure_path, never the invoker's own PATH. Callers must not
// call this before a rule has matched and authentication has
// succeeded: filesystem resolution must not be usable to probe for a
// matching rule.
func ResolvePath(name string, searchPath string) (string, error) {
	if strings.Contains(name, "/") {
		return checkExecutable(name)
	}
	var notExec error
	for _, dir := range strings.Split(searchPath, ":") {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, name)
		path, err := checkExecutable(candidate)
		if err == nil {
			return path, nil
		}
		if notExec == nil && errors.Is(err, ErrNotExecutable) {
			notExec = err
		}
	}
	if notExec != nil {
		return "", notExec
	}
	return "", fmt.Errorf("%w: %s", ErrCommandNotFound, name)
}

func checkExecutable(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrCommandNotFound, path)
	}
	if !info.Mode().IsRegular() || info.Mode().Perm()&0111 == 0 {
		return "", fmt.Errorf("%w: %s", ErrNotExecutable, path)
	}
	return path, nil
}

// Bootstrap prepares the launch: path resolution runs
// here in the supervisor process; dropping to the target
// identity is expressed as a *syscall.SysProcAttr (the working
// directory comes from ChdirTarget and is set by the caller as
// exec.Cmd.Dir) the caller hands to exec.Cmd/StartProcess, since only the forked
// child itself can drop its own privileges — the supervisor process
// must stay privileged to supervise. Blocking the signal set
// runs in the current process, which is why it is applied here rather
// than in the attr: it must take effect in the parent/monitor before
// they fork, not in the child.
func Bootstrap(opts Options) (resolvedPath string, attr *syscall.SysProcAttr, err error) {
	resolvedPath, err = ResolvePath(opts.Argv[0], opts.Path)
	if err != nil {
		return "", nil, err
	}

	groups := make([]uint32, len(opts.SupplementaryGIDs))
	for i, g := range opts.SupplementaryGIDs {
		groups[i] = uint32(g)
	}
	attr = &syscall.SysProcAttr{
		Setpgid: true,
		Credential: &syscall.Credential{
			Uid:    uint32(opts.TargetUID),
			Gid:    uint32(opts.TargetGID),
			Groups: groups,
		},
	}

	if err := blockSupervisorSignals(); err != nil {
		return "", nil, &SetupError{Syscall: "sigprocmask", Err: err}
	}

	return resolvedPath, attr, nil
}

// ChdirTarget resolves which directory the child should start in:
// an explicit -D/--chdir wins, falling back to the
// settings CWD default.
func ChdirTarget(opts Options) string {
	if opts.Chdir != "" {
		return opts.Chdir
	}
	return opts.Cwd
}

// blockSupervisorSignals blocks the supervisor's signal set before
// forking, so that until the event loop explicitly re-enables them
// through signalpipe.Open, delivery is queued rather than acted on
// with default disposition.
func blockSupervisorSignals() error {
	set := &unix.Sigset_t{}
	for _, sig := range []syscall.Signal{
		syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTSTP, syscall.SIGTERM,
		syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGCHLD,
		syscall.SIGCONT, syscall.SIGWINCH, syscall.SIGTTIN, syscall.SIGTTOU,
	} {
		addSig(set, sig)
	}
	return unix.PthreadSigmask(unix.SIG_BLOCK, set, nil)
}

// addSig sets sig's bit in set. Val's word width is architecture
// dependent (uint64 on amd64/arm64, uint32 on 386/arm); this assumes
// the former, the only architectures this repo targets.
func addSig(set *unix.Sigset_t, sig syscall.Signal) {
	i := uint(sig) - 1
	set.Val[i/64] |= 1 << (i % 64)
}
