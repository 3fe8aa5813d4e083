package gosudo

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/user"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/opsentry/gosudo/internal/authenticator"
	"github.com/opsentry/gosudo/internal/environment"
	"github.com/opsentry/gosudo/internal/sudoers"
	"github.com/opsentry/gosudo/internal/supervisor"
	"github.com/opsentry/gosudo/internal/supervisor/pty"
)

// Deps collects every external collaborator Run touches, so tests can
// substitute all of them: the filesystem behind the policy store, the
// authentication backend, the passwd/group database, and the
// supervisor itself.
type Deps struct {
	Reader       sudoers.FileReader
	Backend      authenticator.Backend
	Conversation authenticator.Conversation

	CurrentUser   func() (environment.User, error)
	InvokerGroups func() ([]string, error)
	LookupUser    func(name string) (environment.User, error)
	LookupGroupID func(name string) (int, error)

	Hostname func() (string, error)
	Environ  func() []string
	Getenv   func(string) string

	Exec func(supervisor.Options) (supervisor.Result, error)

	Out io.Writer
	Log zerolog.Logger
}

// DefaultDeps wires the production collaborators: the real
// filesystem, os/user lookups, and a supervisor that picks PTY or
// no-PTY mode based on the resolved settings and whether stdin is a
// terminal.
func DefaultDeps(opts Options) *Deps {
	return &Deps{
		Reader:        nil, // sudoers.Load falls back to the real filesystem
		Backend:       authenticator.UnimplementedBackend{}.Backend(),
		Conversation:  NewConversation(opts, os.Getenv),
		CurrentUser:   currentUser,
		InvokerGroups: invokerGroups,
		LookupUser:    lookupUser,
		LookupGroupID: lookupGroupID,
		Hostname:      os.Hostname,
		Environ:       os.Environ,
		Getenv:        os.Getenv,
		Exec:          execSupervised,
		Out:           os.Stdout,
		Log:           zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger(),
	}
}

func currentUser() (environment.User, error) {
	u, err := user.Current()
	if err != nil {
		return environment.User{}, fmt.Errorf("looking up invoker: %w", err)
	}
	return passwdUser(u)
}

func lookupUser(name string) (environment.User, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return environment.User{}, fmt.Errorf("unknown user %s: %w", name, err)
	}
	return passwdUser(u)
}

func passwdUser(u *user.User) (environment.User, error) {
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return environment.User{}, fmt.Errorf("non-numeric uid %q for %s", u.Uid, u.Username)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return environment.User{}, fmt.Errorf("non-numeric gid %q for %s", u.Gid, u.Username)
	}
	return environment.User{
		Name:  u.Username,
		UID:   uid,
		GID:   gid,
		Home:  u.HomeDir,
		Shell: loginShellOf(u.Username),
	}, nil
}

// loginShellOf reads the shell field out of /etc/passwd; os/user does
// not expose it. Falls back to /bin/sh, matching what exec would get
// for an empty shell field anyway.
func loginShellOf(name string) string {
	f, err := os.Open("/etc/passwd")
	if err != nil {
		return "/bin/sh"
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Split(sc.Text(), ":")
		if len(fields) >= 7 && fields[0] == name && fields[6] != "" {
			return fields[6]
		}
	}
	return "/bin/sh"
}

func invokerGroups() ([]string, error) {
	u, err := user.Current()
	if err != nil {
		return nil, err
	}
	ids, err := u.GroupIds()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		g, err := user.LookupGroupId(id)
		if err != nil {
			continue
		}
		names = append(names, g.Name)
	}
	return names, nil
}

func lookupGroupID(name string) (int, error) {
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, fmt.Errorf("unknown group %s: %w", name, err)
	}
	return strconv.Atoi(g.Gid)
}

// execSupervised hands a fully-resolved launch plan to the right
// supervisor mode: the three-process PTY path when the policy asked
// for a PTY and we actually have a terminal to proxy, the plain
// fork+exec path otherwise.
func execSupervised(sup supervisor.Options) (supervisor.Result, error) {
	if sup.UsePTY && term.IsTerminal(int(os.Stdin.Fd())) {
		exe, err := os.Executable()
		if err != nil {
			return supervisor.Result{}, &supervisor.SetupError{Syscall: "readlink /proc/self/exe", Err: err}
		}
		parent, err := pty.Spawn(exe, sup)
		if err != nil {
			return supervisor.Result{}, err
		}
		defer parent.Close()
		return parent.Wait()
	}
	return supervisor.RunNoPTY(sup)
}
