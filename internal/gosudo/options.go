// Package gosudo wires the core subsystems together: policy store,
// matcher, authenticator, environment builder, and execution
// supervisor. cmd/gosudo is a thin flag front door over Run; nothing
// in here parses flags.
package gosudo

import "time"

// DefaultPolicyPath is where the policy store loads from unless a
// test or the front door overrides it.
const DefaultPolicyPath = "/etc/sudoers"

// defaultPath is the PATH handed to the command when neither the
// invoker's environment nor secure_path supplies one; it is also the
// search path used to absolutize a bare command name before matching.
const defaultPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// zoneinfoDir anchors the TZ safety check in the environment builder.
const zoneinfoDir = "/usr/share/zoneinfo"

// ListMode selects the -l / -ll enumeration surface.
type ListMode int

const (
	ListOff ListMode = iota
	ListShort
	ListLong
)

// Options carries the CLI-surface inputs of one invocation, one field
// per flag the core observes. The front door fills it; Run consumes
// it.
type Options struct {
	PolicyPath string

	TargetUser  string // -u
	TargetGroup string // -g

	LoginShell  bool     // -i
	ShellMode   bool     // -s
	PreserveEnv []string // -E / --preserve-env=list
	SetHome     bool     // -H

	NonInteractive bool   // -n
	StdinPassword  bool   // -S
	Prompt         string // -p

	Validate bool     // -v
	List     ListMode // -l / -ll

	Chdir      string        // -D / --chdir
	Timeout    time.Duration // -T
	Host       string        // --host
	OtherUser  string        // -U, for list mode
	Background bool          // -b
	CloseFrom  int           // -C / --close-from

	Command []string // argv of the requested command
}
