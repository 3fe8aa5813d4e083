// Package supervisor implements the two execution modes:
// a direct fork+exec path for commands that don't need a
// controlling terminal, and a three-process PTY path (in the pty
// subpackage) for commands that do.
package supervisor

import "time"

// Options is the fully-resolved launch plan: everything the
// evaluator, environment builder, and CLI flags decided, reduced to
// what bootstrap/exec actually need. Nothing in here still needs
// policy lookups.
type Options struct {
	Argv []string
	Env  []string

	TargetUID         int
	TargetGID         int
	SupplementaryGIDs []int

	Chdir string // -D/--chdir, applied after dropping privileges
	Cwd   string // settings CWD default, used if Chdir is empty

	Path string // settings PATH/secure_path, used to resolve Argv[0]

	UsePTY         bool
	CloseFrom      int // -C/--close-from: lowest fd the closer may close; fds below it are kept
	CommandTimeout time.Duration
}
