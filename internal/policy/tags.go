package policy

import "github.com/opsentry/gosudo/internal/sudoers"

// CommandOptions is the final, per-command option set obtained by
// folding a winning rule's sticky tags onto the Defaults-resolved
// Settings baseline. Tags override their corresponding baseline
// option only when present; an absent tag leaves the Defaults value
// untouched.
type CommandOptions struct {
	AuthRequired    bool
	AllowExec       bool
	SetEnv          bool
	LogInput        bool
	LogOutput       bool
	Mail            bool
	FollowSymlinks  bool
	Cwd             string // CWD=path, or "*" for any working directory
}

// tagBaseline seeds the option set before tags are folded in; most
// of these have no Defaults-level equivalent, so they live here
// rather than in Settings.
var tagBaseline = CommandOptions{
	AllowExec:      true,
	SetEnv:         false,
	LogInput:       false,
	LogOutput:      false,
	Mail:           false,
	FollowSymlinks: true,
}

// ResolveCommandOptions folds tags (with their within-rule sticky
// inheritance already applied by the parser) onto the Defaults
// baseline for the winning command-spec.
func ResolveCommandOptions(tags []sudoers.Tag, settings *Settings) CommandOptions {
	opts := tagBaseline
	opts.AuthRequired = settings.Bool("authenticate")

	for _, t := range tags {
		switch t.Name {
		case "PASSWD":
			opts.AuthRequired = t.On
		case "EXEC":
			opts.AllowExec = t.On
		case "SETENV":
			opts.SetEnv = t.On
		case "LOG_INPUT":
			opts.LogInput = t.On
		case "LOG_OUTPUT":
			opts.LogOutput = t.On
		case "MAIL":
			opts.Mail = t.On
		case "FOLLOW":
			opts.FollowSymlinks = t.On
		case "CWD":
			opts.Cwd = t.Value
		}
	}
	return opts
}
