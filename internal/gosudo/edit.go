package gosudo

import (
	"context"
	"fmt"

	"github.com/opsentry/gosudo/internal/policy"
	"github.com/opsentry/gosudo/internal/sudoers"
	"github.com/opsentry/gosudo/internal/supervisor"
)

// editCommandName is the pseudo-command rules match for edit mode; a
// rule granting ALL covers it.
const editCommandName = "sudoedit"

// ResolveEditor picks the editor for edit mode: the invoker's
// SUDO_EDITOR/VISUAL/EDITOR first, the policy's editor option as the
// fallback.
func ResolveEditor(settings *policy.Settings, getenv func(string) string) string {
	for _, key := range []string{"SUDO_EDITOR", "VISUAL", "EDITOR"} {
		if v := getenv(key); v != "" {
			return v
		}
	}
	return settings.String("editor")
}

// RunEdit implements the policy-and-authentication half of sudoedit:
// verify the invoker may edit the named files as the target user,
// authenticate, then run the resolved editor. The temp-file
// copy-in/copy-out orchestration is an external collaborator; the
// editor here runs with the invoker's own identity.
func RunEdit(ctx context.Context, opts Options, deps *Deps, files []string) (int, error) {
	if len(files) == 0 {
		return 1, fmt.Errorf("no files to edit")
	}
	invoker, err := deps.CurrentUser()
	if err != nil {
		return 1, err
	}
	groups, err := deps.InvokerGroups()
	if err != nil {
		return 1, err
	}
	policyPath := opts.PolicyPath
	if policyPath == "" {
		policyPath = DefaultPolicyPath
	}
	store, err := sudoers.Load(policyPath, deps.Reader, deps.Log)
	if err != nil {
		return 1, fmt.Errorf("loading policy: %w", err)
	}
	host := opts.Host
	if host == "" {
		if host, err = deps.Hostname(); err != nil {
			return 1, err
		}
	}

	q := policy.Query{
		InvokerUser:   invoker.Name,
		InvokerGroups: groups,
		Host:          host,
		TargetUser:    opts.TargetUser,
		CommandPath:   editCommandName,
		CommandArgs:   files,
	}
	verdict := policy.Evaluate(store.Directives, q)
	if verdict.Kind != policy.VerdictAllow {
		return 1, denyError(q, verdict)
	}
	if verdict.Options.AuthRequired {
		if code, err := authenticate(ctx, opts, deps, verdict, invoker); err != nil {
			return code, err
		}
	}

	editor := ResolveEditor(verdict.Settings, deps.Getenv)
	editOpts := opts
	editOpts.Command = append([]string{editor}, files...)
	env := buildEnvironment(editOpts, deps, verdict, invoker, invoker, editor, files)

	result, err := deps.Exec(supervisor.Options{
		Argv:      append([]string{editor}, files...),
		Env:       env,
		TargetUID: invoker.UID,
		TargetGID: invoker.GID,
		Path:      searchPath(verdict.Settings),
		CloseFrom: opts.CloseFrom,
	})
	if err != nil {
		return 1, err
	}
	return ExitCode(result), nil
}
