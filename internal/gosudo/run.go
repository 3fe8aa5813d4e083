package gosudo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opsentry/gosudo/internal/authenticator"
	"github.com/opsentry/gosudo/internal/environment"
	"github.com/opsentry/gosudo/internal/policy"
	"github.com/opsentry/gosudo/internal/signalpipe"
	"github.com/opsentry/gosudo/internal/sudoers"
	"github.com/opsentry/gosudo/internal/supervisor"
)

var (
	// ErrAuthFailed covers exhausted attempts and
	// backend denial. The message deliberately does not say which.
	ErrAuthFailed = errors.New("authentication failure")
	// ErrAuthTransient means the backend broke,
	// not the user.
	ErrAuthTransient = errors.New("authentication backend error")
)

// Run executes one full invocation: load policy, evaluate the
// request, authenticate when the winning rule demands it, build the
// child environment, and supervise the command. It returns the
// process exit code plus an error carrying the user-facing message
// for any non-zero outcome the caller should print.
func Run(ctx context.Context, opts Options, deps *Deps) (int, error) {
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
	for _, diag := range store.Diagnostics {
		deps.Log.Warn().Str("pos", diag.Pos.String()).Msg(diag.Message)
	}

	host := opts.Host
	if host == "" {
		if host, err = deps.Hostname(); err != nil {
			return 1, err
		}
	}

	if opts.List != ListOff {
		return runList(opts, deps, store, invoker, groups, host)
	}
	if opts.Validate {
		return runValidate(ctx, opts, deps, store, invoker, groups, host)
	}
	if len(opts.Command) == 0 && !opts.LoginShell && !opts.ShellMode {
		return 1, errors.New("no command specified")
	}

	argv, err := buildArgv(opts, deps, invoker)
	if err != nil {
		return 1, err
	}
	requested, err := absoluteCommand(argv[0])
	if err != nil {
		return 1, err
	}
	canonical := CanonicalizeCommand(requested)

	q := policy.Query{
		InvokerUser:   invoker.Name,
		InvokerGroups: groups,
		Host:          host,
		TargetUser:    opts.TargetUser,
		TargetGroup:   opts.TargetGroup,
		CommandPath:   canonical,
		CommandArgs:   argv[1:],
		Cwd:           opts.Chdir,
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

	target, err := deps.LookupUser(verdict.RunasUser)
	if err != nil {
		return 1, err
	}
	targetGID := target.GID
	if verdict.RunasGroup != "" {
		if targetGID, err = deps.LookupGroupID(verdict.RunasGroup); err != nil {
			return 1, err
		}
	}

	env := buildEnvironment(opts, deps, verdict, invoker, target, canonical, argv[1:])

	sup := supervisor.Options{
		Argv:           append([]string{canonical}, argv[1:]...),
		Env:            env,
		TargetUID:      target.UID,
		TargetGID:      targetGID,
		Chdir:          opts.Chdir,
		Cwd:            cwdFromPolicy(verdict),
		Path:           searchPath(verdict.Settings),
		UsePTY:         verdict.Settings.Bool("use_pty") && !opts.Background,
		CloseFrom:      opts.CloseFrom,
		CommandTimeout: opts.Timeout,
	}
	result, err := deps.Exec(sup)
	if err != nil {
		return 1, err
	}
	return ExitCode(result), nil
}

// buildArgv applies the -s and -i transformations before anything
// else sees the command: -s wraps it in `$SHELL -c "..."`, -i runs
// the target user's shell as a login shell.
func buildArgv(opts Options, deps *Deps, invoker environment.User) ([]string, error) {
	if opts.LoginShell && len(opts.Command) == 0 {
		targetName := opts.TargetUser
		if targetName == "" {
			targetName = "root"
		}
		target, err := deps.LookupUser(targetName)
		if err != nil {
			return nil, err
		}
		return []string{target.Shell, "-l"}, nil
	}
	if opts.ShellMode {
		shell := deps.Getenv("SHELL")
		if shell == "" {
			shell = invoker.Shell
		}
		if len(opts.Command) == 0 {
			return []string{shell}, nil
		}
		return []string{shell, "-c", strings.Join(opts.Command, " ")}, nil
	}
	return opts.Command, nil
}

// absoluteCommand resolves a bare command name against the fixed
// default path so the matcher always sees an absolute path. The
// post-authentication resolution in the supervisor's bootstrap is the
// one allowed to consult secure_path and fail loudly.
func absoluteCommand(name string) (string, error) {
	if strings.HasPrefix(name, "/") {
		return name, nil
	}
	resolved, err := supervisor.ResolvePath(name, defaultPath)
	if err != nil {
		return "", err
	}
	return resolved, nil
}

func denyError(q policy.Query, v policy.Verdict) error {
	target := q.TargetUser
	if target == "" {
		target = "root"
	}
	return fmt.Errorf("%w: user %s is not allowed to execute '%s' as %s on %s",
		policy.ErrDenied, q.InvokerUser, q.CommandPath, target, q.Host)
}

// authenticate drives the PAM-shaped backend for the invoker (or for
// root when the rootpw option is set) under the resolved retry and
// timeout settings.
func authenticate(ctx context.Context, opts Options, deps *Deps, verdict policy.Verdict, invoker environment.User) (int, error) {
	authUser := invoker.Name
	if verdict.Settings.Bool("rootpw") {
		authUser = "root"
	}
	auth := &authenticator.Authenticator{
		Backend:   deps.Backend,
		Conv:      deps.Conversation,
		MaxTries:  int(verdict.Settings.Int("passwd_tries")),
		PerTry:    time.Duration(verdict.Settings.Int("passwd_timeout")) * time.Second,
		Policy:    authenticator.PromptPolicy{Interactive: !opts.NonInteractive, Prompt: opts.Prompt},
		Unblocker: &signalpipe.AuthInterruptUnblocker{},
	}
	outcome, err := auth.Authenticate(ctx, authUser)
	switch outcome {
	case authenticator.OutcomeOK:
		return 0, nil
	case authenticator.OutcomeTransientError:
		return 1, fmt.Errorf("%w: %v", ErrAuthTransient, err)
	case authenticator.OutcomeInteractionRequired:
		return 1, fmt.Errorf("a password is required but no terminal is available: %w", err)
	default:
		return 1, fmt.Errorf("%w", ErrAuthFailed)
	}
}

func buildEnvironment(opts Options, deps *Deps, verdict policy.Verdict, invoker, target environment.User, command string, args []string) []string {
	pamEnv := map[string]string{}
	if deps.Backend.GetenvList != nil {
		pamEnv = deps.Backend.GetenvList()
	}
	b := &environment.Builder{
		Policy: environment.Policy{
			EnvReset:    verdict.Settings.Bool("env_reset"),
			EnvKeep:     verdict.Settings.StringSet("env_keep"),
			EnvCheck:    verdict.Settings.StringSet("env_check"),
			DefaultPath: defaultPath,
			SecurePath:  verdict.Settings.String("secure_path"),
		},
		Invoker:     invoker,
		Target:      target,
		InvokerEnv:  environMap(deps.Environ()),
		PAMEnv:      pamEnv,
		ZoneinfoDir: zoneinfoDir,
	}
	preserve := opts.PreserveEnv
	if !verdict.Options.SetEnv {
		// Without the SETENV tag, -E/--preserve-env requests are
		// still subject to policy; the builder treats them as extra
		// env_keep patterns, so only grant them when the rule said so
		// or env_reset is off.
		if verdict.Settings.Bool("env_reset") {
			preserve = nil
		}
	}
	return b.Build(environment.Options{
		LoginShell:  opts.LoginShell,
		ShellMode:   opts.ShellMode,
		PreserveEnv: preserve,
		Command:     command,
		CommandArgs: args,
	})
}

func environMap(pairs []string) map[string]string {
	m := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m
}

func searchPath(s *policy.Settings) string {
	if sp := s.String("secure_path"); sp != "" {
		return sp
	}
	return defaultPath
}

func cwdFromPolicy(v policy.Verdict) string {
	if v.Options.Cwd != "" && v.Options.Cwd != "*" {
		return v.Options.Cwd
	}
	return ""
}

// runValidate implements -v: authenticate against the settings that
// apply to the invoker on this host, run no command.
func runValidate(ctx context.Context, opts Options, deps *Deps, store *sudoers.Store, invoker environment.User, groups []string, host string) (int, error) {
	q := policy.Query{InvokerUser: invoker.Name, InvokerGroups: groups, Host: host}
	settings := policy.ResolveSettings(store.Directives, q)
	if !settings.Bool("authenticate") {
		return 0, nil
	}
	verdict := policy.Verdict{Settings: settings}
	return authenticate(ctx, opts, deps, verdict, invoker)
}

// ExitCode reduces a supervisor result to the exit-code relation:
// the command's own code verbatim, or 128+N for death by signal N.
func ExitCode(res supervisor.Result) int {
	if res.Signaled {
		return 128 + int(res.TermSignal)
	}
	return res.ExitCode
}
