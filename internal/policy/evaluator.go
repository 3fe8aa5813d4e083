package policy

import (
	"errors"
	"fmt"

	"github.com/opsentry/gosudo/internal/sudoers"
)

// ErrDenied is the sentinel callers test for when converting a Deny
// verdict into the fixed refusal message and exit code.
var ErrDenied = errors.New("policy: denied")

// Query is the caller's request: who is invoking, from where, as
// whom, running what. TargetUser/TargetGroup are "" when the invoker
// didn't ask for a specific runas identity (plain `sudo cmd`), in
// which case the matcher applies the runas defaulting rules.
type Query struct {
	InvokerUser   string
	InvokerGroups []string
	Host          string
	TargetUser    string
	TargetGroup   string
	CommandPath   string
	CommandArgs   []string
	Cwd           string
}

// VerdictKind discriminates the three shapes a Verdict can take.
type VerdictKind int

const (
	VerdictDeny VerdictKind = iota
	VerdictAllow
	VerdictAuthError
)

// Verdict is the evaluator's answer for one Query.
type Verdict struct {
	Kind       VerdictKind
	Options    CommandOptions
	Settings   *Settings
	RunasUser  string
	RunasGroup string
	Reason     string
}

// Evaluate folds Defaults into an effective Settings record and then
// walks rules in declaration order, applying last-match-wins
// semantics.
func Evaluate(directives []sudoers.Directive, q Query) Verdict {
	settings := ResolveSettings(directives, q)

	var winner *sudoers.UserSpec
	var winningSpec *sudoers.CommandSpec
	denied := false

	for i := range directives {
		d := &directives[i]
		if d.Kind != sudoers.DirUserSpec {
			continue
		}
		us := d.UserSpec
		if !matchUserList(us.Users, q.InvokerUser, q.InvokerGroups) {
			continue
		}
		if !matchHostList(us.Hosts, q.Host) {
			continue
		}
		spec, deny, found := matchingCommandSpec(us.Commands, q)
		if !found {
			continue
		}
		winner, winningSpec, denied = us, spec, deny
	}

	if winner == nil || winningSpec == nil {
		return Verdict{Kind: VerdictDeny, Reason: "no matching rule", Settings: settings}
	}
	if denied {
		return Verdict{Kind: VerdictDeny, Reason: "explicitly denied", Settings: settings}
	}

	opts := ResolveCommandOptions(winningSpec.Tags, settings)
	if reason, ok := cwdPermitted(opts, settings, q); !ok {
		return Verdict{Kind: VerdictDeny, Reason: reason, Settings: settings}
	}

	runasUser, runasGroup := resolveRunas(winningSpec, q)
	return Verdict{
		Kind:       VerdictAllow,
		Options:    opts,
		Settings:   settings,
		RunasUser:  runasUser,
		RunasGroup: runasGroup,
	}
}

// cwdPermitted applies the CWD rule: a CWD=* tag permits any
// working directory the invoker asks for; a concrete CWD=path only
// permits that exact directory; with no CWD policy at all, asking to
// change directory is refused. An empty Query.Cwd means the invoker
// didn't ask, which is always permitted.
func cwdPermitted(opts CommandOptions, settings *Settings, q Query) (string, bool) {
	if q.Cwd == "" {
		return "", true
	}
	allowed := opts.Cwd
	if allowed == "" {
		allowed = settings.String("cwd")
	}
	if allowed == "*" || allowed == q.Cwd {
		return "", true
	}
	return fmt.Sprintf("you are not permitted to use the -D option with %s", q.CommandPath), false
}

// matchingCommandSpec returns the last command-spec within a single
// rule whose pattern matches the query and whose runas lists permit
// the requested target. A negated spec is still a match — it carries
// a deny verdict, so a later `!cmd` overrides an earlier grant both
// within one rule and across rules.
func matchingCommandSpec(specs []sudoers.CommandSpec, q Query) (spec *sudoers.CommandSpec, denied bool, found bool) {
	for i := range specs {
		s := &specs[i]
		if !matchCommand(s.Command, q.CommandPath, q.CommandArgs) {
			continue
		}
		if !runasPermits(s, q) {
			continue
		}
		spec, denied, found = s, s.Negated, true
	}
	return spec, denied, found
}

// runasPermits reports whether spec's runas lists permit the query's
// requested target identity. An empty TargetUser/Group on
// the query means the invoker asked for no specific identity, which
// every spec permits (the actual default is resolved later).
func runasPermits(spec *sudoers.CommandSpec, q Query) bool {
	if !spec.HasRunas {
		return q.TargetUser == "" || q.TargetUser == q.InvokerUser
	}
	if q.TargetUser != "" {
		if len(spec.RunasUser) > 0 && !matchUserList(spec.RunasUser, q.TargetUser, nil) {
			return false
		}
		if len(spec.RunasUser) == 0 && q.TargetUser != q.InvokerUser {
			return false
		}
	}
	if q.TargetGroup != "" {
		if len(spec.RunasGrp) > 0 && !matchUserList(spec.RunasGrp, q.TargetGroup, nil) {
			return false
		}
	}
	return true
}

// resolveRunas applies the runas defaulting rules once a spec has
// already been confirmed to permit the requested (possibly absent)
// target.
func resolveRunas(spec *sudoers.CommandSpec, q Query) (string, string) {
	if !spec.HasRunas {
		return firstNonEmpty(q.TargetUser, "root"), q.TargetGroup
	}
	userDefault := "root"
	if len(spec.RunasUser) == 0 {
		userDefault = q.InvokerUser
	}
	user := firstNonEmpty(q.TargetUser, firstPositiveName(spec.RunasUser), userDefault)
	group := firstNonEmpty(q.TargetGroup, firstPositiveName(spec.RunasGrp))
	return user, group
}

func firstPositiveName(list []sudoers.Principal) string {
	for _, p := range list {
		if !p.Negated && p.Kind != sudoers.PrincipalAll {
			return p.Name
		}
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
