package policy

import (
	"strings"

	wildcard "github.com/IGLOU-EU/go-wildcard/v2"

	"github.com/opsentry/gosudo/internal/sudoers"
)

// matchesList implements sudoers list-matching semantics: a list
// matches iff at least one positive specifier matches and no
// subsequent negative specifier matches. Leading negatives with no
// preceding positive match are inert.
func matchesList(list []sudoers.Principal, matches func(sudoers.Principal) bool) bool {
	matched := false
	for _, p := range list {
		if !matches(p) {
			continue
		}
		if p.Negated {
			matched = false
		} else {
			matched = true
		}
	}
	return matched
}

func principalMatchesName(p sudoers.Principal, name string, groups []string) bool {
	switch p.Kind {
	case sudoers.PrincipalAll:
		return true
	case sudoers.PrincipalGroup:
		return containsString(groups, p.Name)
	case sudoers.PrincipalUser, sudoers.PrincipalNetgroup:
		return p.Name == name
	default:
		return false
	}
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// matchUserList reports whether invoker (with its group memberships)
// matches a resolved (alias-free) user list.
func matchUserList(list []sudoers.Principal, invoker string, groups []string) bool {
	return matchesList(list, func(p sudoers.Principal) bool {
		return principalMatchesName(p, invoker, groups)
	})
}

// matchHostList reports whether host matches a resolved host list.
// Netgroup membership is treated as an opaque name match here; the
// netgroup database lookup itself is an external collaborator.
func matchHostList(list []sudoers.Principal, host string) bool {
	return matchesList(list, func(p sudoers.Principal) bool {
		if p.Kind == sudoers.PrincipalAll {
			return true
		}
		return strings.EqualFold(p.Name, host)
	})
}

// matchCommandPath reports whether a canonicalized requested path
// matches a specifier path, which may contain shell-style glob
// characters. Globs never cross a '/' — each path segment is matched
// independently against the corresponding pattern segment.
func matchCommandPath(pattern, path string) bool {
	if pattern == path {
		return true
	}
	pSegs := strings.Split(pattern, "/")
	qSegs := strings.Split(path, "/")
	if len(pSegs) != len(qSegs) {
		return false
	}
	for i := range pSegs {
		if pSegs[i] == qSegs[i] {
			continue
		}
		if !wildcard.Match(pSegs[i], qSegs[i]) {
			return false
		}
	}
	return true
}

// matchArgs implements the argument-pattern rule: AnyArgs matches any
// argument vector (including none); otherwise every specifier
// argument must glob-match the corresponding requested argument and
// the counts must agree.
func matchArgs(spec sudoers.Command, args []string) bool {
	if spec.AnyArgs {
		return true
	}
	if len(spec.Args) != len(args) {
		return false
	}
	for i := range spec.Args {
		if spec.Args[i] == args[i] {
			continue
		}
		if !wildcard.Match(spec.Args[i], args[i]) {
			return false
		}
	}
	return true
}

func matchCommand(spec sudoers.Command, path string, args []string) bool {
	switch spec.Kind {
	case sudoers.CommandAll:
		return true
	case sudoers.CommandPath:
		return matchCommandPath(spec.Path, path) && matchArgs(spec, args)
	default:
		// CommandAlias should have been expanded away by the time the
		// matcher runs one of the policy store's alias tables.
		return false
	}
}
