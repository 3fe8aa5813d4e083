package policy

import "github.com/opsentry/gosudo/internal/sudoers"

// Enumeration is the matcher's `-l` view: which Defaults lines and
// which rules apply to the invoker on this host, without fixing a
// command. Command-scoped Defaults never appear here since there is
// no command to test them against.
type Enumeration struct {
	Defaults []*sudoers.DefaultsLine
	Rules    []*sudoers.UserSpec
}

// Enumerate walks directives in declaration order collecting
// everything that applies to q's invoker and host, for the list
// surface. It shares the per-list matching helpers with Evaluate so
// the two can never disagree about who a rule covers.
func Enumerate(directives []sudoers.Directive, q Query) Enumeration {
	var e Enumeration
	for i := range directives {
		d := &directives[i]
		switch d.Kind {
		case sudoers.DirDefaults:
			if d.Defaults.Scope != sudoers.DefaultsCommand && defaultsApplies(d.Defaults, q) {
				e.Defaults = append(e.Defaults, d.Defaults)
			}
		case sudoers.DirUserSpec:
			us := d.UserSpec
			if matchUserList(us.Users, q.InvokerUser, q.InvokerGroups) && matchHostList(us.Hosts, q.Host) {
				e.Rules = append(e.Rules, us)
			}
		}
	}
	return e
}
