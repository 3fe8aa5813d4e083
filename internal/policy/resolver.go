package policy

import "github.com/opsentry/gosudo/internal/sudoers"

// foldedDefault pairs a parsed Defaults directive with a rank that
// orders command-scoped Defaults after every other applicable line, so
// a command-scoped setting wins over a host/user/runas-scoped one
// wherever either is declared, per the decision recorded in DESIGN.md.
type foldedDefault struct {
	line *sudoers.DefaultsLine
	rank int
}

// ResolveSettings folds every Defaults directive that applies to q,
// in declaration order, except that all command-scoped Defaults are
// applied after all other applicable Defaults, whatever their textual
// position; within each of the two groups declaration order holds.
func ResolveSettings(directives []sudoers.Directive, q Query) *Settings {
	settings := NewDefaultSettings()

	var ordered []foldedDefault
	for i := range directives {
		d := &directives[i]
		if d.Kind != sudoers.DirDefaults {
			continue
		}
		line := d.Defaults
		if !defaultsApplies(line, q) {
			continue
		}
		ordered = append(ordered, foldedDefault{line: line, rank: scopeRank(line.Scope)})
	}

	stableSortByRank(ordered)

	for _, fd := range ordered {
		for _, a := range fd.line.Assignments {
			// Parse errors here are reported at load time by the
			// store; at evaluation time an invalid assignment is
			// simply skipped rather than failing the whole query.
			_ = settings.apply(a)
		}
	}
	return settings
}

// scopeRank gives command-scoped Defaults the highest rank so a
// stable sort moves them after every host/user/runas/global Defaults
// line: command scope wins.
func scopeRank(scope sudoers.DefaultsScopeKind) int {
	if scope == sudoers.DefaultsCommand {
		return 1
	}
	return 0
}

// stableSortByRank performs an in-place stable sort by rank,
// preserving declaration order within each rank — equivalent to
// sort.SliceStable but written out since this package otherwise has
// no dependency on sort.
func stableSortByRank(items []foldedDefault) {
	for i := 1; i < len(items); i++ {
		j := i
		for j > 0 && items[j-1].rank > items[j].rank {
			items[j-1], items[j] = items[j], items[j-1]
			j--
		}
	}
}

func defaultsApplies(line *sudoers.DefaultsLine, q Query) bool {
	switch line.Scope {
	case sudoers.DefaultsGlobal:
		return true
	case sudoers.DefaultsHost:
		return matchHostList(line.ScopeList, q.Host)
	case sudoers.DefaultsUser:
		return matchUserList(line.ScopeList, q.InvokerUser, q.InvokerGroups)
	case sudoers.DefaultsRunas:
		target := q.TargetUser
		if target == "" {
			target = "root"
		}
		return matchUserList(line.ScopeList, target, nil)
	case sudoers.DefaultsCommand:
		for i := range line.ScopeCmnds {
			if matchCommand(line.ScopeCmnds[i].Command, q.CommandPath, q.CommandArgs) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
