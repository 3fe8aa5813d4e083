package sudoers

// expandDirectives rewrites every stored directive so that no alias
// reference survives into the matcher: user/host/runas lists have
// their PrincipalAlias entries replaced by the resolved members, and
// command-spec lists have CommandAlias entries replaced by the
// aliased specs (inheriting the referencing spec's runas lists and
// tags). Must run after resolveAll so resolution is memoized and
// cycle-free; an undefined reference becomes a Diagnostic and the
// offending entry is dropped as an illegal alias reference.
func (s *Store) expandDirectives() {
	for i := range s.Directives {
		d := &s.Directives[i]
		switch d.Kind {
		case DirUserSpec:
			us := *d.UserSpec
			us.Users = s.expandPrincipals(s.Aliases.Users, us.Users, us.Pos)
			us.Hosts = s.expandPrincipals(s.Aliases.Hosts, us.Hosts, us.Pos)
			us.Commands = s.expandCommandSpecs(us.Commands)
			d.UserSpec = &us
		case DirDefaults:
			dl := *d.Defaults
			switch dl.Scope {
			case DefaultsHost:
				dl.ScopeList = s.expandPrincipals(s.Aliases.Hosts, dl.ScopeList, dl.Pos)
			case DefaultsUser:
				dl.ScopeList = s.expandPrincipals(s.Aliases.Users, dl.ScopeList, dl.Pos)
			case DefaultsRunas:
				dl.ScopeList = s.expandPrincipals(s.Aliases.Runas, dl.ScopeList, dl.Pos)
			case DefaultsCommand:
				dl.ScopeCmnds = s.expandCommandSpecs(dl.ScopeCmnds)
			}
			d.Defaults = &dl
		}
	}
}

func (s *Store) expandPrincipals(table *aliasTable, list []Principal, pos Position) []Principal {
	out := make([]Principal, 0, len(list))
	for _, p := range list {
		if p.Kind != PrincipalAlias {
			out = append(out, p)
			continue
		}
		members, err := table.resolveMembers(p.Name)
		if err != nil {
			s.Diagnostics = append(s.Diagnostics, errorAt(pos, "%s", err))
			continue
		}
		for _, m := range members {
			if p.Negated {
				m.Negated = !m.Negated
			}
			out = append(out, m)
		}
	}
	return out
}

func (s *Store) expandCommandSpecs(specs []CommandSpec) []CommandSpec {
	out := make([]CommandSpec, 0, len(specs))
	for _, spec := range specs {
		spec.RunasUser = s.expandPrincipals(s.Aliases.Runas, spec.RunasUser, spec.Pos)
		spec.RunasGrp = s.expandPrincipals(s.Aliases.Runas, spec.RunasGrp, spec.Pos)

		if spec.Command.Kind != CommandAlias {
			out = append(out, spec)
			continue
		}
		subs, err := s.Aliases.Cmnds.resolveCommands(spec.Command.Alias)
		if err != nil {
			s.Diagnostics = append(s.Diagnostics, errorAt(spec.Pos, "%s", err))
			continue
		}
		for _, sub := range subs {
			expanded := spec
			expanded.Command = sub.Command
			expanded.Negated = spec.Negated != sub.Negated
			if sub.HasRunas && !spec.HasRunas {
				expanded.HasRunas = true
				expanded.RunasUser = sub.RunasUser
				expanded.RunasGrp = sub.RunasGrp
			}
			if len(sub.Tags) > 0 {
				expanded.Tags = append(append([]Tag(nil), spec.Tags...), sub.Tags...)
			}
			out = append(out, expanded)
		}
	}
	return out
}
