package sudoers

import "fmt"

// aliasTable holds the raw (unresolved) definitions for one of the
// four alias kinds and memoizes resolution, detecting cycles with a
// three-color DFS.
type aliasTable struct {
	kind  AliasKind
	defs  map[string]AliasDef
	color map[string]dfsColor
}

type dfsColor int

const (
	colorWhite dfsColor = iota
	colorGray
	colorBlack
)

func newAliasTable(kind AliasKind) *aliasTable {
	return &aliasTable{
		kind:  kind,
		defs:  make(map[string]AliasDef),
		color: make(map[string]dfsColor),
	}
}

func (t *aliasTable) define(d AliasDef) error {
	if _, exists := t.defs[d.Name]; exists {
		return fmt.Errorf("%s %q redefined", t.kind, d.Name)
	}
	t.defs[d.Name] = d
	return nil
}

// resolveMembers expands a principal list, replacing every
// PrincipalAlias entry with the (transitively resolved, de-aliased)
// members of the named alias. The result contains no PrincipalAlias
// entries — alias tables are closed per invariant.
func (t *aliasTable) resolveMembers(name string) ([]Principal, error) {
	switch t.color[name] {
	case colorGray:
		return nil, fmt.Errorf("%s %q is defined in terms of itself", t.kind, name)
	case colorBlack:
		return t.defs[name].Members, nil
	}
	def, ok := t.defs[name]
	if !ok {
		return nil, fmt.Errorf("undefined %s %q", t.kind, name)
	}
	t.color[name] = colorGray

	var resolved []Principal
	for _, m := range def.Members {
		if m.Kind != PrincipalAlias {
			resolved = append(resolved, m)
			continue
		}
		sub, err := t.resolveMembers(m.Name)
		if err != nil {
			return nil, err
		}
		if m.Negated {
			// copy first: sub is the referenced alias's memoized list
			sub = append([]Principal(nil), sub...)
			for i := range sub {
				sub[i].Negated = !sub[i].Negated
			}
		}
		resolved = append(resolved, sub...)
	}
	def.Members = resolved
	t.defs[name] = def
	t.color[name] = colorBlack
	return resolved, nil
}

// resolveCommands is the Cmnd_Alias analogue of resolveMembers: it
// expands nested command aliases inside a CommandSpec list.
func (t *aliasTable) resolveCommands(name string) ([]CommandSpec, error) {
	switch t.color[name] {
	case colorGray:
		return nil, fmt.Errorf("%s %q is defined in terms of itself", t.kind, name)
	case colorBlack:
		return t.defs[name].Cmnds, nil
	}
	def, ok := t.defs[name]
	if !ok {
		return nil, fmt.Errorf("undefined %s %q", t.kind, name)
	}
	t.color[name] = colorGray

	var resolved []CommandSpec
	for _, spec := range def.Cmnds {
		if spec.Command.Kind != CommandAlias {
			resolved = append(resolved, spec)
			continue
		}
		sub, err := t.resolveCommands(spec.Command.Alias)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, sub...)
	}
	def.Cmnds = resolved
	t.defs[name] = def
	t.color[name] = colorBlack
	return resolved, nil
}

// resolveAll forces resolution of every defined alias, surfacing the
// first cycle or undefined reference found; used by the store once an
// entire file set has been parsed so later Defaults/userspec
// resolution never re-triggers cycle detection.
func (t *aliasTable) resolveAll() error {
	for name := range t.defs {
		if t.kind == AliasCommand {
			if _, err := t.resolveCommands(name); err != nil {
				return err
			}
			continue
		}
		if _, err := t.resolveMembers(name); err != nil {
			return err
		}
	}
	return nil
}

// aliasTables bundles the four tables a parsed sudoers source
// produces.
type aliasTables struct {
	Users  *aliasTable
	Hosts  *aliasTable
	Runas  *aliasTable
	Cmnds  *aliasTable
}

func newAliasTables() *aliasTables {
	return &aliasTables{
		Users: newAliasTable(AliasUser),
		Hosts: newAliasTable(AliasHost),
		Runas: newAliasTable(AliasRunas),
		Cmnds: newAliasTable(AliasCommand),
	}
}

func (a *aliasTables) tableFor(kind AliasKind) *aliasTable {
	switch kind {
	case AliasUser:
		return a.Users
	case AliasHost:
		return a.Hosts
	case AliasRunas:
		return a.Runas
	case AliasCommand:
		return a.Cmnds
	default:
		return nil
	}
}
