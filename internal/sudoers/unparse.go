package sudoers

import (
	"fmt"
	"strings"
)

// Unparse renders a Directive back to sudoers text, used by the `-l`
// / `-ll` listing output. It is a lossy inverse of the parser — it
// drops comments and exact whitespace — but satisfies
// parse(unparse(d)) producing an equivalent Directive for every kind
// the parser emits.
func Unparse(d Directive) string {
	switch d.Kind {
	case DirUserSpec:
		return unparseUserSpec(d.UserSpec)
	case DirDefaults:
		return unparseDefaults(d.Defaults)
	case DirAlias:
		return unparseAlias(d.Alias)
	case DirInclude:
		return unparseInclude(d.Include)
	default:
		return ""
	}
}

func unparsePrincipal(p Principal) string {
	var sb strings.Builder
	if p.Negated {
		sb.WriteByte('!')
	}
	switch p.Kind {
	case PrincipalGroup:
		sb.WriteByte('%')
	case PrincipalNetgroup:
		sb.WriteByte('+')
	}
	sb.WriteString(p.Name)
	return sb.String()
}

func unparsePrincipalList(ps []Principal) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = unparsePrincipal(p)
	}
	return strings.Join(parts, ", ")
}

func unparseCommand(c Command) string {
	switch c.Kind {
	case CommandAll:
		return "ALL"
	case CommandAlias:
		return c.Alias
	default:
		if c.AnyArgs || len(c.Args) == 0 {
			return c.Path
		}
		return c.Path + " " + strings.Join(c.Args, " ")
	}
}

func unparseCommandSpec(cs CommandSpec) string {
	var sb strings.Builder
	if cs.HasRunas {
		sb.WriteByte('(')
		sb.WriteString(unparsePrincipalList(cs.RunasUser))
		if len(cs.RunasGrp) > 0 {
			sb.WriteByte(':')
			sb.WriteString(unparsePrincipalList(cs.RunasGrp))
		}
		sb.WriteString(") ")
	}
	for _, tag := range cs.Tags {
		if tag.Value != "" {
			sb.WriteString(tag.Name)
			sb.WriteByte('=')
			sb.WriteString(tag.Value)
			sb.WriteByte(' ')
			continue
		}
		name := tag.Name
		if !tag.On {
			name = "NO" + name
		}
		sb.WriteString(name)
		sb.WriteString(": ")
	}
	if cs.Negated {
		sb.WriteByte('!')
	}
	sb.WriteString(unparseCommand(cs.Command))
	return sb.String()
}

func unparseCommandSpecList(specs []CommandSpec) string {
	parts := make([]string, len(specs))
	for i, s := range specs {
		parts[i] = unparseCommandSpec(s)
	}
	return strings.Join(parts, ", ")
}

func unparseUserSpec(u *UserSpec) string {
	return fmt.Sprintf("%s %s = %s",
		unparsePrincipalList(u.Users),
		unparsePrincipalList(u.Hosts),
		unparseCommandSpecList(u.Commands))
}

func unparseAlias(a *AliasDef) string {
	if a.Kind == AliasCommand {
		return fmt.Sprintf("%s %s = %s", a.Kind, a.Name, unparseCommandSpecList(a.Cmnds))
	}
	return fmt.Sprintf("%s %s = %s", a.Kind, a.Name, unparsePrincipalList(a.Members))
}

func unparseDefaults(d *DefaultsLine) string {
	var sb strings.Builder
	sb.WriteString("Defaults")
	switch d.Scope {
	case DefaultsHost:
		sb.WriteByte('@')
		sb.WriteString(unparsePrincipalList(d.ScopeList))
	case DefaultsUser:
		sb.WriteByte(':')
		sb.WriteString(unparsePrincipalList(d.ScopeList))
	case DefaultsRunas:
		sb.WriteByte('>')
		sb.WriteString(unparsePrincipalList(d.ScopeList))
	case DefaultsCommand:
		sb.WriteByte('!')
		sb.WriteString(unparseCommandSpecList(d.ScopeCmnds))
	}
	sb.WriteByte(' ')

	parts := make([]string, len(d.Assignments))
	for i, a := range d.Assignments {
		parts[i] = unparseAssignment(a)
	}
	sb.WriteString(strings.Join(parts, ", "))
	return sb.String()
}

func unparseAssignment(a SettingAssignment) string {
	switch a.Op {
	case OpNegate:
		return "!" + a.Name
	case OpAppend:
		return fmt.Sprintf("%s += %q", a.Name, a.Value)
	case OpRemove:
		return fmt.Sprintf("%s -= %q", a.Name, a.Value)
	default:
		if a.Value == "true" {
			return a.Name
		}
		return fmt.Sprintf("%s=%q", a.Name, a.Value)
	}
}

// UnparseCommandSpecs renders a command-spec list alone, without the
// user/host prefix of a full rule; the `-l` listing prints one of
// these per matching rule.
func UnparseCommandSpecs(specs []CommandSpec) string {
	return unparseCommandSpecList(specs)
}

func unparseInclude(inc *IncludeDirective) string {
	if inc.Kind == IncludeDir {
		return "@includedir " + inc.Path
	}
	return "@include " + inc.Path
}
