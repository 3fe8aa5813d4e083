// Package policy implements the settings resolver and rule matcher:
// folding Defaults directives into a total Settings record and
// evaluating userspec rules against a query to produce a verdict.
package policy

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/opsentry/gosudo/internal/sudoers"
)

// OptionKind tags the Go type backing a Settings option.
type OptionKind int

const (
	KindBool OptionKind = iota
	KindInt
	KindString
	KindStringSet
)

// OptionSchema describes one named option: its kind, default value,
// negated value (for boolean-like options toggled by `!option`), and
// — for integers — the radix used to parse literal values.
type OptionSchema struct {
	Name    string
	Kind    OptionKind
	Default any
	Negated any
	Radix   int
	Enum    []string
}

// schema is the fixed catalog of options the resolver understands; an
// assignment naming anything else is an unknown-option parse error.
var schema = buildSchema()

func buildSchema() map[string]OptionSchema {
	s := map[string]OptionSchema{}
	add := func(opt OptionSchema) { s[opt.Name] = opt }

	add(OptionSchema{Name: "env_reset", Kind: KindBool, Default: true, Negated: false})
	add(OptionSchema{Name: "rootpw", Kind: KindBool, Default: false, Negated: true})
	add(OptionSchema{Name: "use_pty", Kind: KindBool, Default: true, Negated: false})
	add(OptionSchema{Name: "pwfeedback", Kind: KindBool, Default: false, Negated: true})
	add(OptionSchema{Name: "requiretty", Kind: KindBool, Default: false, Negated: true})
	add(OptionSchema{Name: "mail_badpass", Kind: KindBool, Default: true, Negated: false})
	add(OptionSchema{Name: "lecture", Kind: KindBool, Default: true, Negated: false})
	add(OptionSchema{Name: "authenticate", Kind: KindBool, Default: true, Negated: false})
	add(OptionSchema{Name: "passwd_tries", Kind: KindInt, Default: 3, Radix: 10})
	add(OptionSchema{Name: "passwd_timeout", Kind: KindInt, Default: 300, Radix: 10})
	add(OptionSchema{Name: "timestamp_timeout", Kind: KindInt, Default: 300, Radix: 10})
	add(OptionSchema{Name: "umask", Kind: KindInt, Default: 0022, Radix: 8})
	add(OptionSchema{Name: "secure_path", Kind: KindString, Default: ""})
	add(OptionSchema{Name: "editor", Kind: KindString, Default: "/usr/bin/editor"})
	add(OptionSchema{Name: "lecture_file", Kind: KindString, Default: ""})
	add(OptionSchema{Name: "logfile", Kind: KindString, Default: ""})
	add(OptionSchema{Name: "cwd", Kind: KindString, Default: ""})
	add(OptionSchema{Name: "env_keep", Kind: KindStringSet, Default: []string{
		"COLORS", "DISPLAY", "HOSTNAME", "HISTSIZE", "KDEDIR", "LS_COLORS",
		"PS1", "PS2", "XAUTHORITY", "LANG", "LANGUAGE", "LC_*", "SUDO_PS1",
	}})
	add(OptionSchema{Name: "env_check", Kind: KindStringSet, Default: []string{"TERM", "TZ", "COLORTERM"}})
	add(OptionSchema{Name: "env_delete", Kind: KindStringSet, Default: []string{}})
	return s
}

// Settings is a total record: every schema option has a value, either
// the schema default or a value supplied by a folded Defaults line.
type Settings struct {
	bools   map[string]bool
	ints    map[string]int64
	strs    map[string]string
	sets    map[string][]string
}

// NewDefaultSettings returns a Settings populated entirely from schema
// defaults, satisfying the "total after evaluation" invariant even
// when a policy source defines no Defaults lines at all.
func NewDefaultSettings() *Settings {
	s := &Settings{
		bools: map[string]bool{},
		ints:  map[string]int64{},
		strs:  map[string]string{},
		sets:  map[string][]string{},
	}
	for name, opt := range schema {
		switch opt.Kind {
		case KindBool:
			s.bools[name] = opt.Default.(bool)
		case KindInt:
			s.ints[name] = int64(opt.Default.(int))
		case KindString:
			s.strs[name] = opt.Default.(string)
		case KindStringSet:
			s.sets[name] = append([]string(nil), opt.Default.([]string)...)
		}
	}
	return s
}

func (s *Settings) clone() *Settings {
	out := &Settings{
		bools: make(map[string]bool, len(s.bools)),
		ints:  make(map[string]int64, len(s.ints)),
		strs:  make(map[string]string, len(s.strs)),
		sets:  make(map[string][]string, len(s.sets)),
	}
	for k, v := range s.bools {
		out.bools[k] = v
	}
	for k, v := range s.ints {
		out.ints[k] = v
	}
	for k, v := range s.strs {
		out.strs[k] = v
	}
	for k, v := range s.sets {
		out.sets[k] = append([]string(nil), v...)
	}
	return out
}

func (s *Settings) Bool(name string) bool      { return s.bools[name] }
func (s *Settings) Int(name string) int64      { return s.ints[name] }
func (s *Settings) String(name string) string  { return s.strs[name] }
func (s *Settings) StringSet(name string) []string {
	return append([]string(nil), s.sets[name]...)
}

// apply folds one SettingAssignment onto the receiver in place,
// validating the option name and value against schema.
func (s *Settings) apply(a sudoers.SettingAssignment) error {
	opt, ok := schema[a.Name]
	if !ok {
		return fmt.Errorf("unknown option %q", a.Name)
	}
	switch a.Op {
	case sudoers.OpNegate:
		if opt.Kind != KindBool {
			return fmt.Errorf("option %q is not negatable", a.Name)
		}
		s.bools[a.Name] = opt.Negated.(bool)
		return nil
	case sudoers.OpSet:
		return s.set(opt, a.Value)
	case sudoers.OpAppend:
		if opt.Kind != KindStringSet {
			return fmt.Errorf("option %q does not accept +=", a.Name)
		}
		s.sets[a.Name] = appendUnique(s.sets[a.Name], a.Value)
		return nil
	case sudoers.OpRemove:
		if opt.Kind != KindStringSet {
			return fmt.Errorf("option %q does not accept -=", a.Name)
		}
		s.sets[a.Name] = removeValue(s.sets[a.Name], a.Value)
		return nil
	default:
		return fmt.Errorf("unsupported operator for option %q", a.Name)
	}
}

func (s *Settings) set(opt OptionSchema, value string) error {
	switch opt.Kind {
	case KindBool:
		s.bools[opt.Name] = value != "false"
		return nil
	case KindInt:
		n, err := strconv.ParseInt(value, opt.Radix, 64)
		if err != nil {
			return fmt.Errorf("option %q: %w", opt.Name, err)
		}
		s.ints[opt.Name] = n
		return nil
	case KindString:
		if len(opt.Enum) > 0 && !contains(opt.Enum, value) {
			return fmt.Errorf("option %q: value %q not in %v", opt.Name, value, opt.Enum)
		}
		s.strs[opt.Name] = value
		return nil
	case KindStringSet:
		s.sets[opt.Name] = splitList(value)
		return nil
	default:
		return fmt.Errorf("option %q has unknown kind", opt.Name)
	}
}

func splitList(value string) []string {
	fields := strings.Fields(strings.ReplaceAll(value, ",", " "))
	return fields
}

func appendUnique(set []string, value string) []string {
	for _, v := range splitList(value) {
		if !contains(set, v) {
			set = append(set, v)
		}
	}
	return set
}

func removeValue(set []string, value string) []string {
	remove := map[string]bool{}
	for _, v := range splitList(value) {
		remove[v] = true
	}
	out := set[:0:0]
	for _, v := range set {
		if !remove[v] {
			out = append(out, v)
		}
	}
	return out
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
