package sudoers

import (
	"fmt"
	"strings"
)

var tagWords = map[string]bool{
	"NOPASSWD": true, "PASSWD": true,
	"NOEXEC": true, "EXEC": true,
	"SETENV": true, "NOSETENV": true,
	"LOG_INPUT": true, "NOLOG_INPUT": true,
	"LOG_OUTPUT": true, "NOLOG_OUTPUT": true,
	"FOLLOW": true, "NOFOLLOW": true,
	"MAIL": true, "NOMAIL": true,
}

// tagPolarity reports whether a tag word turns the option on, and the
// canonical name it toggles (NOPASSWD and PASSWD share one name, etc).
func tagPolarity(word string) (name string, on bool) {
	if strings.HasPrefix(word, "NO") {
		if _, ok := tagWords[word]; ok {
			if canon, ok := tagWords[word[2:]]; ok && canon {
				return word[2:], false
			}
		}
	}
	return word, true
}

// parser is a recursive-descent driver over the token stream produced
// by lexer; it resynchronizes at the next EOL after a fatal error on a
// line, so a single malformed line never aborts the whole file.
type parser struct {
	lex        *lexer
	tok        token
	pendingErr *lexError
	// noArgs is set while parsing a Defaults!cmnd scope list, whose
	// commands take no arguments: the next word is an option name.
	noArgs bool
}

func newParser(file, src string) *parser {
	p := &parser{lex: newLexer(file, src)}
	p.advance()
	return p
}

func (p *parser) advance() token {
	prev := p.tok
	tok, err := p.lex.next()
	if err != nil {
		var lerr *lexError
		if ok := asLexError(err, &lerr); ok {
			p.tok = token{kind: tokEOF, pos: lerr.pos}
			p.pendingErr = lerr
			return prev
		}
	}
	p.tok = tok
	return prev
}

func asLexError(err error, out **lexError) bool {
	le, ok := err.(*lexError)
	if ok {
		*out = le
	}
	return ok
}

// ParseAll tokenizes and parses an entire source, returning one
// Result per line-level production and recovering from fatal errors
// line by line.
func ParseAll(file, src string) []Result {
	p := newParser(file, src)
	var results []Result
	for {
		p.skipBlankLines()
		if p.tok.kind == tokEOF {
			break
		}
		results = append(results, p.parseLine()...)
	}
	return results
}

func (p *parser) skipBlankLines() {
	for p.tok.kind == tokEOL {
		p.advance()
	}
}

func (p *parser) parseLine() []Result {
	defer p.resync()
	pos := p.tok.pos

	if p.pendingErr != nil {
		err := p.pendingErr
		p.pendingErr = nil
		return []Result{fail(errorAt(err.pos, "%s", err.msg))}
	}

	switch {
	case p.tok.kind == tokInclude:
		return []Result{p.parseInclude(IncludeFile)}
	case p.tok.kind == tokIncludeDir:
		return []Result{p.parseInclude(IncludeDir)}
	case p.tok.kind == tokWord && p.tok.text == "Defaults":
		p.advance()
		return p.parseDefaults(pos)
	case p.tok.kind == tokWord && isAliasKeyword(p.tok.text):
		kind := aliasKeywordKind(p.tok.text)
		p.advance()
		return p.parseAliasDefs(kind)
	case p.tok.kind == tokWord:
		return []Result{p.parseUserSpec(pos)}
	default:
		return []Result{fail(errorAt(pos, "unexpected token %q", p.tok.String()))}
	}
}

// resync discards tokens through the next EOL/EOF so one bad line does
// not corrupt the next.
func (p *parser) resync() {
	for p.tok.kind != tokEOL && p.tok.kind != tokEOF {
		p.advance()
		if p.pendingErr != nil {
			break
		}
	}
	if p.tok.kind == tokEOL {
		p.advance()
	}
}

func isAliasKeyword(w string) bool {
	switch w {
	case "User_Alias", "Host_Alias", "Runas_Alias", "Cmnd_Alias":
		return true
	}
	return false
}

func aliasKeywordKind(w string) AliasKind {
	switch w {
	case "User_Alias":
		return AliasUser
	case "Host_Alias":
		return AliasHost
	case "Runas_Alias":
		return AliasRunas
	default:
		return AliasCommand
	}
}

func (p *parser) parseInclude(kind IncludeKind) Result {
	pos := p.tok.pos
	p.advance()
	if p.tok.kind != tokWord && p.tok.kind != tokString {
		return fail(errorAt(pos, "expected a path after include directive"))
	}
	path := p.tok.text
	p.advance()
	return ok(Directive{
		Kind:    DirInclude,
		Include: &IncludeDirective{Pos: pos, Kind: kind, Path: path},
	})
}

// parsePrincipalList parses a comma-separated list of principals,
// stopping before stop. It enforces the list cardinality cap.
func (p *parser) parsePrincipalList(stop func(token) bool) ([]Principal, error) {
	var list []Principal
	for {
		item, err := p.parsePrincipal()
		if err != nil {
			return nil, err
		}
		list = append(list, item)
		if len(list) > maxListItems {
			return nil, fmt.Errorf("list exceeds maximum of %d items", maxListItems)
		}
		if p.tok.kind == tokComma {
			p.advance()
			continue
		}
		break
	}
	if stop != nil && !stop(p.tok) {
		return nil, fmt.Errorf("unexpected token %q in list", p.tok.String())
	}
	return list, nil
}

func (p *parser) parsePrincipal() (Principal, error) {
	negated := false
	for p.tok.kind == tokBang {
		negated = !negated
		p.advance()
	}
	if p.tok.kind != tokWord {
		return Principal{}, fmt.Errorf("expected a name, got %q", p.tok.String())
	}
	text := p.tok.text
	pos := p.tok.pos
	p.advance()

	switch {
	case text == "ALL":
		return Principal{Negated: negated, Kind: PrincipalAll, Name: "ALL"}, nil
	case strings.HasPrefix(text, "%"):
		return Principal{Negated: negated, Kind: PrincipalGroup, Name: strings.TrimPrefix(text, "%")}, nil
	case strings.HasPrefix(text, "+"):
		return Principal{Negated: negated, Kind: PrincipalNetgroup, Name: strings.TrimPrefix(text, "+")}, nil
	case isAllUpperIdentifier(text):
		return Principal{Negated: negated, Kind: PrincipalAlias, Name: text}, nil
	default:
		if len(text) == 0 {
			return Principal{}, fmt.Errorf("%s: empty name", pos)
		}
		return Principal{Negated: negated, Kind: PrincipalUser, Name: text}, nil
	}
}

func isReservedAliasName(s string) bool {
	switch s {
	case "ALL", "DEFAULTS":
		return true
	}
	return tagWords[s]
}

func isAllUpperIdentifier(s string) bool {
	if s == "" {
		return false
	}
	hasLetter := false
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r == '_':
			hasLetter = true
		case r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return hasLetter
}

func isEquals(t token) bool { return t.kind == tokEquals }

func (p *parser) parseUserSpec(pos Position) Result {
	users, err := p.parsePrincipalList(nil)
	if err != nil {
		return fail(errorAt(pos, "%s", err))
	}
	hosts, err := p.parsePrincipalList(isEquals)
	if err != nil {
		return fail(errorAt(pos, "%s", err))
	}
	p.advance() // consume '='
	cmnds, err := p.parseCommandSpecList()
	if err != nil {
		return fail(errorAt(pos, "%s", err))
	}
	return ok(Directive{
		Kind:     DirUserSpec,
		UserSpec: &UserSpec{Pos: pos, Users: users, Hosts: hosts, Commands: cmnds},
	})
}

func (p *parser) parseCommandSpecList() ([]CommandSpec, error) {
	var specs []CommandSpec
	sticky := map[string]bool{}
	stickyVals := map[string]string{}
	for {
		spec, err := p.parseCommandSpec(sticky, stickyVals)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
		if p.tok.kind == tokComma {
			p.advance()
			continue
		}
		break
	}
	return specs, nil
}

func (p *parser) parseCommandSpec(sticky map[string]bool, stickyVals map[string]string) (CommandSpec, error) {
	pos := p.tok.pos
	spec := CommandSpec{Pos: pos}

	if p.tok.kind == tokLParen {
		p.advance()
		spec.HasRunas = true
		users, groups, err := p.parseRunasList()
		if err != nil {
			return CommandSpec{}, err
		}
		spec.RunasUser, spec.RunasGrp = users, groups
		if p.tok.kind != tokRParen {
			return CommandSpec{}, fmt.Errorf("expected ')' after runas list")
		}
		p.advance()
	}

	for p.tok.kind == tokWord && (tagWords[p.tok.text] || p.tok.text == "CWD") {
		if p.tok.text == "CWD" {
			p.advance()
			if p.tok.kind != tokEquals {
				return CommandSpec{}, fmt.Errorf("expected '=' after CWD")
			}
			p.advance()
			if p.tok.kind != tokWord && p.tok.kind != tokString {
				return CommandSpec{}, fmt.Errorf("expected a directory or '*' after CWD=")
			}
			stickyVals["CWD"] = p.tok.text
			p.advance()
			continue
		}
		name, on := tagPolarity(p.tok.text)
		sticky[name] = on
		p.advance()
		if p.tok.kind != tokColon {
			return CommandSpec{}, fmt.Errorf("expected ':' after tag %q", name)
		}
		p.advance()
	}
	for name, on := range sticky {
		spec.Tags = append(spec.Tags, Tag{Name: name, On: on})
	}
	for name, v := range stickyVals {
		spec.Tags = append(spec.Tags, Tag{Name: name, On: true, Value: v})
	}

	negated := false
	for p.tok.kind == tokBang {
		negated = !negated
		p.advance()
	}
	spec.Negated = negated

	cmd, err := p.parseCommand()
	if err != nil {
		return CommandSpec{}, err
	}
	spec.Command = cmd
	return spec, nil
}

// parseRunasList parses the inside of "( users : groups )", either
// half optional.
func (p *parser) parseRunasList() ([]Principal, []Principal, error) {
	var users, groups []Principal
	var err error
	if p.tok.kind != tokColon && p.tok.kind != tokRParen {
		users, err = p.parsePrincipalList(func(t token) bool {
			return t.kind == tokColon || t.kind == tokRParen
		})
		if err != nil {
			return nil, nil, err
		}
	}
	if p.tok.kind == tokColon {
		p.advance()
		groups, err = p.parsePrincipalList(func(t token) bool { return t.kind == tokRParen })
		if err != nil {
			return nil, nil, err
		}
	}
	return users, groups, nil
}

func (p *parser) parseCommand() (Command, error) {
	if p.tok.kind != tokWord {
		return Command{}, fmt.Errorf("expected a command, got %q", p.tok.String())
	}
	text := p.tok.text
	pos := p.tok.pos
	p.advance()

	if text == "ALL" {
		return Command{Kind: CommandAll, AnyArgs: true}, nil
	}
	if isAllUpperIdentifier(text) {
		return Command{Kind: CommandAlias, Alias: text}, nil
	}
	if !strings.HasPrefix(text, "/") {
		return Command{}, fmt.Errorf("%s: command %q must be an absolute path or ALL", pos, text)
	}
	cmd := Command{Kind: CommandPath, Path: text}
	var args []string
	for !p.noArgs && p.tok.kind == tokWord && !tagWords[p.tok.text] {
		args = append(args, p.tok.text)
		p.advance()
	}
	if len(args) == 0 {
		cmd.AnyArgs = true
	} else {
		cmd.Args = args
	}
	return cmd, nil
}

func (p *parser) parseDefaults(pos Position) []Result {
	line := &DefaultsLine{Pos: pos, Scope: DefaultsGlobal}

	// A scope character counts only when written directly after
	// "Defaults"; "Defaults !lecture" is a global negated option.
	scope := p.tok.kind
	if p.tok.pos.Line != pos.Line || p.tok.pos.Col != pos.Col+len("Defaults") {
		scope = tokWord
	}
	switch scope {
	case tokAt:
		p.advance()
		line.Scope = DefaultsHost
		list, err := p.parsePrincipalList(nil)
		if err != nil {
			return []Result{fail(errorAt(pos, "%s", err))}
		}
		line.ScopeList = list
	case tokColon:
		p.advance()
		line.Scope = DefaultsUser
		list, err := p.parsePrincipalList(nil)
		if err != nil {
			return []Result{fail(errorAt(pos, "%s", err))}
		}
		line.ScopeList = list
	case tokGT:
		p.advance()
		line.Scope = DefaultsRunas
		list, err := p.parsePrincipalList(nil)
		if err != nil {
			return []Result{fail(errorAt(pos, "%s", err))}
		}
		line.ScopeList = list
	case tokBang:
		p.advance()
		line.Scope = DefaultsCommand
		p.noArgs = true
		specs, err := p.parseCommandSpecList()
		p.noArgs = false
		if err != nil {
			return []Result{fail(errorAt(pos, "%s", err))}
		}
		line.ScopeCmnds = specs
	}

	assigns, err := p.parseOptionList()
	if err != nil {
		return []Result{fail(errorAt(pos, "%s", err))}
	}
	line.Assignments = assigns
	return []Result{ok(Directive{Kind: DirDefaults, Defaults: line})}
}

func (p *parser) parseOptionList() ([]SettingAssignment, error) {
	var out []SettingAssignment
	for {
		assign, err := p.parseOption()
		if err != nil {
			return nil, err
		}
		out = append(out, assign)
		if p.tok.kind == tokComma {
			p.advance()
			continue
		}
		break
	}
	return out, nil
}

func (p *parser) parseOption() (SettingAssignment, error) {
	pos := p.tok.pos
	negate := false
	if p.tok.kind == tokBang {
		negate = true
		p.advance()
	}
	if p.tok.kind != tokWord {
		return SettingAssignment{}, fmt.Errorf("expected an option name, got %q", p.tok.String())
	}
	name := p.tok.text
	p.advance()

	if negate {
		return SettingAssignment{Pos: pos, Name: name, Op: OpNegate}, nil
	}
	switch p.tok.kind {
	case tokEquals:
		p.advance()
		val, err := p.parseOptionValue()
		if err != nil {
			return SettingAssignment{}, err
		}
		return SettingAssignment{Pos: pos, Name: name, Op: OpSet, Value: val}, nil
	case tokPlusEq:
		p.advance()
		val, err := p.parseOptionValue()
		if err != nil {
			return SettingAssignment{}, err
		}
		return SettingAssignment{Pos: pos, Name: name, Op: OpAppend, Value: val}, nil
	case tokMinusEq:
		p.advance()
		val, err := p.parseOptionValue()
		if err != nil {
			return SettingAssignment{}, err
		}
		return SettingAssignment{Pos: pos, Name: name, Op: OpRemove, Value: val}, nil
	default:
		return SettingAssignment{Pos: pos, Name: name, Op: OpSet, Value: "true"}, nil
	}
}

func (p *parser) parseOptionValue() (string, error) {
	if p.tok.kind != tokWord && p.tok.kind != tokString {
		return "", fmt.Errorf("expected a value, got %q", p.tok.String())
	}
	val := p.tok.text
	p.advance()
	return val, nil
}

func (p *parser) parseAliasDefs(kind AliasKind) []Result {
	var results []Result
	for {
		pos := p.tok.pos
		if p.tok.kind != tokWord {
			results = append(results, fail(errorAt(pos, "expected an alias name, got %q", p.tok.String())))
			return results
		}
		name := p.tok.text
		if !isAllUpperIdentifier(name) || strings.HasPrefix(name, "_") || isReservedAliasName(name) {
			results = append(results, fail(errorAt(pos, "alias name %q must be uppercase", name)))
			return results
		}
		p.advance()
		if p.tok.kind != tokEquals {
			results = append(results, fail(errorAt(pos, "expected '=' after alias name %q", name)))
			return results
		}
		p.advance()

		def := AliasDef{Pos: pos, Kind: kind, Name: name}
		if kind == AliasCommand {
			specs, err := p.parseCommandSpecList()
			if err != nil {
				results = append(results, fail(errorAt(pos, "%s", err)))
				return results
			}
			def.Cmnds = specs
		} else {
			members, err := p.parsePrincipalList(nil)
			if err != nil {
				results = append(results, fail(errorAt(pos, "%s", err)))
				return results
			}
			def.Members = members
		}
		results = append(results, ok(Directive{Kind: DirAlias, Alias: &def}))

		if p.tok.kind == tokColon {
			p.advance()
			continue
		}
		break
	}
	return results
}
