package sudoers

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lexAll(t *testing.T, src string) []token {
	t.Helper()
	l := newLexer("sudoers", src)
	var toks []token
	for {
		tok, err := l.next()
		require.NoError(t, err)
		if tok.kind == tokEOF {
			break
		}
		toks = append(toks, tok)
	}
	return toks
}

func kinds(toks []token) []tokenKind {
	out := make([]tokenKind, len(toks))
	for i, t := range toks {
		out[i] = t.kind
	}
	return out
}

func TestLexerWords(t *testing.T) {
	toks := lexAll(t, "alice ALL=(ALL) ALL\n")
	require.Len(t, toks, 8)
	assert.Equal(t, "alice", toks[0].text)
	assert.Equal(t, tokWord, toks[0].kind)
	assert.Equal(t, tokEquals, toks[2].kind)
	assert.Equal(t, tokLParen, toks[3].kind)
	assert.Equal(t, tokRParen, toks[5].kind)
	assert.Equal(t, tokEOL, toks[7].kind)
}

func TestLexerComment(t *testing.T) {
	toks := lexAll(t, "# a full line comment\nalice ALL=ALL\n")
	var words []string
	for _, tok := range toks {
		if tok.kind == tokWord {
			words = append(words, tok.text)
		}
	}
	assert.Equal(t, []string{"alice", "ALL", "ALL"}, words)
}

func TestLexerNumericID(t *testing.T) {
	toks := lexAll(t, "#0 ALL=ALL\n")
	require.NotEmpty(t, toks)
	assert.Equal(t, "#0", toks[0].text)
}

func TestLexerIncludeDirectives(t *testing.T) {
	toks := lexAll(t, "@include /etc/sudoers.d/local\n#includedir /etc/sudoers.d\n")
	assert.Equal(t, tokInclude, toks[0].kind)
	assert.Equal(t, "/etc/sudoers.d/local", toks[1].text)
	assert.Equal(t, tokIncludeDir, toks[3].kind)
}

func TestLexerQuotedString(t *testing.T) {
	toks := lexAll(t, `Defaults logfile="/var/log/sudo.log"` + "\n")
	var last token
	for _, tok := range toks {
		if tok.kind == tokString {
			last = tok
		}
	}
	assert.Equal(t, "/var/log/sudo.log", last.text)
}

func TestLexerQuotedStringEscapes(t *testing.T) {
	toks := lexAll(t, `Defaults x="a\"b\\c"`+"\n")
	var got string
	for _, tok := range toks {
		if tok.kind == tokString {
			got = tok.text
		}
	}
	assert.Equal(t, `a"b\c`, got)
}

func TestLexerUnterminatedQuoteIsFatal(t *testing.T) {
	l := newLexer("sudoers", `Defaults x="unterminated`)
	var err error
	for {
		var tok token
		tok, err = l.next()
		if err != nil || tok.kind == tokEOF {
			break
		}
	}
	require.Error(t, err)
	var lerr *lexError
	require.ErrorAs(t, err, &lerr)
}

func TestLexerBackslashEscapesDelimiter(t *testing.T) {
	toks := lexAll(t, `foo\,bar ALL=ALL`+"\n")
	assert.Equal(t, "foo,bar", toks[0].text)
}

func TestLexerLineContinuation(t *testing.T) {
	toks := lexAll(t, "alice ALL = \\\n  ALL\n")
	assert.Equal(t, []tokenKind{tokWord, tokWord, tokEquals, tokWord, tokEOL}, kinds(toks))
}

func TestLexerPlusMinusEquals(t *testing.T) {
	toks := lexAll(t, "Defaults env_keep += \"FOO\"\nDefaults env_keep -= \"BAR\"\n")
	var got []tokenKind
	for _, tok := range toks {
		if tok.kind == tokPlusEq || tok.kind == tokMinusEq {
			got = append(got, tok.kind)
		}
	}
	assert.Equal(t, []tokenKind{tokPlusEq, tokMinusEq}, got)
}

func TestLexerOversizedIdentifierIsFatal(t *testing.T) {
	l := newLexer("sudoers", strings.Repeat("a", maxIdentifierLen+1)+"\n")
	_, err := l.next()
	require.Error(t, err)
}

func TestLexerBangAndRunasTags(t *testing.T) {
	toks := lexAll(t, "bob ALL = (root) NOPASSWD: /bin/ls, !/bin/rm\n")
	assert.Contains(t, kinds(toks), tokBang)
	assert.Contains(t, kinds(toks), tokColon)
	assert.Contains(t, kinds(toks), tokComma)
}
