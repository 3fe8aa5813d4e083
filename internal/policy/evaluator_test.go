package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsentry/gosudo/internal/sudoers"
)

func mustParse(t *testing.T, src string) []sudoers.Directive {
	t.Helper()
	results := sudoers.ParseAll("t", src)
	var dirs []sudoers.Directive
	for _, r := range results {
		require.Nil(t, r.Diag, "unexpected diagnostic: %v", r.Diag)
		dirs = append(dirs, *r.Directive)
	}
	return dirs
}

func baseQuery() Query {
	return Query{
		InvokerUser:   "alice",
		InvokerGroups: []string{"wheel"},
		Host:          "anyhost",
		CommandPath:   "/bin/ls",
	}
}

func TestEvaluateAllowsSimpleMatch(t *testing.T) {
	dirs := mustParse(t, "alice ALL=(ALL) NOPASSWD: /bin/ls\n")
	v := Evaluate(dirs, baseQuery())
	require.Equal(t, VerdictAllow, v.Kind)
	assert.False(t, v.Options.AuthRequired)
	assert.Equal(t, "root", v.RunasUser)
}

func TestEvaluateDeniesWhenNoRuleMatches(t *testing.T) {
	dirs := mustParse(t, "bob ALL=ALL\n")
	v := Evaluate(dirs, baseQuery())
	assert.Equal(t, VerdictDeny, v.Kind)
}

func TestEvaluateLastMatchingRuleWins(t *testing.T) {
	dirs := mustParse(t, "alice ALL=ALL\nalice ALL=NOPASSWD: ALL\n")
	v := Evaluate(dirs, baseQuery())
	require.Equal(t, VerdictAllow, v.Kind)
	assert.False(t, v.Options.AuthRequired)
}

func TestEvaluateNegatedSpecifierExcludesCommand(t *testing.T) {
	dirs := mustParse(t, "alice ALL=ALL, !/bin/ls\n")
	v := Evaluate(dirs, baseQuery())
	assert.Equal(t, VerdictDeny, v.Kind)
}

func TestEvaluateLeadingNegativeIsInert(t *testing.T) {
	dirs := mustParse(t, "alice ALL=!/bin/ls, ALL\n")
	v := Evaluate(dirs, baseQuery())
	assert.Equal(t, VerdictAllow, v.Kind)
}

func TestEvaluateGroupMembershipMatchesViaPercent(t *testing.T) {
	dirs := mustParse(t, "%wheel ALL=ALL\n")
	v := Evaluate(dirs, baseQuery())
	assert.Equal(t, VerdictAllow, v.Kind)
}

func TestEvaluateRunasUserRestriction(t *testing.T) {
	dirs := mustParse(t, "alice ALL=(bob) ALL\n")
	q := baseQuery()
	q.TargetUser = "carol"
	v := Evaluate(dirs, q)
	assert.Equal(t, VerdictDeny, v.Kind)

	q.TargetUser = "bob"
	v = Evaluate(dirs, q)
	assert.Equal(t, VerdictAllow, v.Kind)
	assert.Equal(t, "bob", v.RunasUser)
}

func TestEvaluateRunasGroupOnlyPermitsSelf(t *testing.T) {
	dirs := mustParse(t, "alice ALL=(:wheel) ALL\n")
	q := baseQuery()
	q.TargetUser = "bob"
	v := Evaluate(dirs, q)
	assert.Equal(t, VerdictDeny, v.Kind)

	q.TargetUser = "alice"
	q.TargetGroup = "wheel"
	v = Evaluate(dirs, q)
	assert.Equal(t, VerdictAllow, v.Kind)
}

func TestEvaluateGlobCommandMatchDoesNotCrossSlash(t *testing.T) {
	dirs := mustParse(t, "alice ALL=/usr/bin/*\n")
	q := baseQuery()
	q.CommandPath = "/usr/bin/whoami"
	v := Evaluate(dirs, q)
	assert.Equal(t, VerdictAllow, v.Kind)

	q.CommandPath = "/usr/bin/sub/whoami"
	v = Evaluate(dirs, q)
	assert.Equal(t, VerdictDeny, v.Kind)
}

func TestResolveSettingsFoldsDefaultsInOrder(t *testing.T) {
	dirs := mustParse(t, "Defaults env_keep = \"FOO\"\nDefaults env_keep += \"BAR\"\nDefaults env_keep -= \"FOO\"\n")
	s := ResolveSettings(dirs, baseQuery())
	assert.ElementsMatch(t, []string{"BAR"}, s.StringSet("env_keep"))
}

func TestResolveSettingsCommandScopedWinsOverUserScoped(t *testing.T) {
	dirs := mustParse(t, "Defaults:alice authenticate\nDefaults!/bin/ls !authenticate\n")
	q := baseQuery()
	s := ResolveSettings(dirs, q)
	assert.False(t, s.Bool("authenticate"))
}

func TestResolveSettingsCommandScopedWinsEvenWhenDeclaredFirst(t *testing.T) {
	dirs := mustParse(t, "Defaults!/bin/ls !authenticate\nDefaults:alice authenticate\n")
	q := baseQuery()
	s := ResolveSettings(dirs, q)
	assert.False(t, s.Bool("authenticate"))
}

func TestResolveSettingsHostScoped(t *testing.T) {
	dirs := mustParse(t, "Defaults@anyhost !lecture\n")
	s := ResolveSettings(dirs, baseQuery())
	assert.False(t, s.Bool("lecture"))
}

func TestResolveSettingsDefaultsAreTotal(t *testing.T) {
	s := NewDefaultSettings()
	assert.True(t, s.Bool("env_reset"))
	assert.Equal(t, int64(3), s.Int("passwd_tries"))
}

func TestEvaluateCwdStarPermitsAnyDirectory(t *testing.T) {
	dirs := mustParse(t, "alice ALL = CWD=* /bin/ls\n")
	q := baseQuery()
	q.Cwd = "/anywhere"
	v := Evaluate(dirs, q)
	assert.Equal(t, VerdictAllow, v.Kind)
}

func TestEvaluateCwdMustMatchPolicy(t *testing.T) {
	dirs := mustParse(t, "alice ALL = CWD=/srv /bin/ls\n")
	q := baseQuery()
	q.Cwd = "/srv"
	assert.Equal(t, VerdictAllow, Evaluate(dirs, q).Kind)
	q.Cwd = "/etc"
	assert.Equal(t, VerdictDeny, Evaluate(dirs, q).Kind)
}

func TestEvaluateChdirRefusedWithoutCwdPolicy(t *testing.T) {
	dirs := mustParse(t, "alice ALL = /bin/ls\n")
	q := baseQuery()
	q.Cwd = "/srv"
	assert.Equal(t, VerdictDeny, Evaluate(dirs, q).Kind)
}

func TestEvaluateNegationInLaterRuleDenies(t *testing.T) {
	dirs := mustParse(t, "alice ALL=(ALL) /bin/ls\nalice ALL=(ALL) !/bin/ls\n")
	v := Evaluate(dirs, baseQuery())
	assert.Equal(t, VerdictDeny, v.Kind)
}
