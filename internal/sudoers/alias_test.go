package sudoers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAliasTableResolvesNestedAlias(t *testing.T) {
	tbl := newAliasTable(AliasUser)
	require.NoError(t, tbl.define(AliasDef{Kind: AliasUser, Name: "CORE", Members: []Principal{
		{Kind: PrincipalUser, Name: "alice"},
	}}))
	require.NoError(t, tbl.define(AliasDef{Kind: AliasUser, Name: "ADMINS", Members: []Principal{
		{Kind: PrincipalAlias, Name: "CORE"},
		{Kind: PrincipalUser, Name: "bob"},
	}}))

	members, err := tbl.resolveMembers("ADMINS")
	require.NoError(t, err)
	require.Len(t, members, 2)
	for _, m := range members {
		assert.NotEqual(t, PrincipalAlias, m.Kind)
	}
}

func TestAliasTableDetectsDirectCycle(t *testing.T) {
	tbl := newAliasTable(AliasUser)
	require.NoError(t, tbl.define(AliasDef{Kind: AliasUser, Name: "A", Members: []Principal{
		{Kind: PrincipalAlias, Name: "A"},
	}}))
	_, err := tbl.resolveMembers("A")
	require.Error(t, err)
}

func TestAliasTableDetectsIndirectCycle(t *testing.T) {
	tbl := newAliasTable(AliasUser)
	require.NoError(t, tbl.define(AliasDef{Kind: AliasUser, Name: "A", Members: []Principal{
		{Kind: PrincipalAlias, Name: "B"},
	}}))
	require.NoError(t, tbl.define(AliasDef{Kind: AliasUser, Name: "B", Members: []Principal{
		{Kind: PrincipalAlias, Name: "C"},
	}}))
	require.NoError(t, tbl.define(AliasDef{Kind: AliasUser, Name: "C", Members: []Principal{
		{Kind: PrincipalAlias, Name: "A"},
	}}))
	_, err := tbl.resolveMembers("A")
	require.Error(t, err)
}

func TestAliasTableRejectsRedefinition(t *testing.T) {
	tbl := newAliasTable(AliasHost)
	require.NoError(t, tbl.define(AliasDef{Kind: AliasHost, Name: "WEB", Members: []Principal{
		{Kind: PrincipalUser, Name: "web1"},
	}}))
	err := tbl.define(AliasDef{Kind: AliasHost, Name: "WEB", Members: []Principal{
		{Kind: PrincipalUser, Name: "web2"},
	}})
	require.Error(t, err)
}

func TestAliasTableNegationFlipsResolvedMembers(t *testing.T) {
	tbl := newAliasTable(AliasUser)
	require.NoError(t, tbl.define(AliasDef{Kind: AliasUser, Name: "CORE", Members: []Principal{
		{Kind: PrincipalUser, Name: "alice"},
	}}))
	require.NoError(t, tbl.define(AliasDef{Kind: AliasUser, Name: "NOTCORE", Members: []Principal{
		{Kind: PrincipalAlias, Name: "CORE", Negated: true},
	}}))
	members, err := tbl.resolveMembers("NOTCORE")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.True(t, members[0].Negated)
}

func TestAliasTableUndefinedReferenceIsAnError(t *testing.T) {
	tbl := newAliasTable(AliasUser)
	require.NoError(t, tbl.define(AliasDef{Kind: AliasUser, Name: "A", Members: []Principal{
		{Kind: PrincipalAlias, Name: "MISSING"},
	}}))
	_, err := tbl.resolveMembers("A")
	require.Error(t, err)
}

func TestAliasTableResolveAllIsIdempotent(t *testing.T) {
	tbl := newAliasTable(AliasUser)
	require.NoError(t, tbl.define(AliasDef{Kind: AliasUser, Name: "A", Members: []Principal{
		{Kind: PrincipalUser, Name: "alice"},
	}}))
	require.NoError(t, tbl.resolveAll())
	require.NoError(t, tbl.resolveAll())
}
