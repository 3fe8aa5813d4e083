package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsentry/gosudo/internal/sudoers"
)

func TestSettingsApplyUnknownOptionIsAnError(t *testing.T) {
	s := NewDefaultSettings()
	err := s.apply(sudoers.SettingAssignment{Name: "does_not_exist", Op: sudoers.OpSet, Value: "x"})
	require.Error(t, err)
}

func TestSettingsApplyIntegerRadix(t *testing.T) {
	s := NewDefaultSettings()
	require.NoError(t, s.apply(sudoers.SettingAssignment{Name: "umask", Op: sudoers.OpSet, Value: "022"}))
	assert.EqualValues(t, 022, s.Int("umask"))
}

func TestSettingsApplyNegateOnNonBoolIsAnError(t *testing.T) {
	s := NewDefaultSettings()
	err := s.apply(sudoers.SettingAssignment{Name: "secure_path", Op: sudoers.OpNegate})
	require.Error(t, err)
}

func TestSettingsAppendAndRemoveAreSetLike(t *testing.T) {
	s := NewDefaultSettings()
	require.NoError(t, s.apply(sudoers.SettingAssignment{Name: "env_keep", Op: sudoers.OpSet, Value: "FOO"}))
	require.NoError(t, s.apply(sudoers.SettingAssignment{Name: "env_keep", Op: sudoers.OpAppend, Value: "BAR"}))
	require.NoError(t, s.apply(sudoers.SettingAssignment{Name: "env_keep", Op: sudoers.OpAppend, Value: "BAR"}))
	require.NoError(t, s.apply(sudoers.SettingAssignment{Name: "env_keep", Op: sudoers.OpRemove, Value: "FOO"}))
	assert.ElementsMatch(t, []string{"BAR"}, s.StringSet("env_keep"))
}

func TestSettingsCloneIsIndependent(t *testing.T) {
	s := NewDefaultSettings()
	clone := s.clone()
	require.NoError(t, clone.apply(sudoers.SettingAssignment{Name: "env_reset", Op: sudoers.OpNegate}))
	assert.True(t, s.Bool("env_reset"))
	assert.False(t, clone.Bool("env_reset"))
}
