package supervisor

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloserKeepsWhitelistedDescriptors(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	extraFd := int(w.Fd())
	c := NewCloser(0, extraFd)

	assert.Contains(t, c.whitelist, 0)
	assert.Contains(t, c.whitelist, 1)
	assert.Contains(t, c.whitelist, 2)
	assert.Contains(t, c.whitelist, extraFd)
}

func TestCloserDefaultsCloseFromToThree(t *testing.T) {
	c := NewCloser(0)
	assert.Equal(t, defaultCloseFrom, c.closeFrom)
}

func TestCloserHonorsExplicitCloseFrom(t *testing.T) {
	c := NewCloser(10)
	assert.Equal(t, 10, c.closeFrom)
}

func TestCloseAllExceptClosesUnwhitelistedDescriptor(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	c := NewCloser(int(r.Fd()))
	require.NoError(t, c.CloseAllExcept())

	_, writeErr := w.Write([]byte("x"))
	assert.Error(t, writeErr)
}
