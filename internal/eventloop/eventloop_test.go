package eventloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestRunDispatchesReadyDescriptorAndStops(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	defer loop.Close()

	fds := make([]int, 2)
	require.NoError(t, unix.Pipe2(fds, unix.O_NONBLOCK))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	fired := false
	loop.Add(fds[0], unix.POLLIN, func(revents int16) error {
		fired = true
		var b [8]byte
		unix.Read(fds[0], b[:])
		loop.Stop()
		return nil
	})

	go func() {
		time.Sleep(10 * time.Millisecond)
		unix.Write(fds[1], []byte("x"))
	}()

	require.NoError(t, loop.Run())
	assert.True(t, fired)
}

func TestStopUnblocksRunWithNoOtherActivity(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	defer loop.Close()

	go func() {
		time.Sleep(10 * time.Millisecond)
		loop.Stop()
	}()

	require.NoError(t, loop.Run())
}

func TestHandlerErrorPropagatesFromRun(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	defer loop.Close()

	fds := make([]int, 2)
	require.NoError(t, unix.Pipe2(fds, unix.O_NONBLOCK))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	boom := assert.AnError
	loop.Add(fds[0], unix.POLLIN, func(revents int16) error {
		return boom
	})

	go func() {
		time.Sleep(10 * time.Millisecond)
		unix.Write(fds[1], []byte("x"))
	}()

	err = loop.Run()
	assert.ErrorIs(t, err, boom)
}

func TestRemoveDropsDescriptorFromPollSet(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	defer loop.Close()

	loop.Add(5, unix.POLLIN, func(int16) error { return nil })
	loop.Remove(5)
	for _, r := range loop.regs {
		assert.NotEqual(t, 5, r.fd)
	}
}
