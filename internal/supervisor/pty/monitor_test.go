package pty

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMonitorFSMChildExitTransitionsToExited(t *testing.T) {
	fsm := &MonitorFSM{State: StateSpawned}
	fsm.OnChildExit(42)
	assert.Equal(t, StateExited, fsm.State)
	assert.Equal(t, 42, fsm.ExitCode)
}

func TestMonitorFSMChildTermTransitionsToTerminated(t *testing.T) {
	fsm := &MonitorFSM{State: StateSpawned}
	fsm.OnChildTerm(syscall.SIGTERM)
	assert.Equal(t, StateTerminated, fsm.State)
	assert.Equal(t, syscall.SIGTERM, fsm.TermSignal)
}

func TestMonitorFSMChildStopTransitionsToStopped(t *testing.T) {
	fsm := &MonitorFSM{State: StateSpawned}
	fsm.OnChildStop(syscall.SIGTSTP)
	assert.Equal(t, StateStopped, fsm.State)
	assert.Equal(t, syscall.SIGTSTP, fsm.StopSignal)
}

func TestMonitorFSMSigContFgReturnsToSpawnedAndRequestsForeground(t *testing.T) {
	fsm := &MonitorFSM{State: StateStopped, StopSignal: syscall.SIGTSTP}
	sig, setFg, ok := fsm.OnBackchannelSignal(SigCONTFg)
	assert.True(t, ok)
	assert.True(t, setFg)
	assert.Equal(t, syscall.SIGCONT, sig)
	assert.Equal(t, StateSpawned, fsm.State)
}

func TestMonitorFSMSigContBgReturnsToSpawnedWithoutForeground(t *testing.T) {
	fsm := &MonitorFSM{State: StateStopped, StopSignal: syscall.SIGTSTP}
	sig, setFg, ok := fsm.OnBackchannelSignal(SigCONTBg)
	assert.True(t, ok)
	assert.False(t, setFg)
	assert.Equal(t, syscall.SIGCONT, sig)
	assert.Equal(t, StateSpawned, fsm.State)
}

func TestMonitorFSMPlainSignalForwardsWithoutStateChange(t *testing.T) {
	fsm := &MonitorFSM{State: StateSpawned}
	sig, setFg, ok := fsm.OnBackchannelSignal(int(syscall.SIGTERM))
	assert.True(t, ok)
	assert.False(t, setFg)
	assert.Equal(t, syscall.SIGTERM, sig)
	assert.Equal(t, StateSpawned, fsm.State)
}
