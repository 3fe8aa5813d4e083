package pty

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBufferFillThenDrainRoundTrips(t *testing.T) {
	rb := NewRingBuffer()
	src := bytes.NewReader([]byte("hello world"))
	n, err := rb.Fill(src)
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.Equal(t, 11, rb.Len())

	var out bytes.Buffer
	n, err = rb.Drain(&out)
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.Equal(t, "hello world", out.String())
	assert.True(t, rb.Empty())
}

func TestRingBufferFullStopsFurtherFill(t *testing.T) {
	rb := NewRingBuffer()
	big := bytes.NewReader(make([]byte, ringCap+100))
	_, err := rb.Fill(big)
	require.NoError(t, err)
	assert.True(t, rb.Full())

	n, err := rb.Fill(big)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRingBufferWrapsAroundAfterDrain(t *testing.T) {
	rb := NewRingBuffer()

	_, err := rb.Fill(bytes.NewReader(make([]byte, ringCap-4)))
	require.NoError(t, err)

	var sink bytes.Buffer
	_, err = rb.Drain(&sink)
	require.NoError(t, err)
	assert.True(t, rb.Empty())

	src := bytes.NewReader([]byte("wraparound-bytes"))
	total := 0
	for total < len("wraparound-bytes") {
		n, err := rb.Fill(src)
		require.NoError(t, err)
		require.Greater(t, n, 0)
		total += n
	}
	assert.Equal(t, len("wraparound-bytes"), total)

	var out bytes.Buffer
	for !rb.Empty() {
		if _, err := rb.Drain(&out); err != nil {
			require.NoError(t, err)
		}
	}
	assert.Equal(t, "wraparound-bytes", out.String())
}

func TestRingBufferDrainOnEmptyIsNoop(t *testing.T) {
	rb := NewRingBuffer()
	n, err := rb.Drain(io.Discard)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
