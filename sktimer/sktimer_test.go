package sktimer_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceetaro/suitkaise/sktimer"
)

func TestTimer_StartStop(t *testing.T) {
	tm := sktimer.New()
	tm.Start()
	time.Sleep(time.Millisecond)
	d := tm.Stop()
	assert.Greater(t, d, time.Duration(0))
	assert.Len(t, tm.Samples(), 1)
	assert.False(t, tm.Running())
}

func TestTimer_Lap_IsStopThenStart(t *testing.T) {
	tm := sktimer.New()
	tm.Start()
	time.Sleep(time.Millisecond)
	first := tm.Lap()
	assert.True(t, tm.Running(), "Lap must leave the timer running (stop then start)")
	require.Len(t, tm.Samples(), 1)
	assert.Equal(t, first, tm.Samples()[0])

	time.Sleep(time.Millisecond)
	second := tm.Stop()
	samples := tm.Samples()
	require.Len(t, samples, 2)
	assert.Equal(t, second, samples[1])
}

func TestTimer_Discard_DropsInFlightSample(t *testing.T) {
	tm := sktimer.New()
	tm.Start()
	time.Sleep(time.Millisecond)
	tm.Discard()
	assert.Empty(t, tm.Samples())
	assert.False(t, tm.Running())
}

func TestTimer_Scope_CommitsOnSuccess(t *testing.T) {
	tm := sktimer.New()
	err := tm.Scope(func() error {
		time.Sleep(time.Millisecond)
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, tm.Samples(), 1)
}

func TestTimer_Scope_DiscardsOnFailure(t *testing.T) {
	tm := sktimer.New()
	sentinel := errors.New("boom")
	err := tm.Scope(func() error {
		time.Sleep(time.Millisecond)
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Empty(t, tm.Samples(), "a failed phase must not contribute a partial sample")
}

func TestTimer_Total(t *testing.T) {
	tm := sktimer.New()
	tm.Start()
	tm.Stop()
	tm.Start()
	tm.Stop()
	total := tm.Total()
	samples := tm.Samples()
	require.Len(t, samples, 2)
	assert.Equal(t, samples[0]+samples[1], total)
}

func TestTimer_StopWithoutStart_IsNoop(t *testing.T) {
	tm := sktimer.New()
	d := tm.Stop()
	assert.Equal(t, time.Duration(0), d)
	assert.Empty(t, tm.Samples())
}
