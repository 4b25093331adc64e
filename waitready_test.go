package buildlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitReady_AlreadyReady(t *testing.T) {
	ms := newMockSession(StateReady)
	require.NoError(t, WaitReady(context.Background(), ms))
}

func TestWaitReady_BecomesReady(t *testing.T) {
	ms := newMockSession(StateStarted)

	errCh := make(chan error, 1)
	go func() { errCh <- WaitReady(context.Background(), ms) }()

	time.Sleep(10 * time.Millisecond)
	ms.transition(StateReady)

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitReady did not return after ready transition")
	}
}

func TestWaitReady_ProcessFault(t *testing.T) {
	ms := newMockSession(StateStarted)
	ms.termErr = &ProcessFaultError{ExitCode: 3}

	errCh := make(chan error, 1)
	go func() { errCh <- WaitReady(context.Background(), ms) }()

	time.Sleep(10 * time.Millisecond)
	ms.transition(StateExitFailure)

	err := <-errCh
	require.ErrorIs(t, err, ErrNotReady)
	code, ok := ExitCode(err)
	assert.True(t, ok)
	assert.Equal(t, 3, code)
}

func TestWaitReady_DeadSession(t *testing.T) {
	ms := newMockSession(StateTerminating)
	err := WaitReady(context.Background(), ms)
	require.ErrorIs(t, err, ErrNotReady)
	assert.Contains(t, err.Error(), "terminating")
}

func TestWaitReady_ContextCancellation(t *testing.T) {
	ms := newMockSession(StateStarted)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WaitReady(ctx, ms)
	assert.True(t, errors.Is(err, context.Canceled), "err = %v", err)
}

func TestWaitReady_Unsubscribes(t *testing.T) {
	ms := newMockSession(StateReady)
	require.NoError(t, WaitReady(context.Background(), ms))

	ms.mu.Lock()
	defer ms.mu.Unlock()
	assert.Empty(t, ms.subs)
}
