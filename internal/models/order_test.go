package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckTransitionFollowsLifecycle(t *testing.T) {
	path := []string{StatusPending, StatusConfirmed, StatusProcessing, StatusShipped, StatusDelivered}
	for i := 0; i < len(path)-1; i++ {
		require.NoError(t, CheckTransition(path[i], path[i+1]), "%s -> %s", path[i], path[i+1])
	}
}

func TestCheckTransitionRejectsUnknownStatus(t *testing.T) {
	err := CheckTransition(StatusPending, "lost")
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestCheckTransitionRejectsSkips(t *testing.T) {
	err := CheckTransition(StatusPending, StatusShipped)
	var transitionErr ErrInvalidTransition
	require.True(t, errors.As(err, &transitionErr))
	assert.Equal(t, StatusPending, transitionErr.From)
	assert.Equal(t, StatusShipped, transitionErr.To)
}

func TestTerminalStatusesHaveNoExit(t *testing.T) {
	for _, terminal := range []string{StatusCancelled, StatusRefunded} {
		for status := range orderTransitions {
			assert.Error(t, CheckTransition(terminal, status), "%s -> %s", terminal, status)
		}
	}
}

func TestIsCancellable(t *testing.T) {
	assert.True(t, IsCancellable(StatusPending))
	assert.True(t, IsCancellable(StatusProcessing))
	assert.False(t, IsCancellable(StatusShipped))
	assert.False(t, IsCancellable(StatusRefunded))
}
