package utils

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drpcorg/flatstate/flatstate_errors"
)

func TestFanOutRunsAll(t *testing.T) {
	var ran atomic.Int64
	tasks := make([]func() error, 100)
	for i := range tasks {
		tasks[i] = func() error {
			ran.Add(1)
			return nil
		}
	}
	require.NoError(t, FanOut(tasks...))
	assert.Equal(t, int64(100), ran.Load())
}

func TestFanOutPropagatesFirstFailure(t *testing.T) {
	boom := errors.New("boom")
	err := FanOut(
		func() error { return nil },
		func() error { return boom },
		func() error { return nil },
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, flatstate_errors.ErrWorkerFailure)
	assert.Contains(t, err.Error(), "boom")
}

func TestFanOutEmpty(t *testing.T) {
	assert.NoError(t, FanOut())
}
