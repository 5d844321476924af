package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/temirov/repolens/internal/retry"
)

var errTransient = errors.New("transient")

func fastConfig(maxRetries int) retry.Config {
	return retry.Config{
		MaxRetries:        maxRetries,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        2 * time.Millisecond,
		BackoffMultiplier: 2,
	}
}

func TestDoSucceedsAfterTransientFailures(testingInstance *testing.T) {
	attempts := 0
	notifications := 0
	doError := retry.Do(context.Background(), fastConfig(3), func() error {
		attempts++
		if attempts < 3 {
			return errTransient
		}
		return nil
	}, func(error, time.Duration) { notifications++ })

	require.NoError(testingInstance, doError)
	require.Equal(testingInstance, 3, attempts)
	require.Equal(testingInstance, 2, notifications)
}

func TestDoStopsAfterMaxRetries(testingInstance *testing.T) {
	attempts := 0
	doError := retry.Do(context.Background(), fastConfig(2), func() error {
		attempts++
		return errTransient
	}, nil)

	require.ErrorIs(testingInstance, doError, errTransient)
	require.Equal(testingInstance, 3, attempts)
}

func TestDoReturnsPermanentErrorImmediately(testingInstance *testing.T) {
	attempts := 0
	doError := retry.Do(context.Background(), fastConfig(5), func() error {
		attempts++
		return retry.Permanent(errTransient)
	}, nil)

	require.ErrorIs(testingInstance, doError, errTransient)
	require.Equal(testingInstance, errTransient, doError)
	require.Equal(testingInstance, 1, attempts)
}

func TestDoHonorsCancelledContext(testingInstance *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	doError := retry.Do(ctx, fastConfig(5), func() error {
		return errTransient
	}, nil)
	require.Error(testingInstance, doError)
}

func TestApplyDefaults(testingInstance *testing.T) {
	effective := retry.Config{}.ApplyDefaults()
	require.Equal(testingInstance, retry.DefaultConfig(), effective)

	custom := retry.Config{MaxRetries: 7}.ApplyDefaults()
	require.Equal(testingInstance, 7, custom.MaxRetries)
	require.Equal(testingInstance, retry.DefaultConfig().InitialBackoff, custom.InitialBackoff)
}
