package portalsdk

import (
	"context"
	"errors"
	"net"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const (
	testWait = 2 * time.Second
	testTick = 10 * time.Millisecond
)

// timeoutErr satisfies net.Error, standing in for a real transport failure.
type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func fastMonitor() *ConnectionMonitor {
	return &ConnectionMonitor{
		Backoff: time.Millisecond,
		Pace:    rate.NewLimiter(rate.Inf, 1),
	}
}

func TestMonitorStartsOnline(t *testing.T) {
	t.Parallel()

	var m ConnectionMonitor
	require.True(t, m.Online())
}

func TestMonitorQueuesWhileOffline(t *testing.T) {
	t.Parallel()

	m := fastMonitor()
	m.SetOnline(false)

	var ran atomic.Int32
	m.Enqueue(func(ctx context.Context) error {
		ran.Add(1)
		return nil
	}, nil)

	require.Equal(t, 1, m.QueueLen())
	require.Zero(t, ran.Load())

	m.SetOnline(true)
	require.Eventually(t, func() bool { return ran.Load() == 1 }, testWait, testTick)
	require.Zero(t, m.QueueLen())
}

func TestMonitorDrainsInOrder(t *testing.T) {
	t.Parallel()

	m := fastMonitor()
	m.SetOnline(false)

	var order []int
	done := make(chan struct{})
	for i := 1; i <= 3; i++ {
		i := i
		m.Enqueue(func(ctx context.Context) error {
			order = append(order, i)
			if i == 3 {
				close(done)
			}
			return nil
		}, nil)
	}

	m.SetOnline(true)
	select {
	case <-done:
	case <-time.After(testWait):
		t.Fatal("queue never drained")
	}
	require.Equal(t, []int{1, 2, 3}, order)
}

func TestMonitorRetriesConnectivityFailures(t *testing.T) {
	t.Parallel()

	m := fastMonitor()
	m.SetOnline(false)

	var attempts atomic.Int32
	result := make(chan error, 1)
	m.Enqueue(func(ctx context.Context) error {
		if attempts.Add(1) < 3 {
			return timeoutErr{}
		}
		return nil
	}, func(err error) { result <- err })

	m.SetOnline(true)
	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(testWait):
		t.Fatal("operation never completed")
	}
	require.EqualValues(t, 3, attempts.Load())
}

func TestMonitorGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	m := fastMonitor()
	m.SetOnline(false)

	var attempts atomic.Int32
	result := make(chan error, 1)
	m.Enqueue(func(ctx context.Context) error {
		attempts.Add(1)
		return timeoutErr{}
	}, func(err error) { result <- err })

	m.SetOnline(true)
	select {
	case err := <-result:
		require.ErrorIs(t, err, ErrRetriesExhausted)
	case <-time.After(testWait):
		t.Fatal("operation never settled")
	}
	require.EqualValues(t, maxRetryAttempts, attempts.Load())
}

func TestMonitorNeverRetriesApplicationErrors(t *testing.T) {
	t.Parallel()

	m := fastMonitor()
	m.SetOnline(false)

	appErr := &APIError{StatusCode: 400, Code: "invalid_request"}
	var attempts atomic.Int32
	result := make(chan error, 1)
	m.Enqueue(func(ctx context.Context) error {
		attempts.Add(1)
		return appErr
	}, func(err error) { result <- err })

	m.SetOnline(true)
	select {
	case err := <-result:
		require.Equal(t, appErr, err)
	case <-time.After(testWait):
		t.Fatal("operation never settled")
	}
	require.EqualValues(t, 1, attempts.Load())
}

func TestMonitorStateChangeCallback(t *testing.T) {
	t.Parallel()

	transitions := make(chan bool, 2)
	m := fastMonitor()
	m.OnStateChange = func(online bool) { transitions <- online }

	m.SetOnline(false)
	m.SetOnline(false) // no transition, no callback
	m.SetOnline(true)

	require.False(t, <-transitions)
	require.True(t, <-transitions)
}

func TestIsConnectivityError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"net error", timeoutErr{}, true},
		{"wrapped net error", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"url error", &url.Error{Op: "Get", URL: "http://x", Err: errors.New("refused")}, true},
		{"deadline", context.DeadlineExceeded, true},
		{"application error", &APIError{StatusCode: 422, Code: "invalid_request"}, false},
		{"plain error", errors.New("validation failed"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, IsConnectivityError(tc.err))
		})
	}
}
