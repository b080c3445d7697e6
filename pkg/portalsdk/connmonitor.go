package portalsdk

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Operation is a retryable unit of work queued while offline.
type Operation func(ctx context.Context) error

const (
	// maxRetryAttempts per queued operation before it is abandoned.
	maxRetryAttempts = 3

	// defaultRetryBackoff is multiplied by the attempt number between
	// retries of one operation.
	defaultRetryBackoff = time.Second
)

// ErrRetriesExhausted is handed to an operation's callback when every retry
// attempt failed on connectivity.
var ErrRetriesExhausted = errors.New("portalsdk: retries exhausted")

// ConnectionMonitor tracks connectivity and queues operations that failed
// for connectivity reasons. Application errors (a 4xx, a validation failure)
// are never queued; the caller deals with those immediately. On reconnect
// the queue drains in order, paced by a rate limiter so a burst of queued
// work does not stampede a server that just came back.
type ConnectionMonitor struct {
	Logger *slog.Logger

	// Backoff base between attempts of one operation. Defaults to 1s.
	Backoff time.Duration

	// Pace bounds the drain rate. Defaults to 2 ops/sec with a burst of 1.
	Pace *rate.Limiter

	// OnStateChange is called (on its own goroutine) after every
	// online/offline transition.
	OnStateChange func(online bool)

	mu     sync.Mutex
	online bool
	queue  []pendingOp
	inited bool
}

type pendingOp struct {
	op     Operation
	onDone func(error)
}

func (m *ConnectionMonitor) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

func (m *ConnectionMonitor) backoff() time.Duration {
	if m.Backoff > 0 {
		return m.Backoff
	}
	return defaultRetryBackoff
}

func (m *ConnectionMonitor) pace() *rate.Limiter {
	if m.Pace != nil {
		return m.Pace
	}
	return rate.NewLimiter(rate.Every(500*time.Millisecond), 1)
}

// Online reports the current connectivity state. A monitor starts online.
func (m *ConnectionMonitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.onlineLocked()
}

func (m *ConnectionMonitor) onlineLocked() bool {
	if !m.inited {
		m.online = true
		m.inited = true
	}
	return m.online
}

// SetOnline transitions the connectivity state. Going offline is just a
// flag; coming back online drains the retry queue in the background.
func (m *ConnectionMonitor) SetOnline(online bool) {
	m.mu.Lock()
	was := m.onlineLocked()
	m.online = online
	var toDrain []pendingOp
	if online && !was {
		toDrain = m.queue
		m.queue = nil
	}
	m.mu.Unlock()

	if online == was {
		return
	}

	m.logger().Info("connectivity changed", "online", online)
	if m.OnStateChange != nil {
		go m.OnStateChange(online)
	}
	if toDrain != nil {
		go m.drain(toDrain)
	}
}

// Enqueue queues an operation for retry on reconnect. onDone may be nil.
// If the monitor is already online the operation drains immediately.
func (m *ConnectionMonitor) Enqueue(op Operation, onDone func(error)) {
	m.mu.Lock()
	online := m.onlineLocked()
	if !online {
		m.queue = append(m.queue, pendingOp{op: op, onDone: onDone})
	}
	m.mu.Unlock()

	if online {
		go m.drain([]pendingOp{{op: op, onDone: onDone}})
	}
}

// QueueLen reports how many operations are waiting for reconnect.
func (m *ConnectionMonitor) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func (m *ConnectionMonitor) drain(ops []pendingOp) {
	ctx := context.Background()
	pace := m.pace()

	for _, p := range ops {
		if err := pace.Wait(ctx); err != nil {
			p.finish(err)
			continue
		}

		var err error
		for attempt := 1; attempt <= maxRetryAttempts; attempt++ {
			err = p.op(ctx)
			if err == nil || !IsConnectivityError(err) {
				break
			}
			if attempt < maxRetryAttempts {
				time.Sleep(time.Duration(attempt) * m.backoff())
			} else {
				err = errors.Join(ErrRetriesExhausted, err)
			}
		}

		if err != nil {
			m.logger().Warn("queued operation failed", "error", err)
		}
		p.finish(err)
	}
}

func (p pendingOp) finish(err error) {
	if p.onDone != nil {
		p.onDone(err)
	}
}

// IsConnectivityError separates transport failures, which are worth
// retrying, from application errors, which never are.
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}

	return errors.Is(err, context.DeadlineExceeded)
}
