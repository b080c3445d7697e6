package portalsdk

import (
	"errors"
	"sync"
)

// ErrQuotaExceeded is returned by Storage.Set when the write would push the
// store past its capacity.
var ErrQuotaExceeded = errors.New("portalsdk: storage quota exceeded")

// Event describes one storage mutation, delivered to every subscriber
// including contexts other than the writer. This is the presence channel
// sibling contexts coordinate over.
type Event struct {
	Key     string
	Value   string
	Deleted bool
}

// Storage is the persistence surface the SDK runs on. Implementations must
// be safe for concurrent use. MemoryStorage is the in-process default;
// embedders back it with whatever their platform offers.
type Storage interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string)
	Keys() []string

	// Subscribe registers for mutation events. The returned cancel func must
	// be called to release the subscription. Slow subscribers lose events
	// rather than block writers.
	Subscribe() (<-chan Event, func())
}

// MemoryStorage is a quota-bounded in-memory Storage with pub-sub fanout.
// Several SessionStores sharing one MemoryStorage behave like several
// contexts sharing one storage area.
type MemoryStorage struct {
	mu    sync.RWMutex
	data  map[string]string
	used  int
	quota int

	subMu sync.Mutex
	subs  map[int]chan Event
	nextID int
}

// NewMemoryStorage returns a storage holding up to quota bytes of keys and
// values. quota <= 0 means unbounded.
func NewMemoryStorage(quota int) *MemoryStorage {
	return &MemoryStorage{
		data:  make(map[string]string),
		quota: quota,
		subs:  make(map[int]chan Event),
	}
}

func (m *MemoryStorage) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *MemoryStorage) Set(key, value string) error {
	m.mu.Lock()

	next := m.used + len(key) + len(value)
	if prev, ok := m.data[key]; ok {
		next -= len(key) + len(prev)
	}
	if m.quota > 0 && next > m.quota {
		m.mu.Unlock()
		return ErrQuotaExceeded
	}

	m.data[key] = value
	m.used = next
	m.mu.Unlock()

	m.publish(Event{Key: key, Value: value})
	return nil
}

func (m *MemoryStorage) Delete(key string) {
	m.mu.Lock()
	v, ok := m.data[key]
	if ok {
		delete(m.data, key)
		m.used -= len(key) + len(v)
	}
	m.mu.Unlock()

	if ok {
		m.publish(Event{Key: key, Deleted: true})
	}
}

func (m *MemoryStorage) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys
}

func (m *MemoryStorage) Subscribe() (<-chan Event, func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	id := m.nextID
	m.nextID++

	ch := make(chan Event, 64)
	m.subs[id] = ch

	cancel := func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if _, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

func (m *MemoryStorage) publish(ev Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is not keeping up; dropping beats blocking the
			// writer.
		}
	}
}
