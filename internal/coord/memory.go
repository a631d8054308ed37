package coord

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Memory is an in-process Store used when no coordination backend is
// configured (single-instance mode) and in tests. Expiry is lazy:
// entries past their deadline are treated as absent and dropped on
// access.
type Memory struct {
	mu     sync.RWMutex
	values map[string]memoryEntry
	zsets  map[string]map[string]float64
	subs   map[string]map[int]Handler
	nextID int
	closed bool

	now func() time.Time
}

type memoryEntry struct {
	value    string
	deadline time.Time // zero means no expiry
}

// NewMemory creates an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		values: make(map[string]memoryEntry),
		zsets:  make(map[string]map[string]float64),
		subs:   make(map[string]map[int]Handler),
		now:    time.Now,
	}
}

func (m *Memory) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = memoryEntry{value: value, deadline: m.deadline(ttl)}
	return nil
}

func (m *Memory) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.values[key]; ok && !m.expired(entry) {
		return false, nil
	}
	m.values[key] = memoryEntry{value: value, deadline: m.deadline(ttl)}
	return true, nil
}

func (m *Memory) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	if m.expired(entry) {
		delete(m.values, key)
		return "", ErrNotFound
	}
	return entry.value, nil
}

func (m *Memory) Del(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	delete(m.zsets, key)
	return nil
}

func (m *Memory) Incr(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var current int64
	if entry, ok := m.values[key]; ok && !m.expired(entry) {
		parsed, err := strconv.ParseInt(entry.value, 10, 64)
		if err == nil {
			current = parsed
		}
	}
	current += delta
	m.values[key] = memoryEntry{value: strconv.FormatInt(current, 10), deadline: m.deadline(ttl)}
	return current, nil
}

func (m *Memory) ZAdd(ctx context.Context, key string, score float64, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.zsets[key]
	if !ok {
		set = make(map[string]float64)
		m.zsets[key] = set
	}
	set[member] = score
	return nil
}

func (m *Memory) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	members := m.sortedMembers(key)
	// Reverse: highest score first.
	for i, j := 0, len(members)-1; i < j; i, j = i+1, j-1 {
		members[i], members[j] = members[j], members[i]
	}
	from, to, ok := resolveRange(start, stop, int64(len(members)))
	if !ok {
		return nil, nil
	}
	return members[from : to+1], nil
}

func (m *Memory) ZRemRangeByRank(ctx context.Context, key string, start, stop int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	members := m.sortedMembers(key)
	from, to, ok := resolveRange(start, stop, int64(len(members)))
	if !ok {
		return nil
	}
	set := m.zsets[key]
	for _, member := range members[from : to+1] {
		delete(set, member)
	}
	return nil
}

func (m *Memory) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.zsets[key]
	for member, score := range set {
		if score >= min && score <= max {
			delete(set, member)
		}
	}
	return nil
}

func (m *Memory) Publish(ctx context.Context, channel string, payload []byte) error {
	m.mu.RLock()
	handlers := make([]Handler, 0, len(m.subs[channel]))
	for _, handler := range m.subs[channel] {
		handlers = append(handlers, handler)
	}
	m.mu.RUnlock()

	// Deliver outside the lock; subscribers may publish in response.
	buf := make([]byte, len(payload))
	copy(buf, payload)
	for _, handler := range handlers {
		handler(buf)
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, channel string, handler Handler) (func(), error) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	if m.subs[channel] == nil {
		m.subs[channel] = make(map[int]Handler)
	}
	m.subs[channel][id] = handler
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		delete(m.subs[channel], id)
		m.mu.Unlock()
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return cancel, nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.subs = make(map[string]map[int]Handler)
	return nil
}

// sortedMembers returns live members ordered by ascending score, ties
// broken lexically for deterministic ranks.
func (m *Memory) sortedMembers(key string) []string {
	set := m.zsets[key]
	members := make([]string, 0, len(set))
	for member := range set {
		members = append(members, member)
	}
	sort.Slice(members, func(i, j int) bool {
		si, sj := set[members[i]], set[members[j]]
		if si == sj {
			return members[i] < members[j]
		}
		return si < sj
	})
	return members
}

// resolveRange maps Redis-style start/stop indexes (negatives count
// from the end) onto [0, size).
func resolveRange(start, stop, size int64) (int64, int64, bool) {
	if size == 0 {
		return 0, 0, false
	}
	if start < 0 {
		start += size
	}
	if stop < 0 {
		stop += size
	}
	if start < 0 {
		start = 0
	}
	if stop >= size {
		stop = size - 1
	}
	if start > stop || start >= size {
		return 0, 0, false
	}
	return start, stop, true
}

func (m *Memory) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func (m *Memory) expired(entry memoryEntry) bool {
	return !entry.deadline.IsZero() && m.now().After(entry.deadline)
}
