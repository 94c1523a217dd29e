package kv

import (
	"context"
	"sync"
	"time"

	"github.com/workmesh/ndp/internal/ids"
	"github.com/workmesh/ndp/internal/signals"
)

// MemoryStore is an in-memory Store for tests and single-replica local runs.
// It honors TTLs lazily: expired entries are dropped on access.
type MemoryStore struct {
	mu      sync.Mutex
	strings map[string]string
	lists   map[string][]string
	hashes  map[string]map[string]string
	sets    map[string]map[string]struct{}
	expiry  map[string]time.Time
	locks   map[string]string

	stop *signals.Stopping
	now  func() time.Time
}

// NewMemoryStore creates an empty in-memory store. The stopping signal
// unblocks blocking operations; it may be nil.
func NewMemoryStore(stop *signals.Stopping) *MemoryStore {
	return &MemoryStore{
		strings: make(map[string]string),
		lists:   make(map[string][]string),
		hashes:  make(map[string]map[string]string),
		sets:    make(map[string]map[string]struct{}),
		expiry:  make(map[string]time.Time),
		locks:   make(map[string]string),
		stop:    stop,
		now:     time.Now,
	}
}

// expireLocked drops key if its TTL elapsed. Callers hold mu.
func (m *MemoryStore) expireLocked(key string) {
	at, ok := m.expiry[key]
	if !ok || m.now().Before(at) {
		return
	}
	delete(m.strings, key)
	delete(m.lists, key)
	delete(m.hashes, key)
	delete(m.sets, key)
	delete(m.locks, key)
	delete(m.expiry, key)
}

func (m *MemoryStore) setTTLLocked(key string, ttl time.Duration) {
	if ttl > 0 {
		m.expiry[key] = m.now().Add(ttl)
	} else {
		delete(m.expiry, key)
	}
}

func (m *MemoryStore) existsLocked(key string) bool {
	if _, ok := m.strings[key]; ok {
		return true
	}
	if l, ok := m.lists[key]; ok && len(l) > 0 {
		return true
	}
	if h, ok := m.hashes[key]; ok && len(h) > 0 {
		return true
	}
	if s, ok := m.sets[key]; ok && len(s) > 0 {
		return true
	}
	if _, ok := m.locks[key]; ok {
		return true
	}
	return false
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)
	v, ok := m.strings[key]
	return v, ok, nil
}

func (m *MemoryStore) SetOne(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strings[key] = value
	m.setTTLLocked(key, ttl)
	return nil
}

func (m *MemoryStore) MGet(ctx context.Context, keys ...string) ([]*string, error) {
	out := make([]*string, len(keys))
	for i, key := range keys {
		v, ok, err := m.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			val := v
			out[i] = &val
		}
	}
	return out, nil
}

func (m *MemoryStore) Delete(_ context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, key := range keys {
		m.expireLocked(key)
		if m.existsLocked(key) {
			n++
		}
		delete(m.strings, key)
		delete(m.lists, key)
		delete(m.hashes, key)
		delete(m.sets, key)
		delete(m.locks, key)
		delete(m.expiry, key)
	}
	return n, nil
}

func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)
	return m.existsLocked(key), nil
}

func (m *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)
	if !m.existsLocked(key) {
		return false, nil
	}
	m.setTTLLocked(key, ttl)
	return true, nil
}

func (m *MemoryStore) LPush(_ context.Context, key string, values ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)
	list := m.lists[key]
	for _, v := range values {
		list = append([]string{v}, list...)
	}
	m.lists[key] = list
	return int64(len(list)), nil
}

func (m *MemoryStore) RPush(_ context.Context, key string, values ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)
	m.lists[key] = append(m.lists[key], values...)
	return int64(len(m.lists[key])), nil
}

func (m *MemoryStore) LPop(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.popLocked(key, Left)
}

func (m *MemoryStore) RPop(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.popLocked(key, Right)
}

func (m *MemoryStore) popLocked(key string, side Side) (string, bool, error) {
	m.expireLocked(key)
	list := m.lists[key]
	if len(list) == 0 {
		return "", false, nil
	}
	var v string
	if side == Left {
		v, list = list[0], list[1:]
	} else {
		v, list = list[len(list)-1], list[:len(list)-1]
	}
	if len(list) == 0 {
		delete(m.lists, key)
	} else {
		m.lists[key] = list
	}
	return v, true, nil
}

func (m *MemoryStore) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)
	list := m.lists[key]
	n := int64(len(list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || n == 0 {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, list[start:stop+1])
	return out, nil
}

func (m *MemoryStore) LRem(_ context.Context, key string, count int64, value string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)
	list := m.lists[key]
	var removed int64
	limit := count
	if limit < 0 {
		limit = -limit
	}
	keep := list[:0:0]
	if count >= 0 {
		for _, v := range list {
			if v == value && (count == 0 || removed < limit) {
				removed++
				continue
			}
			keep = append(keep, v)
		}
	} else {
		for i := len(list) - 1; i >= 0; i-- {
			if list[i] == value && removed < limit {
				removed++
				continue
			}
			keep = append([]string{list[i]}, keep...)
		}
	}
	if len(keep) == 0 {
		delete(m.lists, key)
	} else {
		m.lists[key] = keep
	}
	return removed, nil
}

func (m *MemoryStore) LMove(_ context.Context, src, dst string, from, to Side) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok, err := m.popLocked(src, from)
	if err != nil || !ok {
		return "", false, err
	}
	if to == Left {
		m.lists[dst] = append([]string{v}, m.lists[dst]...)
	} else {
		m.lists[dst] = append(m.lists[dst], v)
	}
	return v, true, nil
}

func (m *MemoryStore) BLPop(ctx context.Context, key string, timeoutSecs int) (string, bool, error) {
	return m.blockingPoll(ctx, timeoutSecs, func() (string, bool, error) {
		return m.LPop(ctx, key)
	})
}

func (m *MemoryStore) BRPop(ctx context.Context, key string, timeoutSecs int) (string, bool, error) {
	return m.blockingPoll(ctx, timeoutSecs, func() (string, bool, error) {
		return m.RPop(ctx, key)
	})
}

func (m *MemoryStore) BLMove(ctx context.Context, src, dst string, from, to Side, timeoutSecs int) (string, bool, error) {
	return m.blockingPoll(ctx, timeoutSecs, func() (string, bool, error) {
		return m.LMove(ctx, src, dst, from, to)
	})
}

// blockingPoll retries a non-blocking op until it yields a value, the
// timeout elapses, or the stopping signal is set. The in-memory poll period
// is short to keep tests fast.
func (m *MemoryStore) blockingPoll(ctx context.Context, timeoutSecs int, op func() (string, bool, error)) (string, bool, error) {
	deadline := m.now().Add(time.Duration(timeoutSecs) * time.Second)
	var stopCh <-chan struct{}
	if m.stop != nil {
		stopCh = m.stop.Chan()
	}
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		val, ok, err := op()
		if err != nil || ok {
			return val, ok, err
		}
		if !m.now().Before(deadline) {
			return "", false, nil
		}
		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-stopCh:
			return "", false, nil
		case <-ticker.C:
		}
	}
}

func (m *MemoryStore) HSet(_ context.Context, key string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)
	h := m.hashes[key]
	if h == nil {
		h = make(map[string]string, len(fields))
		m.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

func (m *MemoryStore) HGet(_ context.Context, key, field string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)
	v, ok := m.hashes[key][field]
	return v, ok, nil
}

func (m *MemoryStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)
	out := make(map[string]string, len(m.hashes[key]))
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) HDel(_ context.Context, key string, fields ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)
	h := m.hashes[key]
	var n int64
	for _, f := range fields {
		if _, ok := h[f]; ok {
			n++
			delete(h, f)
		}
	}
	if len(h) == 0 {
		delete(m.hashes, key)
	}
	return n, nil
}

func (m *MemoryStore) SAdd(_ context.Context, key string, members ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)
	s := m.sets[key]
	if s == nil {
		s = make(map[string]struct{}, len(members))
		m.sets[key] = s
	}
	var n int64
	for _, member := range members {
		if _, ok := s[member]; !ok {
			n++
			s[member] = struct{}{}
		}
	}
	return n, nil
}

func (m *MemoryStore) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)
	out := make([]string, 0, len(m.sets[key]))
	for member := range m.sets[key] {
		out = append(out, member)
	}
	return out, nil
}

func (m *MemoryStore) SRem(_ context.Context, key string, members ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)
	s := m.sets[key]
	var n int64
	for _, member := range members {
		if _, ok := s[member]; ok {
			n++
			delete(s, member)
		}
	}
	if len(s) == 0 {
		delete(m.sets, key)
	}
	return n, nil
}

func (m *MemoryStore) SMove(_ context.Context, src, dst, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(src)
	m.expireLocked(dst)
	s := m.sets[src]
	if _, ok := s[member]; !ok {
		return false, nil
	}
	delete(s, member)
	if len(s) == 0 {
		delete(m.sets, src)
	}
	d := m.sets[dst]
	if d == nil {
		d = make(map[string]struct{})
		m.sets[dst] = d
	}
	d[member] = struct{}{}
	return true, nil
}

func (m *MemoryStore) SPop(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)
	for member := range m.sets[key] {
		delete(m.sets[key], member)
		if len(m.sets[key]) == 0 {
			delete(m.sets, key)
		}
		return member, true, nil
	}
	return "", false, nil
}

type memoryLock struct {
	store   *MemoryStore
	key     string
	token   string
	ttlSecs int
}

func (m *MemoryStore) AcquireLock(_ context.Context, key string, ttlSecs int) (Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)
	if _, held := m.locks[key]; held {
		return nil, nil
	}
	token := ids.NewSecret()
	m.locks[key] = token
	m.setTTLLocked(key, time.Duration(ttlSecs)*time.Second)
	return &memoryLock{store: m, key: key, token: token, ttlSecs: ttlSecs}, nil
}

func (l *memoryLock) Refresh(_ context.Context) error {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	l.store.expireLocked(l.key)
	if l.store.locks[l.key] != l.token {
		return ErrLockLost
	}
	l.store.setTTLLocked(l.key, time.Duration(l.ttlSecs)*time.Second)
	return nil
}

func (l *memoryLock) Release(_ context.Context) error {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	if l.store.locks[l.key] == l.token {
		delete(l.store.locks, l.key)
		delete(l.store.expiry, l.key)
	}
	return nil
}
