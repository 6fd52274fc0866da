// Package locker implements settlement.Locker in-process and on redis.
package locker

import (
	"context"
	"sync"
	"time"

	"github.com/warp/teller-settlement/settlement"
)

// Local is a keyed mutex for a single process. TTLs are ignored: a
// holder that never releases blocks its key until the process exits.
type Local struct {
	mu   sync.Mutex
	keys map[string]chan struct{}
}

var _ settlement.Locker = (*Local)(nil)

func NewLocal() *Local {
	return &Local{keys: make(map[string]chan struct{})}
}

func (l *Local) Lock(ctx context.Context, key string, _ time.Duration) (settlement.Unlocker, error) {
	for {
		l.mu.Lock()
		held, busy := l.keys[key]
		if !busy {
			return l.acquire(key), nil
		}
		l.mu.Unlock()

		select {
		case <-held:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (l *Local) TryLock(_ context.Context, key string, _ time.Duration) (settlement.Unlocker, error) {
	l.mu.Lock()
	if _, busy := l.keys[key]; busy {
		l.mu.Unlock()
		return nil, settlement.ErrLockHeld
	}
	return l.acquire(key), nil
}

// acquire is called with l.mu held and releases it.
func (l *Local) acquire(key string) settlement.Unlocker {
	ch := make(chan struct{})
	l.keys[key] = ch
	l.mu.Unlock()
	return &localLock{owner: l, key: key, ch: ch}
}

type localLock struct {
	owner *Local
	key   string
	ch    chan struct{}
	once  sync.Once
}

func (h *localLock) Release(context.Context) error {
	h.once.Do(func() {
		h.owner.mu.Lock()
		defer h.owner.mu.Unlock()
		if h.owner.keys[h.key] == h.ch {
			delete(h.owner.keys, h.key)
		}
		close(h.ch)
	})
	return nil
}
