package stock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultLockTimeout bounds how long an operation waits for a busy product.
const DefaultLockTimeout = 2 * time.Second

// KeyedLocker serializes work per product id. Each product gets its own
// weight-1 semaphore, so operations on different products never wait on each
// other. Multi-product callers lock in ascending id order.
type KeyedLocker struct {
	timeout time.Duration

	mu   sync.Mutex
	sems map[ProductID]*keyedSem
}

// keyedSem is dropped from the registry when its last user lets go, so ids
// that never match a product do not accumulate.
type keyedSem struct {
	sem  *semaphore.Weighted
	refs int
}

func NewKeyedLocker(timeout time.Duration) *KeyedLocker {
	return &KeyedLocker{
		timeout: timeout,
		sems:    make(map[ProductID]*keyedSem),
	}
}

// ref returns the semaphore for id and counts the caller as a user until the
// matching unref.
func (k *KeyedLocker) ref(id ProductID) *semaphore.Weighted {
	k.mu.Lock()
	defer k.mu.Unlock()

	s, ok := k.sems[id]
	if !ok {
		s = &keyedSem{sem: semaphore.NewWeighted(1)}
		k.sems[id] = s
	}
	s.refs++
	return s.sem
}

func (k *KeyedLocker) unref(id ProductID) {
	k.mu.Lock()
	defer k.mu.Unlock()

	s, ok := k.sems[id]
	if !ok {
		return
	}
	if s.refs--; s.refs <= 0 {
		delete(k.sems, id)
	}
}

// Size reports how many ids are currently locked or awaited.
func (k *KeyedLocker) Size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.sems)
}

// Lock acquires every id (duplicates collapse) in ascending order and returns
// the release func. If any id cannot be acquired within the timeout, the ones
// already held are released and a TransientError is returned.
func (k *KeyedLocker) Lock(ctx context.Context, ids ...ProductID) (func(), error) {
	keys := sortedUnique(ids)

	acquireCtx := ctx
	if k.timeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, k.timeout)
		defer cancel()
	}

	type heldKey struct {
		id  ProductID
		sem *semaphore.Weighted
	}
	held := make([]heldKey, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].sem.Release(1)
			k.unref(held[i].id)
		}
		held = held[:0]
	}

	for _, id := range keys {
		s := k.ref(id)
		if err := s.Acquire(acquireCtx, 1); err != nil {
			k.unref(id)
			release()
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil, ctx.Err()
			}
			return nil, &TransientError{
				Op:    "lock",
				Cause: fmt.Errorf("product %s is busy: %w", id, err),
			}
		}
		held = append(held, heldKey{id: id, sem: s})
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func sortedUnique(ids []ProductID) []ProductID {
	seen := make(map[ProductID]struct{}, len(ids))
	keys := make([]ProductID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		keys = append(keys, id)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
