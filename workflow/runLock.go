package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
)

var ErrRunInProgress = errors.New("a reconciliation run is already in progress for this account")

// RunLease is a held per-account lock.
type RunLease interface {
	Refresh(ctx context.Context) error
	Release(ctx context.Context) error
}

// RunLocker grants at most one lease per processor account. Acquire fails
// fast with ErrRunInProgress instead of waiting.
type RunLocker interface {
	Acquire(ctx context.Context, accountId uint, ttl time.Duration) (RunLease, error)
}

func runLockKey(accountId uint) string {
	return fmt.Sprintf("reconciliation-run:%d", accountId)
}

// RedisRunLocker shares the lock across instances.
type RedisRunLocker struct {
	Client *redislock.Client
}

func (l RedisRunLocker) Acquire(ctx context.Context, accountId uint, ttl time.Duration) (RunLease, error) {
	if l.Client == nil {
		return nil, errors.New("redis lock not initialized")
	}
	lock, err := l.Client.Obtain(ctx, runLockKey(accountId), ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrRunInProgress
	}
	if err != nil {
		return nil, err
	}
	return &redisRunLease{lock: lock, ttl: ttl}, nil
}

type redisRunLease struct {
	lock *redislock.Lock
	ttl  time.Duration
}

func (l *redisRunLease) Refresh(ctx context.Context) error {
	return l.lock.Refresh(ctx, l.ttl, nil)
}

func (l *redisRunLease) Release(ctx context.Context) error {
	err := l.lock.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		return nil
	}
	return err
}

// LocalRunLocker is the single-instance fallback when Redis is not configured.
type LocalRunLocker struct {
	mu   sync.Mutex
	held map[uint]struct{}
}

func NewLocalRunLocker() *LocalRunLocker {
	return &LocalRunLocker{held: map[uint]struct{}{}}
}

func (l *LocalRunLocker) Acquire(_ context.Context, accountId uint, _ time.Duration) (RunLease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[accountId]; ok {
		return nil, ErrRunInProgress
	}
	l.held[accountId] = struct{}{}
	return &localRunLease{owner: l, accountId: accountId}, nil
}

type localRunLease struct {
	owner     *LocalRunLocker
	accountId uint
	once      sync.Once
}

func (l *localRunLease) Refresh(context.Context) error { return nil }

func (l *localRunLease) Release(context.Context) error {
	l.once.Do(func() {
		l.owner.mu.Lock()
		delete(l.owner.held, l.accountId)
		l.owner.mu.Unlock()
	})
	return nil
}

// NewRunLocker picks Redis when a lock client is available.
func NewRunLocker(client *redislock.Client) RunLocker {
	if client != nil {
		return RedisRunLocker{Client: client}
	}
	return NewLocalRunLocker()
}
