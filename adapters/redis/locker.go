package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

var ErrLockTimeout = errors.New("timed out waiting for lock")

type lockerOptions struct {
	expiry        time.Duration
	renewInterval time.Duration
	retryDelay    time.Duration
}

type LockerOption func(*lockerOptions)

// WithLockExpiry 設置鎖在 redis 中的存活時間，持有期間會持續續期
func WithLockExpiry(d time.Duration) LockerOption {
	return func(o *lockerOptions) {
		o.expiry = d
	}
}

// WithLockRenewInterval 設置續期間隔，預設為存活時間的 1/3
func WithLockRenewInterval(d time.Duration) LockerOption {
	return func(o *lockerOptions) {
		o.renewInterval = d
	}
}

// WithLockRetryDelay 設置鎖被佔用時重試的間隔
func WithLockRetryDelay(d time.Duration) LockerOption {
	return func(o *lockerOptions) {
		o.retryDelay = d
	}
}

// Locker 以 redsync 實作跨實例的互斥鎖，用於序列化同一株植物的上傳
type Locker struct {
	rs      *redsync.Redsync
	prefix  string
	timeout time.Duration
	options lockerOptions
}

// NewLocker 建立 Locker，timeout 只限制等待取得鎖的時間，0 代表一直等到 ctx 結束
func NewLocker(client *redis.Client, prefix string, timeout time.Duration, opts ...LockerOption) (*Locker, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	options := lockerOptions{
		expiry:     8 * time.Second,
		retryDelay: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.expiry <= 0 {
		options.expiry = 8 * time.Second
	}
	if options.renewInterval <= 0 {
		options.renewInterval = options.expiry / 3
	}
	return &Locker{
		rs:      redsync.New(goredis.NewPool(client)),
		prefix:  prefix,
		timeout: timeout,
		options: options,
	}, nil
}

// Acquire 取得 key 的鎖，回傳持有期間有效的 context 以及釋放函數
// 續期失敗 (鎖遺失) 時回傳的 context 會被取消
func (l *Locker) Acquire(ctx context.Context, key string) (context.Context, func() error, error) {
	const op = "Locker.Acquire"
	mutex := l.rs.NewMutex(
		l.prefix+key,
		redsync.WithExpiry(l.options.expiry),
		redsync.WithTries(1),
	)

	waitCtx, cancelWait := ctx, context.CancelFunc(func() {})
	if l.timeout > 0 {
		waitCtx, cancelWait = context.WithTimeout(ctx, l.timeout)
	}
	defer cancelWait()

	if err := l.lock(waitCtx, mutex); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, fmt.Errorf("[%s] Fail to lock, key=%s, err=%w", op, key, ctxErr)
		}
		if waitCtx.Err() != nil {
			return nil, nil, fmt.Errorf("[%s] %w, key=%s", op, ErrLockTimeout, key)
		}
		return nil, nil, fmt.Errorf("[%s] Fail to lock, key=%s, err=%w", op, key, err)
	}

	h := &lease{mutex: mutex}
	lockCtx := h.start(ctx, l.options.renewInterval)
	release := func() error {
		if err := h.release(); err != nil {
			return fmt.Errorf("[%s] Fail to unlock, key=%s, err=%w", op, key, err)
		}
		return nil
	}
	return lockCtx, release, nil
}

// lock 重試到取得鎖為止，redis 通訊錯誤直接返回
func (l *Locker) lock(ctx context.Context, mutex *redsync.Mutex) error {
	for {
		err := mutex.LockContext(ctx)
		if err == nil {
			return nil
		}
		var redisErr *redsync.RedisError
		if errors.As(err, &redisErr) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.options.retryDelay):
		}
	}
}

// lease 持有中的鎖，背景持續續期
type lease struct {
	mutex  *redsync.Mutex
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func (h *lease) start(ctx context.Context, interval time.Duration) context.Context {
	lockCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-lockCtx.Done():
				return
			case <-ticker.C:
				ok, err := h.mutex.ExtendContext(lockCtx)
				if err != nil || !ok {
					// 鎖已經遺失，通知持有者
					cancel()
					return
				}
			}
		}
	}()
	return lockCtx
}

// release 停止續期並釋放鎖，重複呼叫只會釋放一次
func (h *lease) release() error {
	var err error
	h.once.Do(func() {
		h.cancel()
		h.wg.Wait()
		var ok bool
		ok, err = h.mutex.Unlock()
		if err == nil && !ok {
			err = redsync.ErrLockAlreadyExpired
		}
	})
	return err
}
