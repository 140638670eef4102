package settlement

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/Aureus-Network/settlement_layer/pkg/logger"
)

// RunLock serializes settlement runs. Acquire must not block: a second
// concurrent invocation is rejected immediately rather than queued.
type RunLock interface {
	Acquire(ctx context.Context) (release func(), acquired bool, err error)
}

// LocalRunLock is the in-process RunLock used when the settlement layer runs
// as a single instance.
type LocalRunLock struct {
	slot chan struct{}
}

// NewLocalRunLock creates an unheld local run lock.
func NewLocalRunLock() *LocalRunLock {
	l := &LocalRunLock{slot: make(chan struct{}, 1)}
	l.slot <- struct{}{}
	return l
}

// Acquire takes the lock if it is free and reports failure otherwise.
func (l *LocalRunLock) Acquire(_ context.Context) (func(), bool, error) {
	select {
	case <-l.slot:
		return func() { l.slot <- struct{}{} }, true, nil
	default:
		return nil, false, nil
	}
}

// releaseScript deletes the lock key only when it still holds our token, so
// an expired lock re-acquired by another process is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisRunLock is a RunLock backed by a redis SET NX key with a TTL, for
// deployments running more than one settlement process.
type RedisRunLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	log    *logger.Logger
}

// NewRedisRunLock creates a redis-backed run lock. The TTL bounds how long a
// crashed holder can block settlement and should exceed the longest run.
func NewRedisRunLock(client *redis.Client, key string, ttl time.Duration, log *logger.Logger) *RedisRunLock {
	if key == "" {
		key = "settlement:run-lock"
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if log == nil {
		log = logger.NewDefault("run-lock")
	}
	return &RedisRunLock{client: client, key: key, ttl: ttl, log: log}
}

// Acquire attempts a single SET NX; it never waits for the lock.
func (l *RedisRunLock) Acquire(ctx context.Context) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// Release must survive a cancelled run context.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{l.key}, token).Err(); err != nil {
			l.log.WithError(err).Warn("release run lock failed; key will expire by TTL")
		}
	}
	return release, true, nil
}
