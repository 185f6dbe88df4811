package lease

import (
	"context"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/mpataki/pipestatus/internal/config"
)

// deletes the key only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extends the key only while it still holds our token
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var errHeld = errors.New("lease held elsewhere")

// Redis holds leases as expiring redis keys, shared by every process using
// the same server. A held lease is extended every third of its TTL until
// released, so it only expires when its holder dies.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
	wait   time.Duration
}

var _ Locker = (*Redis)(nil)

const defaultTTL = 30 * time.Second

func NewRedis(client redis.UniversalClient, cfg config.Lease) *Redis {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Redis{client: client, ttl: ttl, wait: cfg.Wait}
}

func (r *Redis) Acquire(ctx context.Context, key string) (Lease, error) {
	token := uuid.NewString()

	waitCtx, cancel := context.WithTimeout(ctx, r.wait)
	defer cancel()

	err := retry.Do(func() error {
		ok, err := r.client.SetNX(waitCtx, key, token, r.ttl).Result()
		if err != nil {
			return err
		}
		if !ok {
			return errHeld
		}
		return nil
	},
		retry.Attempts(0),
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(10*time.Millisecond),
		retry.MaxDelay(250*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.Context(waitCtx),
	)
	if err != nil {
		return nil, errors.Wrapf(ErrNotAcquired, "%s: %v", key, err)
	}
	refreshCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	l := &redisLease{client: r.client, key: key, token: token, ttl: r.ttl, stop: stop, done: make(chan struct{})}
	go l.refresh(refreshCtx)
	return l, nil
}

type redisLease struct {
	client redis.UniversalClient
	key    string
	token  string
	ttl    time.Duration

	once sync.Once
	stop context.CancelFunc
	done chan struct{}
}

func (l *redisLease) refresh(ctx context.Context) {
	defer close(l.done)

	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := refreshScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
			if err == nil && n == 0 {
				// lost to expiry; nothing left to extend
				return
			}
		}
	}
}

func (l *redisLease) Release(ctx context.Context) error {
	l.once.Do(func() {
		l.stop()
		<-l.done
	})
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return errors.Wrapf(err, "failed to release lease %s", l.key)
	}
	return nil
}
