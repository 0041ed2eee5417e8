package redis

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/turtacn/subsim/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/subsim/pkg/errors"
)

var ErrClaimNotHeld = errors.New(errors.ErrCodeConflict, "claim not held by this owner")

// ClaimOption configures a Claimer.
type ClaimOption func(*claimConfig)

func WithClaimTTL(ttl time.Duration) ClaimOption {
	return func(c *claimConfig) { c.ttl = ttl }
}

func WithWatchdogInterval(interval time.Duration) ClaimOption {
	return func(c *claimConfig) { c.watchdogInterval = interval }
}

// WithCompletedTTL sets how long a completed claim keeps its name taken.
func WithCompletedTTL(ttl time.Duration) ClaimOption {
	return func(c *claimConfig) { c.completedTTL = ttl }
}

type claimConfig struct {
	ttl              time.Duration
	watchdogInterval time.Duration
	completedTTL     time.Duration
}

// Claimer hands out exclusive, expiring claims on run requests so a
// redelivered request is processed by only one worker at a time.
type Claimer struct {
	client *Client
	prefix string
	config claimConfig
	log    logging.Logger
}

func NewClaimer(client *Client, prefix string, log logging.Logger, opts ...ClaimOption) *Claimer {
	cfg := claimConfig{ttl: 2 * time.Minute, completedTTL: 24 * time.Hour}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.watchdogInterval == 0 {
		cfg.watchdogInterval = cfg.ttl / 3
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Claimer{client: client, prefix: prefix, config: cfg, log: log}
}

// Claim is a held claim.  Release or Complete must be called when work
// ends.
type Claim struct {
	claimer *Claimer
	key     string
	value   string

	once           sync.Once
	watchdogCancel context.CancelFunc
	watchdogDone   chan struct{}
}

var claimReleaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

var claimCompleteScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
		return 1
	else
		return 0
	end
`)

var claimExtendScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

func (c *Claimer) key(name string) string {
	return c.prefix + "claim:" + name
}

// TryClaim claims name.  It returns (nil, nil) when another owner holds it.
// A held claim is extended in the background until released.
func (c *Claimer) TryClaim(ctx context.Context, name string) (*Claim, error) {
	cl := &Claim{claimer: c, key: c.key(name), value: uuid.New().String()}
	ok, err := c.client.SetNX(ctx, cl.key, cl.value, c.config.ttl).Result()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCacheError, "failed to claim").WithDetail(name)
	}
	if !ok {
		return nil, nil
	}
	cl.startWatchdog()
	return cl, nil
}

// Extend resets the claim TTL.  It reports false when the claim was lost.
func (cl *Claim) Extend(ctx context.Context) (bool, error) {
	res, err := claimExtendScript.Run(ctx, cl.claimer.client.GetUnderlyingClient(), []string{cl.key}, cl.value, cl.claimer.config.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Release gives the claim up.  Releasing twice is a no-op.
func (cl *Claim) Release(ctx context.Context) error {
	var err error
	cl.once.Do(func() {
		cl.stopWatchdog()
		var res int64
		res, err = claimReleaseScript.Run(ctx, cl.claimer.client.GetUnderlyingClient(), []string{cl.key}, cl.value).Int64()
		if err == nil && res == 0 {
			err = ErrClaimNotHeld.WithDetail(cl.key)
		}
	})
	return err
}

// Complete keeps the name taken for the completed TTL, so redeliveries of
// finished work are refused by TryClaim.  Release and Complete are mutually
// exclusive; whichever runs first wins and the other is a no-op.
func (cl *Claim) Complete(ctx context.Context) error {
	var err error
	cl.once.Do(func() {
		cl.stopWatchdog()
		var res int64
		res, err = claimCompleteScript.Run(ctx, cl.claimer.client.GetUnderlyingClient(), []string{cl.key},
			cl.value, "done:"+cl.value, cl.claimer.config.completedTTL.Milliseconds()).Int64()
		if err == nil && res == 0 {
			err = ErrClaimNotHeld.WithDetail(cl.key)
		}
	})
	return err
}

func (cl *Claim) startWatchdog() {
	ctx, cancel := context.WithCancel(context.Background())
	cl.watchdogCancel = cancel
	cl.watchdogDone = make(chan struct{})
	go runWatchdog(ctx, cl.Extend, cl.claimer.config.watchdogInterval, cl.claimer.log, cl.watchdogDone)
}

func (cl *Claim) stopWatchdog() {
	if cl.watchdogCancel != nil {
		cl.watchdogCancel()
		<-cl.watchdogDone
		cl.watchdogCancel = nil
	}
}

func runWatchdog(ctx context.Context, extendFn func(context.Context) (bool, error), interval time.Duration, log logging.Logger, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := extendFn(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Error("Watchdog failed to extend claim", logging.Err(err))
				}
				return
			}
			if !ok {
				log.Warn("Watchdog lost claim")
				return
			}
		}
	}
}
