package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// BlacklistSyncer refreshes an IPSet from a Redis set so operators can add or
// remove addresses without a restart. Scoring only ever reads the IPSet.
type BlacklistSyncer struct {
	client   *redis.Client
	key      string
	static   []string
	set      *IPSet
	interval time.Duration
	logger   *zap.Logger

	// OnSync is called after every attempt with the resulting set size
	OnSync func(size int, err error)

	mu       sync.Mutex
	lastSync time.Time
	lastErr  error
}

// NewBlacklistSyncer creates a syncer. The effective blacklist is always the
// union of static and the members of the Redis set at key.
func NewBlacklistSyncer(client *redis.Client, key string, static []string, set *IPSet, interval time.Duration, logger *zap.Logger) *BlacklistSyncer {
	return &BlacklistSyncer{
		client:   client,
		key:      key,
		static:   static,
		set:      set,
		interval: interval,
		logger:   logger,
	}
}

// Sync loads the Redis set once. On failure the current IPSet is left untouched.
func (s *BlacklistSyncer) Sync(ctx context.Context) error {
	members, err := s.client.SMembers(ctx, s.key).Result()
	if err != nil {
		s.logger.Error("blacklist sync failed",
			zap.String("key", s.key),
			zap.Error(err))
		err = fmt.Errorf("loading blacklist %s: %w", s.key, err)
		s.notify(err)
		return err
	}

	ips := make([]string, 0, len(s.static)+len(members))
	ips = append(ips, s.static...)
	ips = append(ips, members...)
	s.set.Replace(ips)

	s.logger.Debug("blacklist synced",
		zap.String("key", s.key),
		zap.Int("redis_members", len(members)),
		zap.Int("size", s.set.Len()))
	s.notify(nil)
	return nil
}

// Add stores ips in the Redis set and refreshes the local copy
func (s *BlacklistSyncer) Add(ctx context.Context, ips ...string) error {
	if len(ips) == 0 {
		return nil
	}

	members := make([]interface{}, len(ips))
	for i, ip := range ips {
		members[i] = ip
	}

	if err := s.client.SAdd(ctx, s.key, members...).Err(); err != nil {
		s.logger.Error("blacklist add failed", zap.Strings("ips", ips), zap.Error(err))
		return fmt.Errorf("adding to blacklist %s: %w", s.key, err)
	}

	return s.Sync(ctx)
}

// Run syncs immediately and then on every interval until ctx is done
func (s *BlacklistSyncer) Run(ctx context.Context) error {
	// a failed first sync keeps the static list in effect
	_ = s.Sync(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("blacklist syncer stopped")
			return nil
		case <-ticker.C:
			_ = s.Sync(ctx)
		}
	}
}

// Members returns the effective blacklist
func (s *BlacklistSyncer) Members() []string {
	return s.set.Members()
}

// LastSync returns the time of the last successful sync and the error of the
// most recent attempt, if it failed
func (s *BlacklistSyncer) LastSync() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync, s.lastErr
}

func (s *BlacklistSyncer) notify(err error) {
	s.mu.Lock()
	if err == nil {
		s.lastSync = time.Now()
	}
	s.lastErr = err
	s.mu.Unlock()

	if s.OnSync != nil {
		s.OnSync(s.set.Len(), err)
	}
}
