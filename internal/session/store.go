// Package session implements the per-conversation context store backed by
// Redis with a local LRU cache in front.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/switchboard-ai/switchboard/internal/circuitbreaker"
	"github.com/switchboard-ai/switchboard/internal/metrics"
)

// Store manages session contexts with a Redis backend.
type Store struct {
	client       *circuitbreaker.RedisWrapper
	logger       *zap.Logger
	ttl          time.Duration
	historyLimit int

	mu          sync.Mutex
	localCache  map[string]*Context
	cacheAccess map[string]time.Time
	maxCached   int
}

// Options configures a Store.
type Options struct {
	TTL          time.Duration
	MaxCached    int
	HistoryLimit int
}

func (o *Options) withDefaults() {
	if o.TTL <= 0 {
		o.TTL = 24 * time.Hour
	}
	if o.MaxCached <= 0 {
		o.MaxCached = 10000
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 100
	}
}

// NewStore dials Redis at addr and returns a session store. REDIS_PASSWORD is
// read from the environment.
func NewStore(addr string, opts Options, logger *zap.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     os.Getenv("REDIS_PASSWORD"),
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	wrapped := circuitbreaker.NewRedisWrapper(client, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wrapped.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newStore(wrapped, opts, logger), nil
}

// NewStoreFromClient wraps an existing Redis client; used by tests (miniredis)
// and callers that manage their own connection.
func NewStoreFromClient(client *redis.Client, opts Options, logger *zap.Logger) *Store {
	return newStore(circuitbreaker.NewRedisWrapper(client, logger), opts, logger)
}

func newStore(client *circuitbreaker.RedisWrapper, opts Options, logger *zap.Logger) *Store {
	opts.withDefaults()
	return &Store{
		client:       client,
		logger:       logger,
		ttl:          opts.TTL,
		historyLimit: opts.HistoryLimit,
		localCache:   make(map[string]*Context),
		cacheAccess:  make(map[string]time.Time),
		maxCached:    opts.MaxCached,
	}
}

// GetOrCreate returns the session for id, creating it on the first message.
func (s *Store) GetOrCreate(ctx context.Context, sessionID, userID string) (*Context, error) {
	sc, err := s.Get(ctx, sessionID)
	if err == nil {
		return sc, nil
	}
	if err != ErrSessionNotFound && err != ErrSessionExpired {
		return nil, err
	}

	now := time.Now()
	sc = &Context{
		ID:        sessionID,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.ttl),
		Values:    make(map[string]interface{}),
		History:   make([]Turn, 0),
	}
	if err := s.save(ctx, sc); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	s.mu.Lock()
	s.localCache[sessionID] = sc
	s.cacheAccess[sessionID] = now
	s.evictIfNeeded()
	metrics.SessionCacheSize.Set(float64(len(s.localCache)))
	s.mu.Unlock()

	s.logger.Info("Created new session",
		zap.String("session_id", sessionID),
		zap.String("user_id", userID),
	)
	metrics.SessionsCreated.Inc()

	return sc, nil
}

// Get retrieves a session by id.
func (s *Store) Get(ctx context.Context, sessionID string) (*Context, error) {
	s.mu.Lock()
	if sc, ok := s.localCache[sessionID]; ok {
		s.cacheAccess[sessionID] = time.Now()
		s.mu.Unlock()
		metrics.SessionCacheHits.Inc()
		if sc.IsExpired() {
			_ = s.Delete(ctx, sessionID)
			return nil, ErrSessionExpired
		}
		return sc, nil
	}
	s.mu.Unlock()
	metrics.SessionCacheMisses.Inc()

	data, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var sc Context
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if sc.IsExpired() {
		_ = s.Delete(ctx, sessionID)
		return nil, ErrSessionExpired
	}

	s.mu.Lock()
	s.localCache[sessionID] = &sc
	s.cacheAccess[sessionID] = time.Now()
	s.evictIfNeeded()
	metrics.SessionCacheSize.Set(float64(len(s.localCache)))
	s.mu.Unlock()

	return &sc, nil
}

// Update persists a modified session.
func (s *Store) Update(ctx context.Context, sc *Context) error {
	if sc == nil {
		return fmt.Errorf("session is nil")
	}
	sc.UpdatedAt = time.Now()

	if len(sc.History) > s.historyLimit {
		sc.History = sc.History[len(sc.History)-s.historyLimit:]
	}

	if err := s.save(ctx, sc); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	s.mu.Lock()
	s.localCache[sc.ID] = sc
	s.cacheAccess[sc.ID] = time.Now()
	s.mu.Unlock()

	return nil
}

// RecordTurn appends a turn to the session history and bumps the turn counter
// for user turns.
func (s *Store) RecordTurn(ctx context.Context, sessionID string, turn Turn) error {
	sc, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	sc.History = append(sc.History, turn)
	if turn.Role == "user" {
		sc.TurnCount++
	}
	return s.Update(ctx, sc)
}

// AppendHandoff records a handoff id in the session's ordered history.
func (s *Store) AppendHandoff(ctx context.Context, sessionID, handoffID string) error {
	sc, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	sc.HandoffIDs = append(sc.HandoffIDs, handoffID)
	return s.Update(ctx, sc)
}

// Delete removes a session from Redis and the local cache.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	s.mu.Lock()
	delete(s.localCache, sessionID)
	delete(s.cacheAccess, sessionID)
	metrics.SessionCacheSize.Set(float64(len(s.localCache)))
	s.mu.Unlock()

	s.logger.Info("Deleted session", zap.String("session_id", sessionID))
	return nil
}

// Exists reports whether a live (non-expired) session is present without
// touching access times or the cache hit/miss counters.
func (s *Store) Exists(ctx context.Context, sessionID string) bool {
	s.mu.Lock()
	if sc, ok := s.localCache[sessionID]; ok {
		s.mu.Unlock()
		return !sc.IsExpired()
	}
	s.mu.Unlock()

	res := s.client.Get(ctx, s.key(sessionID))
	if res.Err() != nil {
		return false
	}
	var sc Context
	if err := json.Unmarshal([]byte(res.Val()), &sc); err != nil {
		return false
	}
	return !sc.IsExpired()
}

// Close closes the store.
func (s *Store) Close() error {
	return s.client.Close()
}

// Redis exposes the wrapped client for health checks.
func (s *Store) Redis() *circuitbreaker.RedisWrapper {
	return s.client
}

func (s *Store) key(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

func (s *Store) save(ctx context.Context, sc *Context) error {
	data, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	ttl := time.Until(sc.ExpiresAt)
	if ttl <= 0 {
		ttl = s.ttl
	}
	return s.client.Set(ctx, s.key(sc.ID), data, ttl).Err()
}

// evictIfNeeded removes the least recently used half of the cache when it
// grows past maxCached. Caller must hold s.mu.
func (s *Store) evictIfNeeded() {
	if len(s.localCache) <= s.maxCached {
		return
	}

	type accessEntry struct {
		id   string
		time time.Time
	}
	entries := make([]accessEntry, 0, len(s.localCache))
	for id := range s.localCache {
		at, ok := s.cacheAccess[id]
		if !ok {
			at = time.Time{}
		}
		entries = append(entries, accessEntry{id: id, time: at})
	}

	for i := 0; i < len(entries)-1; i++ {
		for j := i + 1; j < len(entries); j++ {
			if entries[j].time.Before(entries[i].time) {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
	}

	toRemove := s.maxCached / 2
	if toRemove == 0 {
		toRemove = 1
	}
	for i := 0; i < toRemove && i < len(entries); i++ {
		delete(s.localCache, entries[i].id)
		delete(s.cacheAccess, entries[i].id)
		metrics.SessionCacheEvictions.Inc()
	}
}
