package dive

import (
	"context"
	"sync"
	"time"

	"cavvy/internal/errors"
	"cavvy/redis"

	"github.com/rs/zerolog"
)

const sessionKeyPrefix = "dive:session:"

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

// Registry holds dive sessions in memory and mirrors every write to Redis,
// so a replica that did not start a dive can still read it. Writes from two
// replicas to the same session are last-write-wins.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	cache    *redis.Cache
	ttl      time.Duration
	log      zerolog.Logger
}

func NewRegistry(cache *redis.Cache, ttl time.Duration, log zerolog.Logger) *Registry {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Registry{
		sessions: make(map[string]*Session),
		cache:    cache,
		ttl:      ttl,
		log:      log,
	}
}

func (r *Registry) Put(ctx context.Context, s *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune()
	stored := s.clone()
	r.sessions[s.ID] = stored
	r.mirror(ctx, stored)
	return stored.clone()
}

// Get returns a copy of the session owned by userID.
func (r *Registry) Get(ctx context.Context, userID uint64, id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.lookup(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return s.clone(), nil
}

// Update applies fn to the stored session under the registry lock and
// returns a copy of the result. Nothing is stored when fn fails.
func (r *Registry) Update(ctx context.Context, userID uint64, id string, fn func(s *Session) error) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.lookup(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	next := s.clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now().UTC()
	r.sessions[id] = next
	r.mirror(ctx, next)
	return next.clone(), nil
}

func (r *Registry) Delete(ctx context.Context, userID uint64, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.lookup(ctx, userID, id); err != nil {
		return err
	}
	delete(r.sessions, id)
	if err := r.cache.Delete(ctx, sessionKey(id)); err != nil {
		r.log.Warn().Err(err).Str("session_id", id).Msg("failed to delete mirrored dive session")
	}
	return nil
}

// lookup prefers the Redis mirror, so every replica sees writes made by the
// others. The local map is only used without Redis or when Redis fails.
func (r *Registry) lookup(ctx context.Context, userID uint64, id string) (*Session, error) {
	s, ok := r.sessions[id]

	if r.cache.Enabled() {
		var mirrored Session
		found, err := r.cache.Get(ctx, sessionKey(id), &mirrored)
		switch {
		case err != nil:
			r.log.Warn().Err(err).Str("session_id", id).Msg("failed to read mirrored dive session")
		case found:
			s, ok = &mirrored, true
			r.sessions[id] = s
		default:
			// expired or deleted by another replica
			delete(r.sessions, id)
			ok = false
		}
	}

	if !ok || s.UserID != userID || r.expired(s) {
		return nil, errors.NotFound("Dive session not found", nil)
	}
	return s, nil
}

func (r *Registry) expired(s *Session) bool {
	return time.Since(s.UpdatedAt) > r.ttl
}

// prune drops sessions idle for longer than the ttl.
func (r *Registry) prune() {
	for id, s := range r.sessions {
		if r.expired(s) {
			delete(r.sessions, id)
		}
	}
}

func (r *Registry) mirror(ctx context.Context, s *Session) {
	if err := r.cache.Set(ctx, sessionKey(s.ID), s, r.ttl); err != nil {
		r.log.Warn().Err(err).Str("session_id", s.ID).Msg("failed to mirror dive session")
	}
}
