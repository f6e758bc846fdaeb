package catalog

import (
	"context"
	defErrors "errors"
	"fmt"
	"time"

	"cavvy/internal/changefeed"
	"cavvy/internal/domain"
	"cavvy/internal/errors"
	"cavvy/redis"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Service resolves the canvas types and AI agents visible to a user: the
// shared catalog overlaid with the user's custom catalog.
type Service interface {
	GetTypes(ctx context.Context, userID uint64) ([]domain.CanvasType, error)
	GetType(ctx context.Context, userID uint64, id string) (*domain.CanvasType, error)
	GetAgents(ctx context.Context, userID uint64) ([]domain.AIAgent, error)
	GetAgent(ctx context.Context, userID uint64, id string) (*domain.AIAgent, error)

	SaveCustom(ctx context.Context, userID uint64, t *domain.CanvasType) (*domain.CanvasType, error)
	DeleteCustom(ctx context.Context, userID uint64, id string) error
	SaveCustomAgent(ctx context.Context, userID uint64, a *domain.AIAgent) (*domain.AIAgent, error)

	SaveShared(ctx context.Context, requesterID uint64, t *domain.CanvasType) (*domain.CanvasType, error)
	DeleteShared(ctx context.Context, requesterID uint64, id string) error
	SaveSharedAgent(ctx context.Context, requesterID uint64, a *domain.AIAgent) (*domain.AIAgent, error)
}

type UserProvider interface {
	GetUserByID(ctx context.Context, id uint64) (*domain.User, error)
}

const cacheTTL = 24 * time.Hour

type DefaultService struct {
	repository   Repository
	userProvider UserProvider
	cache        *redis.Cache
	feed         *changefeed.Feed
	validate     *validator.Validate
	log          zerolog.Logger
}

func NewService(
	repository Repository,
	userProvider UserProvider,
	cache *redis.Cache,
	feed *changefeed.Feed,
	log zerolog.Logger,
) Service {
	return &DefaultService{
		repository:   repository,
		userProvider: userProvider,
		cache:        cache,
		feed:         feed,
		validate:     validator.New(),
		log:          log,
	}
}

func sharedVersionKey() string {
	return "catalog:shared:version"
}

func userVersionKey(userID uint64) string {
	return fmt.Sprintf("catalog:user:%d:version", userID)
}

// mergedKey builds the cache key of a merged listing. It embeds both
// version counters, so a write on either side makes old entries unreachable.
func (s *DefaultService) mergedKey(ctx context.Context, kind string, userID uint64) string {
	sv := s.cache.GetVersion(ctx, sharedVersionKey())
	if userID == SharedOwner {
		return fmt.Sprintf("catalog:%s:shared:v:%d", kind, sv)
	}
	uv := s.cache.GetVersion(ctx, userVersionKey(userID))
	return fmt.Sprintf("catalog:%s:u:%d:sv:%d:uv:%d", kind, userID, sv, uv)
}

func (s *DefaultService) GetTypes(ctx context.Context, userID uint64) ([]domain.CanvasType, error) {
	cacheKey := s.mergedKey(ctx, "types", userID)

	var merged []domain.CanvasType
	if found, _ := s.cache.Get(ctx, cacheKey, &merged); found {
		return merged, nil
	}

	shared, err := s.repository.ListTypes(ctx, SharedOwner)
	if err != nil {
		return nil, fmt.Errorf("list shared canvas types: %w", err)
	}

	var custom []domain.CanvasType
	if userID != SharedOwner {
		custom, err = s.repository.ListTypes(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("list custom canvas types: %w", err)
		}
	}

	merged = MergeTypes(shared, custom)
	if err := s.cache.Set(ctx, cacheKey, merged, cacheTTL); err != nil {
		s.log.Warn().Err(err).Str("key", cacheKey).Msg("failed to cache canvas types")
	}
	return merged, nil
}

func (s *DefaultService) GetType(ctx context.Context, userID uint64, id string) (*domain.CanvasType, error) {
	types, err := s.GetTypes(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range types {
		if types[i].ID == id {
			return &types[i], nil
		}
	}
	return nil, errors.NotFound("Canvas type not found", nil)
}

func (s *DefaultService) GetAgents(ctx context.Context, userID uint64) ([]domain.AIAgent, error) {
	cacheKey := s.mergedKey(ctx, "agents", userID)

	var merged []domain.AIAgent
	if found, _ := s.cache.Get(ctx, cacheKey, &merged); found {
		return merged, nil
	}

	shared, err := s.repository.ListAgents(ctx, SharedOwner)
	if err != nil {
		return nil, fmt.Errorf("list shared agents: %w", err)
	}

	var custom []domain.AIAgent
	if userID != SharedOwner {
		custom, err = s.repository.ListAgents(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("list custom agents: %w", err)
		}
	}

	merged = MergeAgents(shared, custom)
	if err := s.cache.Set(ctx, cacheKey, merged, cacheTTL); err != nil {
		s.log.Warn().Err(err).Str("key", cacheKey).Msg("failed to cache agents")
	}
	return merged, nil
}

func (s *DefaultService) GetAgent(ctx context.Context, userID uint64, id string) (*domain.AIAgent, error) {
	agents, err := s.GetAgents(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range agents {
		if agents[i].ID == id {
			return &agents[i], nil
		}
	}
	return nil, errors.NotFound("Agent not found", nil)
}

func (s *DefaultService) SaveCustom(ctx context.Context, userID uint64, t *domain.CanvasType) (*domain.CanvasType, error) {
	if userID == SharedOwner {
		return nil, errors.Unauthorized("Sign in to save canvas types", nil)
	}
	if err := s.validate.Struct(t); err != nil {
		return nil, errors.NewValidationError(err)
	}

	saved := *t
	saved.UserID = userID
	saved.IsCustom = true
	if err := s.repository.SaveType(ctx, userID, &saved); err != nil {
		return nil, fmt.Errorf("save custom canvas type: %w", err)
	}

	s.bumpUser(ctx, userID)
	s.feed.Emit(ctx, changefeed.CanvasTypes, changefeed.Modified, userID, saved.ID, saved)
	return &saved, nil
}

func (s *DefaultService) DeleteCustom(ctx context.Context, userID uint64, id string) error {
	if err := s.repository.DeleteType(ctx, userID, id); err != nil {
		if defErrors.Is(err, gorm.ErrRecordNotFound) {
			return errors.NotFound("Canvas type not found", err)
		}
		return fmt.Errorf("delete custom canvas type: %w", err)
	}

	s.bumpUser(ctx, userID)
	s.feed.Emit(ctx, changefeed.CanvasTypes, changefeed.Removed, userID, id, nil)
	return nil
}

func (s *DefaultService) SaveCustomAgent(ctx context.Context, userID uint64, a *domain.AIAgent) (*domain.AIAgent, error) {
	if userID == SharedOwner {
		return nil, errors.Unauthorized("Sign in to save agents", nil)
	}
	if err := s.validate.Struct(a); err != nil {
		return nil, errors.NewValidationError(err)
	}

	saved := *a
	saved.UserID = userID
	saved.IsCustom = true
	if err := s.repository.SaveAgent(ctx, userID, &saved); err != nil {
		return nil, fmt.Errorf("save custom agent: %w", err)
	}

	s.bumpUser(ctx, userID)
	s.feed.Emit(ctx, changefeed.AIAgents, changefeed.Modified, userID, saved.ID, saved)
	return &saved, nil
}

// requireAdmin checks the requester's role on the user record. It runs
// before any shared write.
func (s *DefaultService) requireAdmin(ctx context.Context, requesterID uint64) error {
	if requesterID == SharedOwner {
		return errors.Forbidden("Admin access required", nil)
	}
	user, err := s.userProvider.GetUserByID(ctx, requesterID)
	if err != nil {
		return errors.Forbidden("Admin access required", err)
	}
	if !user.IsAdmin() {
		return errors.Forbidden("Admin access required", nil)
	}
	return nil
}

func (s *DefaultService) SaveShared(ctx context.Context, requesterID uint64, t *domain.CanvasType) (*domain.CanvasType, error) {
	if err := s.requireAdmin(ctx, requesterID); err != nil {
		return nil, err
	}
	if err := s.validate.Struct(t); err != nil {
		return nil, errors.NewValidationError(err)
	}

	saved := *t
	saved.UserID = SharedOwner
	saved.IsCustom = false
	if err := s.repository.SaveType(ctx, SharedOwner, &saved); err != nil {
		return nil, fmt.Errorf("save shared canvas type: %w", err)
	}

	s.bumpShared(ctx)
	s.log.Info().Uint64("admin_id", requesterID).Str("canvas_type_id", saved.ID).Msg("shared canvas type saved")
	return &saved, nil
}

func (s *DefaultService) DeleteShared(ctx context.Context, requesterID uint64, id string) error {
	if err := s.requireAdmin(ctx, requesterID); err != nil {
		return err
	}
	if err := s.repository.DeleteType(ctx, SharedOwner, id); err != nil {
		if defErrors.Is(err, gorm.ErrRecordNotFound) {
			return errors.NotFound("Canvas type not found", err)
		}
		return fmt.Errorf("delete shared canvas type: %w", err)
	}

	s.bumpShared(ctx)
	s.log.Info().Uint64("admin_id", requesterID).Str("canvas_type_id", id).Msg("shared canvas type deleted")
	return nil
}

func (s *DefaultService) SaveSharedAgent(ctx context.Context, requesterID uint64, a *domain.AIAgent) (*domain.AIAgent, error) {
	if err := s.requireAdmin(ctx, requesterID); err != nil {
		return nil, err
	}
	if err := s.validate.Struct(a); err != nil {
		return nil, errors.NewValidationError(err)
	}

	saved := *a
	saved.UserID = SharedOwner
	saved.IsCustom = false
	if err := s.repository.SaveAgent(ctx, SharedOwner, &saved); err != nil {
		return nil, fmt.Errorf("save shared agent: %w", err)
	}

	s.bumpShared(ctx)
	return &saved, nil
}

func (s *DefaultService) bumpUser(ctx context.Context, userID uint64) {
	if err := s.cache.IncrementVersion(ctx, userVersionKey(userID)); err != nil {
		s.log.Warn().Err(err).Uint64("user_id", userID).Msg("failed to bump catalog version")
	}
}

func (s *DefaultService) bumpShared(ctx context.Context) {
	if err := s.cache.IncrementVersion(ctx, sharedVersionKey()); err != nil {
		s.log.Warn().Err(err).Msg("failed to bump shared catalog version")
	}
}
