package user

import (
	"context"
	defErrors "errors"
	"strings"

	"cavvy/internal/domain"
	"cavvy/internal/errors"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Service defines the interface for user business logic
type Service interface {
	Register(ctx context.Context, user *domain.User) error
	Login(ctx context.Context, email, password string) (*domain.User, error)
	GetUserByID(ctx context.Context, id uint64) (*domain.User, error)
	DeactivateUser(ctx context.Context, id uint64) error
	IncreaseTokenVersion(ctx context.Context, id uint64) error
	SetRole(ctx context.Context, email string, role domain.Role) (*domain.User, error)
}

// DefaultService implements Service
type DefaultService struct {
	repository UserRepository
}

// NewService creates a new user service
func NewService(repository UserRepository) *DefaultService {
	return &DefaultService{repository: repository}
}

func notFound(err error) error {
	if defErrors.Is(err, gorm.ErrRecordNotFound) {
		return errors.NotFound("User not found", err)
	}
	return err
}

// Register registers a new user
func (s *DefaultService) Register(ctx context.Context, user *domain.User) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))

	// Check if user with email already exists
	_, err := s.repository.FindByEmail(ctx, user.Email)
	if err != nil && !defErrors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if err == nil {
		return errors.UnprocessableEntity("User already registered", nil)
	}

	// Hash the password before saving
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(user.Password), bcrypt.DefaultCost)
	if err != nil {
		return errors.UnprocessableEntity("Invalid password", err)
	}
	user.PasswordHash = string(hashedPassword)
	user.Password = ""
	user.IsActive = true
	user.Role = domain.RoleUser

	return s.repository.Create(ctx, user)
}

// Login authenticates a user
func (s *DefaultService) Login(ctx context.Context, email, password string) (*domain.User, error) {
	user, err := s.repository.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, errors.Unauthorized("User not found", err)
	}

	if !user.IsActive {
		return nil, errors.Unauthorized("User is not active", nil)
	}

	err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password))
	if err != nil {
		return nil, errors.UnprocessableEntity("Wrong password", err)
	}

	return user, nil
}

func (s *DefaultService) GetUserByID(ctx context.Context, id uint64) (*domain.User, error) {
	user, err := s.repository.FindByID(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}
	return user, nil
}

func (s *DefaultService) DeactivateUser(ctx context.Context, id uint64) error {
	return notFound(s.repository.Deactivate(ctx, id))
}

func (s *DefaultService) IncreaseTokenVersion(ctx context.Context, id uint64) error {
	return notFound(s.repository.IncreaseTokenVersion(ctx, id))
}

// SetRole changes the role of the account registered with email. Shared
// catalog edits require RoleAdmin.
func (s *DefaultService) SetRole(ctx context.Context, email string, role domain.Role) (*domain.User, error) {
	user, err := s.repository.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, notFound(err)
	}
	if err := s.repository.SetRole(ctx, user.ID, role); err != nil {
		return nil, notFound(err)
	}
	user.Role = role
	return user, nil
}
