package user

import (
	"context"

	"cavvy/internal/domain"

	"gorm.io/gorm"
)

// UserRepository defines the interface for user data access
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByID(ctx context.Context, id uint64) (*domain.User, error)
	Deactivate(ctx context.Context, id uint64) error
	IncreaseTokenVersion(ctx context.Context, id uint64) error
	SetRole(ctx context.Context, id uint64, role domain.Role) error
}

// UserRepositoryImpl implements UserRepository
type UserRepositoryImpl struct {
	db *gorm.DB
}

// NewRepository creates a new user repository
func NewRepository(db *gorm.DB) UserRepository {
	return &UserRepositoryImpl{db: db}
}

func (r *UserRepositoryImpl) Create(ctx context.Context, user *domain.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *UserRepositoryImpl) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepositoryImpl) FindByID(ctx context.Context, id uint64) (*domain.User, error) {
	var user domain.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepositoryImpl) Deactivate(ctx context.Context, id uint64) error {
	return r.updateColumn(ctx, id, "is_active", false)
}

// IncreaseTokenVersion revokes every token issued to the user so far.
func (r *UserRepositoryImpl) IncreaseTokenVersion(ctx context.Context, id uint64) error {
	return r.updateColumn(ctx, id, "token_version", gorm.Expr("token_version + 1"))
}

func (r *UserRepositoryImpl) SetRole(ctx context.Context, id uint64, role domain.Role) error {
	return r.updateColumn(ctx, id, "role", role)
}

func (r *UserRepositoryImpl) updateColumn(ctx context.Context, id uint64, column string, value any) error {
	res := r.db.WithContext(ctx).Model(&domain.User{}).Where("id = ?", id).Update(column, value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
