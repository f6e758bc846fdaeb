package domain

import "time"

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// NormalizeRole maps unknown role strings to RoleUser.
func NormalizeRole(role string) Role {
	switch Role(role) {
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleUser
	}
}

// User represents an account
type User struct {
	ID           uint64    `gorm:"primaryKey"`
	Name         string    `gorm:"not null"`
	Email        string    `gorm:"uniqueIndex;not null"`
	Password     string    `gorm:"-"` // input only, not stored in db
	PasswordHash string    `gorm:"not null"`
	Role         Role      `gorm:"type:varchar(16);not null;default:user"`
	TokenVersion uint64    `gorm:"not null;default:0"`
	IsActive     bool      `gorm:"default:true"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// SafeUser represents a user without sensitive information
type SafeUser struct {
	ID        uint64    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	IsActive  bool      `json:"is_active"`
}

func (u *User) ToSafeUser() SafeUser {
	return SafeUser{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
		IsActive:  u.IsActive,
	}
}
