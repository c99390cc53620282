package auth

import (
	"context"
	"errors"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleTowTruck Role = "TOW_TRUCK"
	RoleMechanic Role = "MECHANIC"
	RoleAdmin    Role = "ADMIN"
)

// IsProvider reports whether r is a provider role.
func (r Role) IsProvider() bool { return r == RoleTowTruck || r == RoleMechanic }

// SelfService reports whether accounts of role r may be created through
// registration. Admins are provisioned elsewhere.
func (r Role) SelfService() bool { return r == RoleCustomer || r.IsProvider() }

const VerificationPending = "PENDING"

var (
	ErrEmailTaken   = errors.New("email already used")
	ErrUserNotFound = errors.New("user not found")
)

// User is an account. Provider columns are unused for customers.
type User struct {
	ID           string `gorm:"type:uuid;primaryKey"`
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	Role         Role   `gorm:"type:text;not null;index"`

	IsOnline           bool           `gorm:"not null;default:false"`
	VerificationStatus string         `gorm:"type:text;not null;default:'PENDING'"`
	Lat                *float64       `gorm:"type:double precision"`
	Lng                *float64       `gorm:"type:double precision"`
	LocationUpdatedAt  *time.Time     `gorm:"type:timestamptz"`
	TowTruckTypes      pq.StringArray `gorm:"type:text[];not null;default:'{}'"`
	CarTypesSupported  pq.StringArray `gorm:"type:text[];not null;default:'{}'"`

	CreatedAt time.Time `gorm:"not null;default:now()"`
	UpdatedAt time.Time `gorm:"not null;default:now()"`
}

// Users persists accounts.
type Users interface {
	CreateUser(ctx context.Context, u *User) error
	UserByEmail(ctx context.Context, email string) (*User, error)
}

// Repo is the Postgres Users implementation.
type Repo struct {
	DB *gorm.DB
}

func (r *Repo) CreateUser(ctx context.Context, u *User) error {
	err := r.DB.WithContext(ctx).Create(u).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrEmailTaken
	}
	return err
}

func (r *Repo) UserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := r.DB.WithContext(ctx).Where("email = ?", email).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
