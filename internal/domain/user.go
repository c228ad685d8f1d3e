package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleBuyer, RoleSeller, RoleAdmin:
		return true
	}
	return false
}

type Address struct {
	Street  string `gorm:"column:street" json:"street,omitempty"`
	City    string `gorm:"column:city" json:"city,omitempty"`
	State   string `gorm:"column:state" json:"state,omitempty"`
	Country string `gorm:"column:country" json:"country,omitempty"`
	ZipCode string `gorm:"column:zip_code" json:"zipCode,omitempty"`
}

// User is a marketplace account. Sellers list credits, buyers purchase them.
type User struct {
	ID                     uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	FirstName              string     `gorm:"size:50;not null" json:"firstName"`
	LastName               string     `gorm:"size:50;not null" json:"lastName"`
	Email                  string     `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash           string     `gorm:"column:password_hash;not null" json:"-"`
	Role                   Role       `gorm:"type:varchar(10);default:'buyer';not null" json:"role"`
	Company                string     `json:"company,omitempty"`
	Phone                  string     `json:"phone,omitempty"`
	Address                Address    `gorm:"embedded;embeddedPrefix:address_" json:"address"`
	ProfileImage           string     `json:"profileImage,omitempty"`
	IsEmailVerified        bool       `gorm:"default:false" json:"isEmailVerified"`
	EmailVerificationToken string     `gorm:"index" json:"-"`
	PasswordResetToken     string     `gorm:"index" json:"-"`
	PasswordResetExpires   *time.Time `json:"-"`
	IsActive               bool       `gorm:"default:true" json:"isActive"`
	StripeCustomerID       string     `json:"-"`
	LastLogin              *time.Time `json:"lastLogin,omitempty"`
	CreatedAt              time.Time  `json:"createdAt"`
	UpdatedAt              time.Time  `json:"updatedAt"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Role == "" {
		u.Role = RoleBuyer
	}
	return nil
}

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
