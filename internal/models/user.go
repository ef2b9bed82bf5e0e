package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Account roles. The first registered account is the admin.
const (
	RoleAdmin       = "admin"
	RoleInvigilator = "invigilator"
)

// User is an invigilator account.
type User struct {
	ID           int64     `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         string    `db:"role" json:"role"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// IsAdmin reports whether the account may manage other invigilators.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Claims are carried in invigilator session tokens.
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}
