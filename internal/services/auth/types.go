package auth

import (
	"errors"
	"time"

	"github.com/sinhamoca/verificacao-sub002/internal/domain/enums"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrSessionNotFound = errors.New("session not found")
)

type SessionRecord struct {
	SID        string
	ResellerID int64
	Role       enums.Role
	ExpiresAt  time.Time
}

type AccessClaims struct {
	ResellerID int64
	SID        string
	Role       enums.Role
	ExpiresAt  time.Time
}

type Me struct {
	ID       int64
	Username string
	Role     enums.Role
}

type AuthResult struct {
	AccessToken   string
	AccessExpires time.Time
	Me            Me
}
