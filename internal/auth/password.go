// ABOUTME: Password hashing and credential checks for username/password login
// ABOUTME: bcrypt hashes with a dummy comparison so unknown users take as long as known ones

package auth

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/NightFury20/microbe-messaging/internal/store"
)

// ErrInvalidCredentials is returned for an unknown user or a wrong password.
var ErrInvalidCredentials = errors.New("invalid username or password")

// dummyHash is compared against when the user doesn't exist so that timing
// does not reveal which usernames are registered.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// UserLookup is the store subset needed for login.
type UserLookup interface {
	GetUserByUsername(ctx context.Context, username string) (*store.User, error)
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckCredentials returns the identity for username if password matches.
func CheckCredentials(ctx context.Context, users UserLookup, username, password string) (*Identity, error) {
	user, err := users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if user.PasswordHash == "" {
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return &Identity{ID: user.ID, Username: user.Username}, nil
}
