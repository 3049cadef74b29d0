package auth

import (
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// BcryptCost is the work factor for new password hashes
const BcryptCost = 12

// hashCost is lowered in tests
var hashCost = BcryptCost

var (
	dummyOnce sync.Once
	dummyHash []byte
)

// compareDummy burns the same bcrypt work as a real comparison so that unknown
// and known emails take the same time
func compareDummy(password string) {
	dummyOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("gatehouse-timing-equalizer"), hashCost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

// HashPassword hashes a plaintext password using bcrypt
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), hashCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares a plaintext password with a stored hash
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
