package auth

import (
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes plaintext password using bcrypt. Every call salts
// afresh, so equal inputs yield different hashes.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", fmt.Errorf("%w: password is empty", ErrInvalidInput)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches the stored hash. The salt
// and cost are read from the hash itself.
func VerifyPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// absentUserHash is compared against when the username does not exist, so
// the response time does not reveal which usernames are registered.
var absentUserHash = sync.OnceValue(func() string {
	hash, _ := bcrypt.GenerateFromPassword([]byte("securecms:absent-user"), bcrypt.DefaultCost)
	return string(hash)
})

var verifyPassword = VerifyPassword
