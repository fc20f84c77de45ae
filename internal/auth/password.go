package auth

import "golang.org/x/crypto/bcrypt"

// HashKey hashes a plaintext key with configured cost.
func HashKey(key string, cost int) (string, error) {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// CompareKey verifies a key against its hashed value.
func CompareKey(hashed, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
}

// KeyValidator checks presented keys against the shared service key. Only the
// hash is kept in memory.
type KeyValidator struct {
	hash string
}

// NewKeyValidator hashes sharedKey once at start-up.
func NewKeyValidator(sharedKey string, cost int) (*KeyValidator, error) {
	hash, err := HashKey(sharedKey, cost)
	if err != nil {
		return nil, err
	}
	return &KeyValidator{hash: hash}, nil
}

// Valid reports whether key matches the shared key.
func (v *KeyValidator) Valid(key string) bool {
	if key == "" {
		return false
	}
	return CompareKey(v.hash, key) == nil
}
