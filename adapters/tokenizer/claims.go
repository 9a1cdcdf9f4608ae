package tokenizer

import "github.com/golang-jwt/jwt/v5"

// AccessClaims combines standard claims with session-specific ones
type AccessClaims struct {
	jwt.RegisteredClaims
	SessionKey string `json:"sid"` // address of the delegated session key
	Contract   string `json:"contract"`
}
