package tokenizer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/onerecurr/core"
	"github.com/layer-3/onerecurr/ports"
)

const AudienceAccess = "session:access"

// JWTTokenizer implements the Tokenizer interface using JWT
type JWTTokenizer struct {
	signKey *ecdsa.PrivateKey
	clock   core.Clock
}

// NewJWTTokenizer creates a new JWT tokenizer. Expiry is judged against clock,
// or the system clock when nil.
func NewJWTTokenizer(signKey *ecdsa.PrivateKey, clock core.Clock) ports.Tokenizer {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &JWTTokenizer{signKey: signKey, clock: clock}
}

// GrantToAccessToken converts a SessionGrant to an access JWT token
func (j *JWTTokenizer) GrantToAccessToken(grant *core.SessionGrant) (string, error) {
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   grant.Account.Hex(),
			ID:        grant.ID,
			ExpiresAt: jwt.NewNumericDate(grant.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(grant.IssuedAt),
			Audience:  jwt.ClaimStrings{AudienceAccess},
		},
		SessionKey: grant.SessionKey.Hex(),
		Contract:   grant.Contract.Hex(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)

	signedToken, err := token.SignedString(j.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}

	return signedToken, nil
}

// AccessTokenToGrant parses an access token and returns the grant it carries
func (j *JWTTokenizer) AccessTokenToGrant(tokenStr string) (*core.SessionGrant, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return &j.signKey.PublicKey, nil
	}, jwt.WithAudience(AudienceAccess), jwt.WithExpirationRequired(), jwt.WithTimeFunc(j.clock.Now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, core.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, core.ErrInvalidToken
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims type")
	}

	for _, addr := range []string{claims.Subject, claims.SessionKey, claims.Contract} {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("%w: malformed address %q", core.ErrInvalidToken, addr)
		}
	}

	grant := &core.SessionGrant{
		ID:         claims.ID,
		Account:    common.HexToAddress(claims.Subject),
		SessionKey: common.HexToAddress(claims.SessionKey),
		Contract:   common.HexToAddress(claims.Contract),
		ExpiresAt:  claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		grant.IssuedAt = claims.IssuedAt.Time
	}

	return grant, nil
}
