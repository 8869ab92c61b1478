package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
)

const (
	userIdClaim = "user-id"
	activeClaim = "active"
	expClaim    = "exp"

	defaultExp = time.Hour * 24
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrInactiveUser = errors.New("user is not active")
)

// Identity is the result of authenticating a connection.
type Identity struct {
	UserId   int
	IsActive bool
}

type Authenticator struct {
	signingKey []byte
}

func NewAuthenticator(signingKey []byte) *Authenticator {
	return &Authenticator{signingKey: signingKey}
}

// Authenticate verifies an HMAC signed token and extracts the identity
// it carries. Tokens without an "active" claim are treated as active.
func (a *Authenticator) Authenticate(tokenString string) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.signingKey, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	userId, ok := claims[userIdClaim].(float64)
	if !ok || userId <= 0 {
		return Identity{}, fmt.Errorf("%w: invalid user id claim", ErrInvalidToken)
	}

	id := Identity{UserId: int(userId), IsActive: true}
	if active, ok := claims[activeClaim].(bool); ok {
		id.IsActive = active
	}

	if !id.IsActive {
		return id, ErrInactiveUser
	}

	return id, nil
}

// IssueToken signs a token for userId. Token issuance belongs to the
// account service; this exists for local development and tests.
func (a *Authenticator) IssueToken(userId int, active bool) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim: userId,
		activeClaim: active,
		expClaim:    time.Now().Add(defaultExp).Unix(),
	})

	return token.SignedString(a.signingKey)
}
