package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var testKey = []byte("some_secret")

func TestAuthenticate(t *testing.T) {
	a := NewAuthenticator(testKey)

	sign := func(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}

	tcases := []struct {
		name    string
		token   func(t *testing.T) string
		want    Identity
		wantErr error
	}{
		{
			name: "valid active user",
			token: func(t *testing.T) string {
				tok, err := a.IssueToken(42, true)
				require.NoError(t, err)
				return tok
			},
			want: Identity{UserId: 42, IsActive: true},
		},
		{
			name: "active claim defaults to true",
			token: func(t *testing.T) string {
				return sign(t, jwt.SigningMethodHS256, testKey, jwt.MapClaims{userIdClaim: 7})
			},
			want: Identity{UserId: 7, IsActive: true},
		},
		{
			name: "inactive user",
			token: func(t *testing.T) string {
				tok, err := a.IssueToken(42, false)
				require.NoError(t, err)
				return tok
			},
			want:    Identity{UserId: 42, IsActive: false},
			wantErr: ErrInactiveUser,
		},
		{
			name: "wrong key",
			token: func(t *testing.T) string {
				return sign(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{userIdClaim: 42})
			},
			wantErr: ErrInvalidToken,
		},
		{
			name: "expired",
			token: func(t *testing.T) string {
				return sign(t, jwt.SigningMethodHS256, testKey, jwt.MapClaims{
					userIdClaim: 42,
					expClaim:    time.Now().Add(-time.Hour).Unix(),
				})
			},
			wantErr: ErrInvalidToken,
		},
		{
			name: "missing user id",
			token: func(t *testing.T) string {
				return sign(t, jwt.SigningMethodHS256, testKey, jwt.MapClaims{activeClaim: true})
			},
			wantErr: ErrInvalidToken,
		},
		{
			name:    "garbage",
			token:   func(t *testing.T) string { return "not-a-token" },
			wantErr: ErrInvalidToken,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			id, err := a.Authenticate(tc.token(t))
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tc.want, id)
		})
	}
}

func TestPasswordHasher(t *testing.T) {
	h := NewPasswordHasher(bcrypt.MinCost)

	hash, err := h.Hash("pw1")
	require.NoError(t, err)
	assert.NotEqual(t, "pw1", hash, "expected password to be hashed")

	assert.NoError(t, h.Compare(hash, "pw1"))
	assert.ErrorIs(t, h.Compare(hash, "wrong"), ErrPasswordMismatch)
	assert.Error(t, h.Compare("not-a-hash", "pw1"))
}
