package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

func TestCreateToken_ValidateToken(t *testing.T) {
	a := NewAuthenticator(testSigningKey)

	tokenString, err := a.CreateToken(42, time.Hour)
	require.NoError(t, err, "expected no error creating token")
	require.NotEmpty(t, tokenString, "expected token string to be non-empty")

	principal, err := a.ValidateToken(tokenString)
	assert.NoError(t, err, "expected token to validate")
	assert.Equal(t, 42, principal.UserId, "expected principal user id to match subject")
	assert.Equal(t, "42", principal.Subject, "expected subject claim to round-trip")
}

func TestValidateToken_Expired(t *testing.T) {
	a := NewAuthenticator(testSigningKey)

	tokenString, err := a.CreateToken(42, -time.Minute)
	require.NoError(t, err, "expected no error creating token")

	_, err = a.ValidateToken(tokenString)
	assert.Error(t, err, "expected expired token to be rejected")
	assert.ErrorIs(t, err, ErrInvalidToken, "expected ErrInvalidToken for expired token")
}

func TestValidateToken_WrongKey(t *testing.T) {
	a := NewAuthenticator(testSigningKey)
	other := NewAuthenticator([]byte("another-signing-key-entirely!!!!"))

	tokenString, err := other.CreateToken(42, time.Hour)
	require.NoError(t, err, "expected no error creating token")

	_, err = a.ValidateToken(tokenString)
	assert.ErrorIs(t, err, ErrInvalidToken, "expected token signed with another key to be rejected")
}

func TestValidateToken_MissingSubject(t *testing.T) {
	a := NewAuthenticator(testSigningKey)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	tokenString, err := token.SignedString(testSigningKey)
	require.NoError(t, err, "expected no error signing token")

	_, err = a.ValidateToken(tokenString)
	assert.ErrorIs(t, err, ErrInvalidToken, "expected token without subject to be rejected")
}

func TestValidateToken_NonNumericSubject(t *testing.T) {
	a := NewAuthenticator(testSigningKey)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "not-a-number",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	tokenString, err := token.SignedString(testSigningKey)
	require.NoError(t, err, "expected no error signing token")

	_, err = a.ValidateToken(tokenString)
	assert.ErrorIs(t, err, ErrInvalidToken, "expected token with non-numeric subject to be rejected")
}

func TestValidateToken_Malformed(t *testing.T) {
	a := NewAuthenticator(testSigningKey)

	_, err := a.ValidateToken("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken, "expected malformed token to be rejected")
}

func TestValidateBearer(t *testing.T) {
	a := NewAuthenticator(testSigningKey)

	tokenString, err := a.CreateToken(7, time.Hour)
	require.NoError(t, err, "expected no error creating token")

	tcases := []struct {
		name    string
		header  string
		wantErr bool
		wantId  int
	}{
		{
			name:   "valid bearer header",
			header: "Bearer " + tokenString,
			wantId: 7,
		},
		{
			name:    "empty header",
			header:  "",
			wantErr: true,
		},
		{
			name:    "missing bearer prefix",
			header:  tokenString,
			wantErr: true,
		},
		{
			name:    "wrong scheme",
			header:  "Basic dXNlcjpwYXNz",
			wantErr: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			principal, err := a.ValidateBearer(tc.header)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidToken, "expected ErrInvalidToken")
			} else {
				assert.NoError(t, err, "expected bearer header to validate")
				assert.Equal(t, tc.wantId, principal.UserId, "expected principal user id to match")
			}
		})
	}
}
