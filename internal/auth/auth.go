package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
)

// ErrInvalidToken covers every credential failure: bad signature,
// expired, malformed, or missing claims. Callers treat all of them as
// an authentication failure.
var ErrInvalidToken = errors.New("invalid token")

const (
	subClaim = "sub"
	expClaim = "exp"

	bearerPrefix = "Bearer "
)

// Principal is the authenticated identity bound to a connection. It is
// set once at authentication time and read-only afterwards.
type Principal struct {
	UserId  int
	Subject string
}

type Authenticator struct {
	signingKey []byte
}

func NewAuthenticator(signingKey []byte) *Authenticator {
	return &Authenticator{signingKey: signingKey}
}

// CreateToken issues a signed session token for the given account.
func (a *Authenticator) CreateToken(userId int, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		subClaim: strconv.Itoa(userId),
		expClaim: time.Now().Add(exp).Unix(),
	})

	return token.SignedString(a.signingKey)
}

// ValidateBearer validates an "Authorization: Bearer <token>" value and
// returns the principal it identifies.
func (a *Authenticator) ValidateBearer(header string) (Principal, error) {
	if header == "" {
		return Principal{}, fmt.Errorf("%w: authorization header missing", ErrInvalidToken)
	}
	if !strings.HasPrefix(header, bearerPrefix) {
		return Principal{}, fmt.Errorf("%w: not a bearer credential", ErrInvalidToken)
	}

	return a.ValidateToken(strings.TrimPrefix(header, bearerPrefix))
}

// ValidateToken checks the token's signature and expiry and extracts
// the subject. Expiry is evaluated here only; a principal bound to a
// live connection is not re-validated when the token later expires.
func (a *Authenticator) ValidateToken(tokenString string) (Principal, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.signingKey, nil
	})
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return Principal{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Principal{}, fmt.Errorf("%w: invalid claims", ErrInvalidToken)
	}

	sub, ok := claims[subClaim].(string)
	if !ok || sub == "" {
		return Principal{}, fmt.Errorf("%w: subject claim missing", ErrInvalidToken)
	}

	userId, err := strconv.Atoi(sub)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: subject is not an account id: %v", ErrInvalidToken, err)
	}

	return Principal{UserId: userId, Subject: sub}, nil
}
