package gateway

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"backchannel/pkg/types"
)

// Claims is the JWT claim set the forum issues for chat connections.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Authenticator resolves a connection request to a verified identity.
// The token travels either in the "token" query parameter (browser
// WebSocket clients cannot set headers) or an Authorization bearer
// header.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator creates an authenticator for tokens signed with the
// given HMAC secret.
func NewAuthenticator(secret []byte) *Authenticator {
	return &Authenticator{secret: secret}
}

// Identity verifies the request's token and returns the lowercased
// username it carries.
func (a *Authenticator) Identity(r *http.Request) (string, error) {
	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		header := r.Header.Get("Authorization")
		if after, found := strings.CutPrefix(header, "Bearer "); found {
			tokenString = after
		}
	}
	if tokenString == "" {
		return "", ErrNoToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	identity := strings.ToLower(claims.Username)
	if !types.IsValidIdentity(identity) {
		return "", types.ErrInvalidIdentity
	}
	return identity, nil
}
