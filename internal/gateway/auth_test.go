package gateway

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backchannel/pkg/types"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, secret []byte, username string, expiresIn time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
	})
	signed, err := token.SignedString(secret)
	require.NoError(t, err)
	return signed
}

func TestAuthenticator_Identity_QueryParam(t *testing.T) {
	auth := NewAuthenticator(testSecret)

	r := httptest.NewRequest("GET", "/ws/chat/bob?token="+signToken(t, testSecret, "Alice", time.Hour), nil)
	identity, err := auth.Identity(r)
	require.NoError(t, err)
	assert.Equal(t, "alice", identity, "identity should be lowercased")
}

func TestAuthenticator_Identity_BearerHeader(t *testing.T) {
	auth := NewAuthenticator(testSecret)

	r := httptest.NewRequest("GET", "/ws/chat/bob", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "alice", time.Hour))
	identity, err := auth.Identity(r)
	require.NoError(t, err)
	assert.Equal(t, "alice", identity)
}

func TestAuthenticator_Identity_Rejections(t *testing.T) {
	auth := NewAuthenticator(testSecret)

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{name: "missing token", token: "", wantErr: ErrNoToken},
		{name: "garbage token", token: "not-a-jwt", wantErr: ErrInvalidToken},
		{name: "wrong secret", token: signToken(t, []byte("other-secret"), "alice", time.Hour), wantErr: ErrInvalidToken},
		{name: "expired token", token: signToken(t, testSecret, "alice", -time.Hour), wantErr: ErrInvalidToken},
		{name: "empty username", token: signToken(t, testSecret, "", time.Hour), wantErr: types.ErrInvalidIdentity},
		{name: "invalid username", token: signToken(t, testSecret, "al ice!", time.Hour), wantErr: types.ErrInvalidIdentity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws/chat/bob", nil)
			if tt.token != "" {
				r.Header.Set("Authorization", "Bearer "+tt.token)
			}
			_, err := auth.Identity(r)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestAuthenticator_Identity_RejectsNonHMAC(t *testing.T) {
	auth := NewAuthenticator(testSecret)

	// alg=none tokens must never verify.
	token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Username: "alice"})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/ws/chat/bob?token="+signed, nil)
	_, err = auth.Identity(r)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
