package ws

import (
	"net/http"
	"strings"

	"github.com/evently/eventchat/pkg/token"
)

// JWTAuthenticator resolves the connection principal from a participant
// token. Browsers cannot set headers on WebSocket dials, so the token is
// accepted from the "token" query parameter as well as the Authorization
// header.
type JWTAuthenticator struct {
	secret []byte
}

func NewJWTAuthenticator(secret []byte) *JWTAuthenticator {
	return &JWTAuthenticator{secret: secret}
}

func (a *JWTAuthenticator) Authenticate(r *http.Request) (Principal, bool) {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		header := r.Header.Get("Authorization")
		raw = strings.TrimPrefix(header, "Bearer ")
	}
	if raw == "" {
		return Principal{}, false
	}

	claims, err := token.Verify(raw, a.secret)
	if err != nil {
		return Principal{}, false
	}
	if claims.UserID() == "" {
		return Principal{}, false
	}

	return Principal{UserID: claims.UserID(), UserName: claims.UserName}, true
}
