package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const bearerPrefix = "Bearer "

// bearerAuth accepts either the static token or an HS256 JWT signed with
// secret. With neither configured every request is allowed.
func bearerAuth(token, secret string) func(http.Handler) http.Handler {
	if token == "" && secret == "" {
		zap.L().Warn("api: no token or jwt secret configured, authentication disabled")
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, bearerPrefix) {
				writeError(w, http.StatusUnauthorized, "missing token")
				return
			}
			presented := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
			if !validToken(presented, token, secret) {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func validToken(presented, token, secret string) bool {
	if presented == "" {
		return false
	}
	if token != "" && subtle.ConstantTimeCompare([]byte(presented), []byte(token)) == 1 {
		return true
	}
	if secret == "" {
		return false
	}
	parsed, err := jwt.Parse(presented, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	return err == nil && parsed.Valid
}
