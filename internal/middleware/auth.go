// Package middleware содержит HTTP middleware локального API киоска.
package middleware

import (
	"crypto/hmac"
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// AuthMiddleware пропускает к операторским маршрутам только запросы с
// токеном оператора в заголовке Authorization.
type AuthMiddleware struct {
	token []byte
}

// NewAuthMiddleware создаёт AuthMiddleware. Если токен пуст, все
// операторские маршруты закрыты.
func NewAuthMiddleware(token string) *AuthMiddleware {
	return &AuthMiddleware{token: []byte(token)}
}

// Middleware проверяет токен оператора.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.token) == 0 {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}

		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		got := []byte(strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix)))
		if !hmac.Equal(got, a.token) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
