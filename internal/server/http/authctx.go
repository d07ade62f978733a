package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type ctxKey string

const accountKey ctxKey = "kr.account"

// WithAccount stores the authenticated platform account in context.
func WithAccount(ctx context.Context, account string) context.Context {
	return context.WithValue(ctx, accountKey, account)
}

// AccountFromCtx fetches the platform account from context.
func AccountFromCtx(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(accountKey).(string)
	return v, ok && v != ""
}

// sessionAccount extracts "Authorization: Bearer <JWT>", verifies HS256 and returns sub.
func (s *Server) sessionAccount(r *http.Request) (string, error) {
	tok, err := bearerToken(r.Header)
	if err != nil {
		return "", err
	}

	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.signKey, nil
	}, jwt.WithLeeway(30*time.Second))
	if err != nil || !parsed.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", errors.New("empty subject")
	}
	return claims.Subject, nil
}

// platformSession resolves the caller's account for the wrapped handler.
// Requests without a valid session are rejected before reaching next.
func (s *Server) platformSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, err := s.sessionAccount(r)
		if err != nil {
			s.log.Warn("platform session rejected", zap.String("path", r.URL.Path), zap.Error(err))
			writeReply(w, rejected())
			return
		}
		next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), account)))
	})
}

func bearerToken(h http.Header) (string, error) {
	for _, v := range h.Values("Authorization") {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			t := strings.TrimSpace(v[7:])
			if t != "" {
				return t, nil
			}
		}
	}
	return "", errors.New("no bearer token")
}
