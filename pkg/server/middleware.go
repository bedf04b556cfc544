package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/cors"
	"github.com/golang-jwt/jwt/v5"
)

// Caller identifies the user behind a request, as asserted by the bearer
// token the gateway already verified.
type Caller struct {
	Subject  string
	Username string
}

type callerKey struct{}

// CallerFromContext returns the caller stored by [WithCaller].
func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}

// Middleware wraps a handler with CORS and caller identification.
func Middleware(next http.Handler, opts ...Option) http.Handler {
	c := newConfig(opts)
	corsHandler := cors.Handler(cors.Options{
		AllowedOrigins: c.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	})
	return corsHandler(WithCaller(next))
}

// WithCaller reads the claims of the bearer token into the request context.
// The signature is not checked.
func WithCaller(next http.Handler) http.Handler {
	parser := jwt.NewParser()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		claims := jwt.MapClaims{}
		if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
			log.Debugf("parsing bearer token: %s", err)
			next.ServeHTTP(w, r)
			return
		}
		caller := Caller{}
		caller.Subject, _ = claims.GetSubject()
		caller.Username, _ = claims["cognito:username"].(string)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
	})
}
