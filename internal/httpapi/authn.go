package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"caseline.org/internal/auth"
	"caseline.org/internal/tenant"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/token",
	"/metrics",
	"/healthz",
	"/readyz",
	"/openapi.yaml",
	"/",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}

		claims, err := auth.ParseAndValidate(token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, r, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "internal", "authentication error")
			return
		}

		principal := auth.Principal{
			Subject: claims.Subject,
			Tenant:  claims.Tenant,
			Roles:   claims.Roles,
		}
		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		ctx = tenant.WithTenant(ctx, claims.Tenant)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) requirePermission(ctx context.Context, perm string) error {
	principal, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return auth.ErrUnauthorized
	}
	if !principal.HasPermission(perm) {
		return auth.ErrForbidden
	}
	return nil
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
