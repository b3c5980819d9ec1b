package tenant

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// HeaderTenantID carries the tenant id when the caller is a trusted
// platform-internal service.
const HeaderTenantID = "X-Tenant-ID"

// RequireTenant resolves the tenant identity for every request and stores it
// on the context. Identity comes either from the X-Tenant-ID header or from
// the tenant_id claim of a bearer token signed with jwtSecret. Requests with
// no resolvable tenant are rejected; there is no implicit global tenant.
func RequireTenant(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := strings.TrimSpace(r.Header.Get(HeaderTenantID)); id != "" {
				next.ServeHTTP(w, r.WithContext(WithID(r.Context(), id)))
				return
			}

			if jwtSecret != "" {
				if id, ok := tenantFromBearer(r, jwtSecret); ok {
					next.ServeHTTP(w, r.WithContext(WithID(r.Context(), id)))
					return
				}
			}

			http.Error(w, "tenant identity required", http.StatusUnauthorized)
		})
	}
}

func tenantFromBearer(r *http.Request, secret string) (string, bool) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", false
	}
	raw := strings.TrimPrefix(auth, "Bearer ")

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", false
	}

	id, _ := claims["tenant_id"].(string)
	return id, id != ""
}
