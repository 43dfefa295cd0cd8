package api

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/warp/absence-engine/leave"
)

// Permissions carried in the token's "perms" claim.
const (
	PermAbsencesManage = "absences:manage"
	PermPoliciesManage = "policies:manage"
	PermBalancesManage = "balances:manage"
	PermAuditRead      = "audit:read"
)

// Claims identifies the caller. Issuing tokens is another system's job;
// IssueToken exists for tests and local tooling.
type Claims struct {
	EmployeeID  string   `json:"eid"`
	Permissions []string `json:"perms,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) Has(perm string) bool {
	return slices.Contains(c.Permissions, perm)
}

func IssueToken(secret, employeeID string, perms []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		EmployeeID:  employeeID,
		Permissions: perms,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   employeeID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func ParseToken(secret, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.EmployeeID == "" {
		return nil, errors.New("token has no employee id")
	}
	return claims, nil
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

type claimsKey struct{}

// Authenticate rejects requests without a valid bearer token. The caller's
// employee id also becomes the actor recorded on events.
func Authenticate(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "bearer token required", nil)
				return
			}

			claims, err := ParseToken(secret, token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token", nil)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			ctx = leave.ContextWithActor(ctx, claims.EmployeeID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func RequirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFrom(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required", nil)
				return
			}
			if !claims.Has(perm) {
				writeError(w, http.StatusForbidden, "forbidden", "insufficient permissions", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	return claims, ok
}

// canActFor reports whether the caller may read employeeID's data.
func canActFor(ctx context.Context, employeeID string) bool {
	claims, ok := ClaimsFrom(ctx)
	if !ok {
		return false
	}
	return claims.EmployeeID == employeeID || claims.Has(PermAbsencesManage)
}
