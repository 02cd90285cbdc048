package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ridewell/ridewell/internal/model"
)

type contextKey string

const (
	actorIDKey contextKey = "actorID"
	roleKey    contextKey = "role"
)

// Actor is the authenticated identity a lifecycle operation trusts.
// Token issuance happens elsewhere; this middleware only verifies and
// extracts.
type Actor struct {
	ID   uuid.UUID
	Role model.Role
}

func actorFrom(ctx context.Context) (Actor, bool) {
	id, ok := ctx.Value(actorIDKey).(uuid.UUID)
	if !ok {
		return Actor{}, false
	}
	role, ok := ctx.Value(roleKey).(model.Role)
	if !ok {
		return Actor{}, false
	}
	return Actor{ID: id, Role: role}, true
}

// Authenticated parses the bearer token and injects actor id and role
// into the request context.
func Authenticated(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				respondError(w, http.StatusUnauthorized, "unauthorized", "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				respondError(w, http.StatusUnauthorized, "unauthorized", "invalid authorization header")
				return
			}

			token, err := jwt.Parse(parts[1], func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrTokenSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				respondError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				respondError(w, http.StatusUnauthorized, "unauthorized", "invalid token claims")
				return
			}
			sub, _ := claims["sub"].(string)
			actorID, err := uuid.Parse(sub)
			if err != nil {
				respondError(w, http.StatusUnauthorized, "unauthorized", "invalid token subject")
				return
			}
			roleClaim, _ := claims["role"].(string)
			role := model.Role(roleClaim)
			if role != model.RoleCustomer && role != model.RoleDriver && role != model.RoleAdmin {
				respondError(w, http.StatusUnauthorized, "unauthorized", "invalid token role")
				return
			}

			ctx := context.WithValue(r.Context(), actorIDKey, actorID)
			ctx = context.WithValue(ctx, roleKey, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
