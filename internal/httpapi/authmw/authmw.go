// Package authmw verifies the bearer JWT every authenticated route requires,
// adapted from qlp-hq-QLP's api-gateway AuthMiddleware: same Bearer-prefix
// parsing and HMAC signing-method check, retargeted from a raw
// http.Handler wrapper to a gin.HandlerFunc and from generic tenant/scope
// claims to this domain's organization_id/role claims.
package authmw

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zks-samoprocjena/compliance-engine/internal/apperr"
)

// User is the identity extracted from a verified token and stashed in the
// gin context for handlers to read.
type User struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Roles          []string
}

const contextKey = "zks_user"

// HasRole reports whether the user carries the given role.
func (u User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type Middleware struct {
	secret []byte
	logger *zap.Logger
}

func New(hmacSecret string, logger *zap.Logger) *Middleware {
	return &Middleware{secret: []byte(hmacSecret), logger: logger}
}

// Authenticate parses and verifies the Authorization header, rejecting a
// request with no organization_id claim — every operation in this system is
// organization-scoped, so a token without one cannot perform any.
func (m *Middleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			m.reject(c, "missing authorization header")
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			m.reject(c, "malformed authorization header")
			return
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return m.secret, nil
		})
		if err != nil || !token.Valid {
			m.logger.Warn("jwt verification failed", zap.Error(err))
			m.reject(c, "invalid token")
			return
		}

		user, err := userFromClaims(claims)
		if err != nil {
			m.logger.Warn("jwt claims rejected", zap.Error(err))
			m.reject(c, err.Error())
			return
		}

		c.Set(contextKey, user)
		c.Next()
	}
}

func userFromClaims(claims jwt.MapClaims) (User, error) {
	sub, _ := claims["sub"].(string)
	userID, err := uuid.Parse(sub)
	if err != nil {
		return User{}, errors.New("missing or invalid sub claim")
	}

	orgRaw, _ := claims["organization_id"].(string)
	orgID, err := uuid.Parse(orgRaw)
	if err != nil {
		return User{}, errors.New("missing or invalid organization_id claim")
	}

	var roles []string
	if raw, ok := claims["roles"].([]interface{}); ok {
		for _, r := range raw {
			if s, ok := r.(string); ok {
				roles = append(roles, s)
			}
		}
	}

	return User{ID: userID, OrganizationID: orgID, Roles: roles}, nil
}

func (m *Middleware) reject(c *gin.Context, reason string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": reason})
}

// RequireRole aborts with 403 unless the authenticated user carries role.
// Must run after Authenticate.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := FromContext(c)
		if !ok || !user.HasRole(role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": apperr.ErrForbidden.Error()})
			return
		}
		c.Next()
	}
}

// FromContext retrieves the authenticated user stashed by Authenticate.
func FromContext(c *gin.Context) (User, bool) {
	v, ok := c.Get(contextKey)
	if !ok {
		return User{}, false
	}
	user, ok := v.(User)
	return user, ok
}
