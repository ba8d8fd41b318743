package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/flicky/go-checkout-api/internal/dto"
	"github.com/flicky/go-checkout-api/internal/model"
)

const callerKey = "caller"

var (
	ErrNoCredentials = errors.New("no credentials")
	ErrInvalidToken  = errors.New("invalid token")
)

// Caller is the identity established for a request.
type Caller struct {
	UserID uuid.UUID
	Role   model.Role
}

// CallerResolver establishes who is making a request.
type CallerResolver interface {
	ResolveCaller(r *http.Request) (Caller, error)
}

// TokenResolver reads a JWT from the session cookie, falling back to an
// Authorization: Bearer header.
type TokenResolver struct {
	secret     []byte
	cookieName string
}

func NewTokenResolver(secret, cookieName string) *TokenResolver {
	return &TokenResolver{secret: []byte(secret), cookieName: cookieName}
}

func (r *TokenResolver) ResolveCaller(req *http.Request) (Caller, error) {
	raw := ""
	if cookie, err := req.Cookie(r.cookieName); err == nil && cookie.Value != "" {
		raw = cookie.Value
	} else if header := req.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		raw = strings.TrimPrefix(header, "Bearer ")
	}
	if raw == "" {
		return Caller{}, ErrNoCredentials
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		return r.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return Caller{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Caller{}, ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	userID, err := uuid.Parse(sub)
	if err != nil {
		return Caller{}, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	role, _ := claims["role"].(string)
	return Caller{UserID: userID, Role: model.Role(role)}, nil
}

func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, dto.NewErrorResponse(status, message, c.Request.URL.Path))
}

func Authenticate(resolver CallerResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, err := resolver.ResolveCaller(c.Request)
		if err != nil {
			abort(c, http.StatusUnauthorized, "authentication required")
			return
		}
		c.Set(callerKey, caller)
		c.Next()
	}
}

func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetCaller(c).Role != model.RoleAdmin {
			abort(c, http.StatusForbidden, "admin only")
			return
		}
		c.Next()
	}
}

func GetCaller(c *gin.Context) Caller {
	v, _ := c.Get(callerKey)
	caller, _ := v.(Caller)
	return caller
}

func GetUserID(c *gin.Context) uuid.UUID {
	return GetCaller(c).UserID
}
