// Package auth resolves caller credentials to durable identities. The
// coordinator never sees tokens, only resolved actors.
package auth

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/ride-lifecycle/internal/models"
)

// Error marks an authentication failure; the API surfaces it as 401.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return "unauthenticated: " + e.Reason }
func (e *Error) Code() string  { return "UNAUTHENTICATED" }

// Provider maps a bearer credential to an actor.
type Provider interface {
	Resolve(ctx context.Context, credential string) (models.Actor, error)
}

type claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// JWTProvider verifies HS256 tokens whose subject is the durable user id
// and whose role claim names the actor role. One parser is built at
// construction and shared for the life of the process.
type JWTProvider struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWTProvider(secret string) *JWTProvider {
	return &JWTProvider{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

func (p *JWTProvider) Resolve(ctx context.Context, credential string) (models.Actor, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return models.Actor{}, &Error{Reason: "missing bearer token"}
	}
	if len(p.secret) == 0 {
		return models.Actor{}, &Error{Reason: "jwt secret not configured"}
	}

	c := &claims{}
	parsed, err := p.parser.ParseWithClaims(credential, c, func(t *jwt.Token) (any, error) {
		return p.secret, nil
	})
	if err != nil {
		return models.Actor{}, &Error{Reason: err.Error()}
	}
	if !parsed.Valid {
		return models.Actor{}, &Error{Reason: "invalid token"}
	}
	if c.Subject == "" {
		return models.Actor{}, &Error{Reason: "subject claim required"}
	}

	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return models.Actor{}, &Error{Reason: fmt.Sprintf("subject %q is not a user id", c.Subject)}
	}

	role := models.Role(strings.ToUpper(strings.TrimSpace(c.Role)))
	switch role {
	case models.RoleRequester, models.RoleFulfiller, models.RoleAdmin:
	default:
		return models.Actor{}, &Error{Reason: fmt.Sprintf("unknown role %q", c.Role)}
	}

	return models.Actor{ID: id, Role: role}, nil
}
