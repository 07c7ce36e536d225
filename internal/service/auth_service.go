package service

import (
	"errors"
	"strings"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Servicio que valida los tokens que emite el servicio de autenticación.
// Los tokens son JWT HS256 firmados con un secreto compartido, así que acá
// no hace falta llamar al microservicio de auth en cada request.
type AuthService struct {
	secret string
}

type AuthUser struct {
	ID        string
	Name      string
	Role      string // buyer | seller | agent | admin
	AgentType string // solo para role=agent
}

func NewAuthService(secret string) *AuthService {
	return &AuthService{secret: secret}
}

type authClaims struct {
	Name      string `json:"name"`
	Role      string `json:"role"`
	AgentType string `json:"agent_type"`
	jwt.RegisteredClaims
}

// ValidateToken verifica firma y expiración y devuelve el usuario.
func (a *AuthService) ValidateToken(token string) (*AuthUser, error) {
	if a.secret == "" {
		return nil, errors.New("jwt secret is empty")
	}

	var claims authClaims
	tok, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(a.secret), nil
	})
	if err != nil || !tok.Valid {
		if err == nil {
			err = errors.New("invalid token")
		}
		return nil, err
	}

	if claims.Subject == "" || claims.Role == "" {
		return nil, errors.New("invalid claims")
	}

	return &AuthUser{
		ID:        claims.Subject,
		Name:      claims.Name,
		Role:      strings.ToLower(claims.Role),
		AgentType: claims.AgentType,
	}, nil
}

// IsAdmin: permiso total sobre órdenes ajenas.
func (a *AuthService) IsAdmin(user *AuthUser) bool {
	return user.Role == "admin"
}
