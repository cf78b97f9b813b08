package services

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"vigia/internal/core/domain"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrUnauthorized = errors.New("unauthorized")
)

// AuthService issues and validates the tokens presented on the signaling
// channel handshake. The role claim decides which events the server will
// relay for the connection.
type AuthService interface {
	GenerateToken(identity domain.Identity) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
}

type Claims struct {
	UserID int64       `json:"user_id"`
	Email  string      `json:"email"`
	Role   domain.Role `json:"role"`
	TeamID *int64      `json:"team_id,omitempty"`
	jwt.RegisteredClaims
}

// Identity rebuilds the domain identity carried by the claims.
func (c *Claims) Identity() domain.Identity {
	return domain.Identity{
		UserID: domain.UserID(c.UserID),
		Email:  c.Email,
		Role:   c.Role,
		TeamID: c.TeamID,
	}
}

type authService struct {
	jwtSecret      []byte
	accessTokenTTL time.Duration
}

func NewAuthService(jwtSecret string, accessTokenTTL time.Duration) AuthService {
	return &authService{
		jwtSecret:      []byte(jwtSecret),
		accessTokenTTL: accessTokenTTL,
	}
}

func (s *authService) GenerateToken(identity domain.Identity) (string, error) {
	claims := &Claims{
		UserID: int64(identity.UserID),
		Email:  identity.Email,
		Role:   identity.Role,
		TeamID: identity.TeamID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.accessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ParseIdentity extracts the identity claims without verifying the
// signature. Clients use it to learn who their token says they are; the
// server always verifies.
func ParseIdentity(tokenString string) (domain.Identity, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return domain.Identity{}, ErrInvalidToken
	}
	return claims.Identity(), nil
}

func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}
