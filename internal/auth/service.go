package auth

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var errTokenInvalid = errors.New("token invalid")

// Service verifies identity credentials issued by the auth collaborator.
type Service struct {
	secret []byte
}

type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

func NewService(secret string) *Service {
	return &Service{secret: []byte(secret)}
}

// ValidateAccessToken returns the user id carried by a valid HS256 token.
// A "Bearer " prefix is tolerated.
func (s *Service) ValidateAccessToken(token string) (string, error) {
	if t := bearerFromHeader(token); t != "" {
		token = t
	}
	claims, err := s.parseToken(strings.TrimSpace(token))
	if err != nil {
		return "", err
	}
	if claims.UserID == "" {
		return "", errTokenInvalid
	}
	return claims.UserID, nil
}

func (s *Service) parseToken(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errTokenInvalid
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errTokenInvalid
	}
	return claims, nil
}
