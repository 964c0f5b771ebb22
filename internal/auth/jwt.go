// internal/auth/jwt.go
package auth

import (
	"cashledger/internal/config"
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type TokenService struct {
	secretKey []byte
	expiresIn time.Duration
}

func NewTokenService(cfg config.Config) *TokenService {
	return &TokenService{
		secretKey: []byte(cfg.JWTSecret),
		expiresIn: cfg.JWTExpiresIn,
	}
}

func (s *TokenService) GenerateToken(userID int64) (string, error) {
	expTime := time.Now().Add(s.expiresIn)
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     expTime.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(s.secretKey)
	if err == nil {
		slog.Debug("JWT generated", "user_id", userID, "expires_at", expTime.Format(time.RFC3339))
	}
	return tokenStr, err
}

func (s *TokenService) ParseToken(tokenStr string) (int64, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secretKey, nil
	})
	if err != nil {
		return 0, err
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		if userIDFloat, ok := claims["user_id"].(float64); ok {
			userID := int64(userIDFloat)
			if userID <= 0 {
				return 0, errors.New("invalid user_id")
			}
			return userID, nil
		}
	}
	return 0, errors.New("invalid token claims")
}
