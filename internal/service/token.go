package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken любой отказ в разборе access токена.
var ErrInvalidToken = errors.New("невалидный access токен")

// Часы сервиса авторизации и наши расходятся на секунды.
const tokenLeeway = 30 * time.Second

// accessClaims формат access токена сервиса авторизации: sub = id пользователя.
type accessClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenManager проверяет access токены, выпущенные сервисом авторизации.
// Выпуск токенов здесь нужен только тестам и локальной отладке.
type TokenManager struct {
	secret []byte
	now    func() time.Time
}

func NewTokenManager(secret string) *TokenManager {
	return &TokenManager{secret: []byte(secret), now: time.Now}
}

func (m *TokenManager) Issue(userID uuid.UUID, role string, ttl time.Duration) (string, error) {
	now := m.now()
	claims := accessClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// ParseAccess возвращает пользователя и роль. Токен без exp не принимается.
func (m *TokenManager) ParseAccess(token string) (uuid.UUID, string, error) {
	var claims accessClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(tokenLeeway),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("%w: sub: %w", ErrInvalidToken, err)
	}
	return userID, claims.Role, nil
}
