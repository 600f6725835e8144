// Package token подписывает и проверяет короткоживущие токены доступа к relay.
// Ключ подписи HS256 это SHA256(write key): клиент выводит его из секрета
// владельца, relay получает его при регистрации владельца.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iudanet/gophsync/pkg/api"
)

// Issuer издатель токенов
const Issuer = "gophsync"

// DefaultTTL время жизни токена: токен подписывается на каждый запрос
const DefaultTTL = 2 * time.Minute

// ErrInvalidToken токен не прошел проверку
var ErrInvalidToken = errors.New("invalid token")

// Claims представляет JWT claims. Subject - идентификатор владельца.
type Claims struct {
	jwt.RegisteredClaims
}

// KeyLookup возвращает ключ подписи владельца
type KeyLookup func(owner api.OwnerID) ([]byte, error)

// Sign создает новый JWT access token для владельца
func Sign(tokenKey []byte, owner api.OwnerID, ttl time.Duration) (string, error) {
	if len(tokenKey) == 0 {
		return "", fmt.Errorf("token key cannot be empty")
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   owner.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
			Issuer:    Issuer,
		},
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(tokenKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify валидирует токен и возвращает владельца.
// Ошибки lookup (например, неизвестный владелец) доступны через errors.Is.
func Verify(tokenString string, lookup KeyLookup) (api.OwnerID, error) {
	var owner api.OwnerID

	t, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		// Проверяем что используется правильный алгоритм подписи
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}

		claims, ok := t.Claims.(*Claims)
		if !ok {
			return nil, ErrInvalidToken
		}
		id, err := api.ParseOwnerID(claims.Subject)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
		}
		owner = id
		return lookup(id)
	},
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			return api.OwnerID{}, err
		}
		return api.OwnerID{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !t.Valid {
		return api.OwnerID{}, ErrInvalidToken
	}

	return owner, nil
}
