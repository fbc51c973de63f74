package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "voxel-core"

// minSecretLen минимальная длина ключа подписи HS256 в байтах
const minSecretLen = 32

// ErrInvalidToken токен не прошёл проверку
var ErrInvalidToken = errors.New("недействительный токен")

// Claims поля токена оператора
type Claims struct {
	OperatorID uint64 `json:"operator_id"`
	Username   string `json:"username"`
	IsAdmin    bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// TokenManager выпускает и проверяет токены операторов (HS256)
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager создаёт менеджер. secret - base64 не короче 32 байт
// после декодирования. Пустой secret заменяется случайным ключом:
// выданные токены перестают действовать после перезапуска.
func NewTokenManager(secret string, ttl time.Duration) (*TokenManager, error) {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	var key []byte
	if secret == "" {
		key = make([]byte, minSecretLen)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("генерация ключа: %w", err)
		}
	} else {
		decoded, err := base64.StdEncoding.DecodeString(secret)
		if err != nil {
			return nil, fmt.Errorf("ключ подписи не в base64: %w", err)
		}
		if len(decoded) < minSecretLen {
			return nil, fmt.Errorf("ключ подписи короче %d байт", minSecretLen)
		}
		key = decoded
	}
	return &TokenManager{secret: key, ttl: ttl, now: time.Now}, nil
}

// TTL время жизни выпускаемых токенов
func (m *TokenManager) TTL() time.Duration { return m.ttl }

// Generate выпускает токен оператора
func (m *TokenManager) Generate(op *Operator) (string, error) {
	now := m.now()
	claims := &Claims{
		OperatorID: op.ID,
		Username:   op.Username,
		IsAdmin:    op.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   op.Username,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Validate проверяет подпись, срок и издателя и возвращает поля токена
func (m *TokenManager) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("неожиданный метод подписи %v", token.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(m.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// GenerateSecureSecret новый случайный ключ подписи в base64
func GenerateSecureSecret() string {
	b := make([]byte, minSecretLen)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(b)
}
