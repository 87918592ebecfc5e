package token

/*
Файл codec.go реализует самодостаточный токен заявки для stateless-режима.

Токен — компактный JWS (HS256): base64url(header).base64url(payload).base64url(tag).
Все части в URL-безопасном алфавите без паддинга, поэтому токен помещается
в один сегмент пути. Полезная нагрузка сериализуется в фиксированном порядке полей.
Серверного состояния нет: защита от повторного решения лежит на оркестраторе.
*/

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/release-approval-gate/internal/domain"
)

// MinSecretLen — минимальная длина секрета подписи (256 бит для HS256).
const MinSecretLen = 32

const issuer = "release-approval-gate"

// Payload — содержимое токена.
type Payload struct {
	ExecutionID    string
	ReleaseID      string
	Recommendation string
	CreatedAt      time.Time
}

// approvalClaims задает порядок полей при сериализации.
type approvalClaims struct {
	ExecutionID    string `json:"eid"`
	ReleaseID      string `json:"rid"`
	Recommendation string `json:"rec"`
	CreatedSec     int64  `json:"cat"`  // Unix-секунды
	CreatedNsec    int32  `json:"catn"` // Наносекунды внутри секунды; пара покрывает весь диапазон time.Time
	jwt.RegisteredClaims
}

type Codec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

type Option func(*Codec)

// WithTTL ограничивает срок жизни токена. 0 — бессрочно.
func WithTTL(ttl time.Duration) Option {
	return func(c *Codec) { c.ttl = ttl }
}

// WithClock подменяет часы (для тестов).
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

func NewCodec(secret []byte, opts ...Option) (*Codec, error) {
	if len(secret) < MinSecretLen {
		return nil, fmt.Errorf("token: signing secret must be at least %d bytes", MinSecretLen)
	}
	c := &Codec{
		secret: append([]byte(nil), secret...),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Encode подписывает полезную нагрузку и возвращает токен.
func (c *Codec) Encode(p Payload) (string, error) {
	for name, v := range map[string]string{
		"execution_id":   p.ExecutionID,
		"release_id":     p.ReleaseID,
		"recommendation": p.Recommendation,
	} {
		if !utf8.ValidString(v) {
			return "", fmt.Errorf("%w: %s is not valid UTF-8", domain.ErrValidation, name)
		}
	}

	claims := approvalClaims{
		ExecutionID:    p.ExecutionID,
		ReleaseID:      p.ReleaseID,
		Recommendation: p.Recommendation,
		CreatedSec:     p.CreatedAt.Unix(),
		CreatedNsec:    int32(p.CreatedAt.Nanosecond()),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: issuer,
		},
	}
	if c.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(c.now().Add(c.ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("token: failed to sign: %w", err)
	}
	return signed, nil
}

// Decode проверяет подпись (сравнение за постоянное время) и возвращает
// исходную нагрузку. Любая ошибка — ErrInvalidToken без уточнений.
func (c *Codec) Decode(tokenStr string) (Payload, error) {
	claims := &approvalClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims,
		func(t *jwt.Token) (interface{}, error) {
			return c.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithStrictDecoding(),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return Payload{}, domain.ErrInvalidToken
	}

	return Payload{
		ExecutionID:    claims.ExecutionID,
		ReleaseID:      claims.ReleaseID,
		Recommendation: claims.Recommendation,
		CreatedAt:      time.Unix(claims.CreatedSec, int64(claims.CreatedNsec)).UTC(),
	}, nil
}
