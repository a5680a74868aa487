// Package token はセッション用の署名付きトークン（JWT, HS512）の発行と検証を提供する。
// サーバー側にセッションを保存しないステートレス認証の基盤となる。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingSecret は署名鍵が設定されていない場合のエラー。
	ErrMissingSecret = errors.New("token: signing secret is not configured")
	// ErrMalformed はトークンの形式が不正な場合のエラー。
	ErrMalformed = errors.New("token: malformed")
	// ErrInvalidSignature は署名が一致しない場合のエラー。
	ErrInvalidSignature = errors.New("token: invalid signature")
	// ErrExpired は有効期限切れのエラー。
	ErrExpired = errors.New("token: expired")
)

// Claims はトークンから復元した主体と発行・失効時刻。
type Claims struct {
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Option はCodecの生成オプション。
type Option func(*Codec)

// WithClock は検証時に使用する現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// Codec は対称鍵によるトークンの署名と検証を行う。
// 鍵は生成時に一度だけ設定され、以降は読み取り専用のためロックは不要。
type Codec struct {
	key    []byte
	now    func() time.Time
	parser *jwt.Parser
}

// NewCodec はCodecを生成する。秘密鍵が空の場合は起動を失敗させるためエラーを返す。
func NewCodec(secret []byte, opts ...Option) (*Codec, error) {
	if len(secret) == 0 {
		return nil, ErrMissingSecret
	}

	c := &Codec{
		key: append([]byte(nil), secret...),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return c.now() }),
	)

	return c, nil
}

// Issue はsubjectに対してissuedAtからttl後に失効するトークンを発行する。
// 有効期間の長さは呼び出し側が設定値として渡す。
func (c *Codec) Issue(subject string, issuedAt time.Time, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("token: subject is required")
	}

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Decode はトークンの署名を検証したうえでクレームを返す。
// 署名検証はクレーム（有効期限）の検証より先に行われる。
func (c *Codec) Decode(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrMalformed
	}

	claims := &jwt.RegisteredClaims{}
	_, err := c.parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return c.key, nil
	})
	if err != nil {
		return nil, classify(err)
	}

	if claims.Subject == "" || claims.ExpiresAt == nil {
		return nil, ErrMalformed
	}

	decoded := &Claims{
		Subject:   claims.Subject,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		decoded.IssuedAt = claims.IssuedAt.Time
	}
	return decoded, nil
}

// classify はjwtライブラリのエラーをパッケージのエラーに変換する。
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
