package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrEmptyPassword は空のパスワードをハッシュ化しようとした場合のエラー。
	ErrEmptyPassword = errors.New("auth: password must not be empty")
	// ErrPasswordMismatch はパスワードとハッシュが一致しない場合のエラー。
	ErrPasswordMismatch = errors.New("auth: password does not match hash")
)

// HashPassword はbcryptでパスワードハッシュを生成する。
// costがbcrypt.MinCost未満の場合はbcrypt.DefaultCostを使用する。
func HashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}

	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(h), nil
}

// ComparePassword は平文パスワードがハッシュと一致するかを検証する。
// 不一致の場合はErrPasswordMismatchを返す。
func ComparePassword(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPasswordMismatch
		}
		return fmt.Errorf("failed to compare password: %w", err)
	}
	return nil
}
