package auth

import (
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashPassword_RoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cret", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if hash == "s3cret" {
		t.Fatal("hash must not equal the plain password")
	}

	if err := ComparePassword("s3cret", hash); err != nil {
		t.Errorf("ComparePassword() error = %v, want nil", err)
	}
	if err := ComparePassword("wrong", hash); !errors.Is(err, ErrPasswordMismatch) {
		t.Errorf("ComparePassword(wrong) error = %v, want ErrPasswordMismatch", err)
	}
}

func TestHashPassword_Empty(t *testing.T) {
	if _, err := HashPassword("", bcrypt.MinCost); !errors.Is(err, ErrEmptyPassword) {
		t.Fatalf("error = %v, want ErrEmptyPassword", err)
	}
}

func TestHashPassword_LowCostFallsBackToDefault(t *testing.T) {
	hash, err := HashPassword("s3cret", 0)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		t.Fatalf("bcrypt.Cost() error = %v", err)
	}
	if cost != bcrypt.DefaultCost {
		t.Errorf("cost = %d, want %d", cost, bcrypt.DefaultCost)
	}
}

func TestComparePassword_InvalidHash(t *testing.T) {
	err := ComparePassword("s3cret", "not-a-bcrypt-hash")
	if err == nil || errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("error = %v, want non-mismatch error", err)
	}
}
