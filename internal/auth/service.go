// Package auth はパスワード認証と、署名付きトークンによるステートレスなセッション管理を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/snapboard/internal/model"
	"github.com/hitoshi/snapboard/internal/token"
)

// DefaultTokenTTL はトークンの既定の有効期間。
const DefaultTokenTTL = 7 * time.Hour

// CredentialStore はメンバーの認証情報を参照するためのインターフェース。
// repository.MemberRepositoryの部分集合として定義する。
type CredentialStore interface {
	FindByID(ctx context.Context, id string) (*model.Member, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	TokenTTL time.Duration    // トークン有効期間。0の場合はDefaultTokenTTL
	Now      func() time.Time // 現在時刻の取得関数。nilの場合はtime.Now
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	members CredentialStore
	codec   *token.Codec
	ttl     time.Duration
	now     func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewService はServiceを生成する。
func NewService(members CredentialStore, codec *token.Codec, config ServiceConfig) *Service {
	s := &Service{
		members: members,
		codec:   codec,
		ttl:     config.TokenTTL,
		now:     config.Now,
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTokenTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// TokenTTL はトークンの有効期間を返す。Cookieのmax-ageに使用する。
func (s *Service) TokenTTL() time.Duration {
	return s.ttl
}

// Authenticate はユーザー名とパスワードを検証し、Principalを返す。
// 存在しないユーザーとパスワード不一致はどちらもINVALID_CREDENTIALSとして返し、区別しない。
// 無効化されたアカウントはパスワードが一致した場合にのみACCOUNT_DISABLEDとなる。
func (s *Service) Authenticate(ctx context.Context, username, password string) (*model.Principal, error) {
	// 1. メンバーを取得
	member, err := s.members.FindByID(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to find member: %w", err)
	}

	// 2. 未登録ユーザーでも比較処理を行い、応答時間の差をなくす
	if member == nil {
		_ = ComparePassword(password, s.dummyPasswordHash())
		return nil, model.NewInvalidCredentialsError()
	}

	// 3. パスワードを検証
	if err := ComparePassword(password, member.PasswordHash); err != nil {
		if !errors.Is(err, ErrPasswordMismatch) {
			slog.Warn("password comparison failed",
				slog.String("user_id", member.ID),
				slog.String("error", err.Error()),
			)
		}
		return nil, model.NewInvalidCredentialsError()
	}

	// 4. 有効フラグを検証
	if !member.Enabled {
		return nil, model.NewAccountDisabledError()
	}

	return model.NewPrincipal(member), nil
}

// IssueToken は現在時刻を発行時刻としてトークンを発行し、トークンと失効時刻を返す。
func (s *Service) IssueToken(principal *model.Principal) (string, time.Time, error) {
	if principal == nil {
		return "", time.Time{}, fmt.Errorf("principal is required")
	}

	issuedAt := s.now()
	tok, err := s.codec.Issue(principal.ID, issuedAt, s.ttl)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to issue token: %w", err)
	}
	return tok, issuedAt.Add(s.ttl), nil
}

// RefreshToken は認証済みのPrincipalに対して新しい有効期限のトークンを再発行する。
func (s *Service) RefreshToken(principal *model.Principal) (string, time.Time, error) {
	return s.IssueToken(principal)
}

// Validate はトークンが有効で、主体がexpectedPrincipalIDと一致する場合にのみtrueを返す。
func (s *Service) Validate(tokenString, expectedPrincipalID string) bool {
	claims, err := s.codec.Decode(tokenString)
	if err != nil {
		return false
	}
	return expectedPrincipalID != "" && claims.Subject == expectedPrincipalID
}

// Decode はトークンを検証してクレームを返す。
// エラーはtoken.ErrMalformed、token.ErrInvalidSignature、token.ErrExpiredのいずれかをラップする。
func (s *Service) Decode(tokenString string) (*token.Claims, error) {
	return s.codec.Decode(tokenString)
}

// LoadPrincipal はメンバーの現在の状態からPrincipalを解決する。
// メンバーが存在しない場合はnilを返す。
func (s *Service) LoadPrincipal(ctx context.Context, id string) (*model.Principal, error) {
	member, err := s.members.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find member: %w", err)
	}
	if member == nil {
		return nil, nil
	}
	return model.NewPrincipal(member), nil
}

// dummyPasswordHash は未登録ユーザーの比較に使うハッシュを遅延生成する。
func (s *Service) dummyPasswordHash() string {
	s.dummyOnce.Do(func() {
		h, err := HashPassword(uuid.New().String(), bcrypt.DefaultCost)
		if err != nil {
			slog.Error("failed to generate dummy password hash", slog.String("error", err.Error()))
			return
		}
		s.dummyHash = h
	})
	return s.dummyHash
}
