// Package member はメンバーの登録、プロフィール参照、管理者による状態変更を提供する。
package member

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/hitoshi/snapboard/internal/auth"
	"github.com/hitoshi/snapboard/internal/model"
	"github.com/hitoshi/snapboard/internal/repository"
	"github.com/hitoshi/snapboard/internal/storage"
)

// RegisterInput はメンバー登録の入力値。
type RegisterInput struct {
	Username  string
	Password  string
	Email     string
	FirstName string
	LastName  string
	Photo     *storage.Object // 任意のプロフィール画像
}

// Config はMemberサービスの設定。
type Config struct {
	BcryptCost int              // 0の場合はbcrypt.DefaultCost
	PresignTTL time.Duration    // プロフィール画像URLの有効期間
	Now        func() time.Time // 現在時刻の取得関数。nilの場合はtime.Now
}

// Service はメンバー管理のサービス層。
type Service struct {
	members    repository.MemberRepository
	objects    storage.ObjectStore
	bcryptCost int
	presignTTL time.Duration
	now        func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(members repository.MemberRepository, objects storage.ObjectStore, cfg Config) *Service {
	s := &Service{
		members:    members,
		objects:    objects,
		bcryptCost: cfg.BcryptCost,
		presignTTL: cfg.PresignTTL,
		now:        cfg.Now,
	}
	if s.presignTTL <= 0 {
		s.presignTTL = 10 * time.Minute
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Register はメンバーを登録する。
// ユーザー名・メールアドレスが既に使われている場合はCONFLICTを返す。
// 事前チェックをすり抜けた同時登録は一意制約違反として検出する。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.Member, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)

	if in.Username == "" || in.Email == "" || in.Password == "" {
		return nil, model.NewInvalidArgumentError("ユーザー名、メールアドレス、パスワードは必須です")
	}

	// 1. 重複チェック
	exists, err := s.members.ExistsByID(ctx, in.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to check username: %w", err)
	}
	if exists {
		return nil, model.NewConflictError("このユーザー名は既に使われています。")
	}
	exists, err = s.members.ExistsByEmail(ctx, in.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}
	if exists {
		return nil, model.NewConflictError("このメールアドレスは既に登録されています。")
	}

	// 2. パスワードをハッシュ化
	hash, err := auth.HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	// 3. プロフィール画像をアップロード
	var imageKey string
	if in.Photo != nil && len(in.Photo.Data) > 0 {
		imageKey, err = s.objects.Upload(ctx, *in.Photo, storage.KindProfilePhoto, in.Username)
		if err != nil {
			return nil, err
		}
	}

	// 4. メンバーを作成
	m := &model.Member{
		ID:           in.Username,
		PasswordHash: hash,
		Enabled:      true,
		Email:        in.Email,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		ImageKey:     imageKey,
		Roles:        []string{model.RoleUser},
		CreatedAt:    s.now(),
	}
	if err := s.members.Create(ctx, m); err != nil {
		s.discardPhoto(ctx, imageKey)
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewConflictError("ユーザー名またはメールアドレスは既に使われています。")
		}
		return nil, fmt.Errorf("failed to create member: %w", err)
	}

	slog.Info("member registered", slog.String("user_id", m.ID))
	return m, nil
}

// GetProfile は指定メンバーの公開プロフィールを返す。
// プロフィール画像が未設定、またはURLの生成に失敗した場合はProfilePicを空にする。
func (s *Service) GetProfile(ctx context.Context, username string) (*model.Profile, error) {
	m, err := s.members.FindByID(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to find member: %w", err)
	}
	if m == nil {
		return nil, model.NewMemberNotFoundError(username)
	}

	profile := &model.Profile{
		Username: m.ID,
		FullName: m.FullName(),
	}
	if m.ImageKey != "" {
		url, err := s.objects.PresignReadURL(ctx, m.ImageKey, s.presignTTL)
		if err != nil {
			slog.Warn("failed to presign profile photo",
				slog.String("user_id", m.ID),
				slog.String("error", err.Error()),
			)
		} else {
			profile.ProfilePic = url
		}
	}
	return profile, nil
}

// SetStatus は管理者によるメンバーの有効フラグ・ロールの変更を行う。
// enabledがnilの場合は有効フラグを、rolesが空の場合はロールを変更しない。
func (s *Service) SetStatus(ctx context.Context, admin *model.Principal, username string, enabled *bool, roles []string) (*model.Member, error) {
	if admin == nil {
		return nil, model.NewUnauthorizedError()
	}
	if !admin.HasRole(model.RoleAdmin) {
		return nil, model.NewForbiddenError("管理者権限が必要です")
	}
	for _, r := range roles {
		if r != model.RoleUser && r != model.RoleAdmin {
			return nil, model.NewInvalidArgumentError(fmt.Sprintf("未定義のロールです: %s", r))
		}
	}

	m, err := s.members.FindByID(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to find member: %w", err)
	}
	if m == nil {
		return nil, model.NewMemberNotFoundError(username)
	}

	if enabled != nil {
		m.Enabled = *enabled
	}
	if len(roles) > 0 {
		m.Roles = slices.Compact(slices.Sorted(slices.Values(roles)))
	}

	if err := s.members.Update(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to update member: %w", err)
	}

	slog.Info("member status changed",
		slog.String("user_id", m.ID),
		slog.String("admin_id", admin.ID),
		slog.Bool("enabled", m.Enabled),
		slog.String("roles", strings.Join(m.Roles, ",")),
	)
	return m, nil
}

func (s *Service) discardPhoto(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.objects.Delete(ctx, key); err != nil {
		slog.Warn("failed to delete profile photo after registration failure",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}
