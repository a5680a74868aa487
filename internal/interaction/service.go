// Package interaction は投稿へのいいね・保存のトグル、所有者チェック付きの削除・更新、
// スレッド形式のコメント、フィード表示を提供する。
// すべての操作は認証済みのPrincipalを明示的な引数として受け取る。
package interaction

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/snapboard/internal/metrics"
	"github.com/hitoshi/snapboard/internal/model"
	"github.com/hitoshi/snapboard/internal/repository"
	"github.com/hitoshi/snapboard/internal/security"
	"github.com/hitoshi/snapboard/internal/storage"
)

// DefaultPresignTTL は画像URLの既定の有効期間。
const DefaultPresignTTL = 10 * time.Minute

// Config はInteractionサービスの設定。
type Config struct {
	PresignTTL time.Duration    // 署名付きURLの有効期間。0の場合はDefaultPresignTTL
	Now        func() time.Time // 現在時刻の取得関数。nilの場合はtime.Now
}

// Service は投稿に対するインタラクションのビジネスロジックを提供する。
type Service struct {
	uow        repository.UnitOfWork
	objects    storage.ObjectStore
	sanitizer  security.TextSanitizer
	metrics    metrics.MetricsCollector
	presignTTL time.Duration
	now        func() time.Time
}

// NewService はServiceを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewService(
	uow repository.UnitOfWork,
	objects storage.ObjectStore,
	sanitizer security.TextSanitizer,
	collector metrics.MetricsCollector,
	cfg Config,
) *Service {
	s := &Service{
		uow:        uow,
		objects:    objects,
		sanitizer:  sanitizer,
		metrics:    collector,
		presignTTL: cfg.PresignTTL,
		now:        cfg.Now,
	}
	if s.metrics == nil {
		s.metrics = metrics.Nop{}
	}
	if s.presignTTL <= 0 {
		s.presignTTL = DefaultPresignTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// CreatePost は画像をアップロードし、投稿を作成する。
// 行の作成に失敗した場合はアップロード済みのオブジェクトを削除する。
func (s *Service) CreatePost(ctx context.Context, principal *model.Principal, image storage.Object, caption string) (*model.PostView, error) {
	if err := requirePrincipal(principal); err != nil {
		return nil, err
	}

	// 1. キャプションを検証
	caption = s.sanitizer.SanitizeText(caption)
	if caption == "" {
		return nil, model.NewInvalidArgumentError("キャプションを入力してください")
	}

	// 2. 画像をアップロード
	key, err := s.objects.Upload(ctx, image, storage.KindPostImage, principal.ID)
	if err != nil {
		return nil, err
	}

	// 3. 投稿を作成
	post := &model.Post{
		ID:        uuid.New().String(),
		OwnerID:   principal.ID,
		Caption:   caption,
		ImageKey:  key,
		CreatedAt: s.now(),
	}
	if err := s.uow.Posts().Create(ctx, post); err != nil {
		s.deleteObjectBestEffort(ctx, key, post.ID)
		return nil, fmt.Errorf("failed to create post: %w", err)
	}

	slog.Info("post created",
		slog.String("post_id", post.ID),
		slog.String("user_id", principal.ID),
	)

	view := s.toView(ctx, model.PostSummary{Post: *post})
	return &view, nil
}

// ToggleLike はいいねの有無を反転し、反転後の状態といいね数を返す。
// 同一Principalからの並行リクエストで作成が競合した場合は、既にいいね済みとして削除に切り替える。
func (s *Service) ToggleLike(ctx context.Context, postID string, principal *model.Principal) (*model.LikeResult, error) {
	if err := requirePrincipal(principal); err != nil {
		return nil, err
	}

	var result model.LikeResult
	err := s.uow.WithinTx(ctx, func(tx repository.Store) error {
		if err := requirePost(ctx, tx, postID); err != nil {
			return err
		}

		liked, err := toggleRelation(ctx, tx.Likes(), postID, principal.ID)
		if err != nil {
			return err
		}

		count, err := tx.Likes().CountByPost(ctx, postID)
		if err != nil {
			return fmt.Errorf("failed to count likes: %w", err)
		}

		result = model.LikeResult{IsNowLiked: liked, LikeCount: count}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordToggle(metrics.ToggleLike, result.IsNowLiked)
	return &result, nil
}

// ToggleSave は保存の有無を反転し、反転後の状態を返す。
func (s *Service) ToggleSave(ctx context.Context, postID string, principal *model.Principal) (bool, error) {
	if err := requirePrincipal(principal); err != nil {
		return false, err
	}

	var saved bool
	err := s.uow.WithinTx(ctx, func(tx repository.Store) error {
		if err := requirePost(ctx, tx, postID); err != nil {
			return err
		}

		var err error
		saved, err = toggleRelation(ctx, tx.Saves(), postID, principal.ID)
		return err
	})
	if err != nil {
		return false, err
	}

	s.metrics.RecordToggle(metrics.ToggleSave, saved)
	return saved, nil
}

// toggleRelation は関連が存在すれば削除、存在しなければ作成し、操作後に関連が存在するかを返す。
// 作成が一意制約に衝突した場合は、並行リクエストが先に作成したものとして削除する。
// 削除対象が既に無かった場合は、並行リクエストが先に削除したものとして作成する。
func toggleRelation(ctx context.Context, repo repository.RelationRepository, postID, memberID string) (bool, error) {
	exists, err := repo.Exists(ctx, postID, memberID)
	if err != nil {
		return false, fmt.Errorf("failed to check relation: %w", err)
	}
	if exists {
		deleted, err := repo.Delete(ctx, postID, memberID)
		if err != nil {
			return false, fmt.Errorf("failed to delete relation: %w", err)
		}
		if deleted {
			return false, nil
		}
		// 既存チェックと削除の間に別リクエストが削除した
		slog.Info("relation delete raced, toggling on",
			slog.String("post_id", postID),
			slog.String("user_id", memberID),
		)
	}

	created, err := repo.Create(ctx, postID, memberID)
	if err != nil {
		if errors.Is(err, repository.ErrMissingReference) {
			return false, model.NewPostNotFoundError(postID)
		}
		return false, fmt.Errorf("failed to create relation: %w", err)
	}
	if created {
		return true, nil
	}

	// 既存チェックと作成の間に別リクエストが作成した
	slog.Info("relation create raced, toggling off",
		slog.String("post_id", postID),
		slog.String("user_id", memberID),
	)
	if _, err := repo.Delete(ctx, postID, memberID); err != nil {
		return false, fmt.Errorf("failed to delete relation: %w", err)
	}
	return false, nil
}

// DeletePost は所有者による投稿の削除を行う。
// 行をトランザクション内で削除・コミットしてから画像を削除する。
// 画像の削除に失敗しても投稿の削除は取り消さず、孤立オブジェクトはクリーンアップジョブが回収する。
func (s *Service) DeletePost(ctx context.Context, postID string, principal *model.Principal) error {
	if err := requirePrincipal(principal); err != nil {
		return err
	}
	if !isUUID(postID) {
		return model.NewPostNotFoundError(postID)
	}

	// 1. 行ロックを取得して所有者を検証し、行を削除
	var imageKey string
	err := s.uow.WithinTx(ctx, func(tx repository.Store) error {
		post, err := tx.Posts().FindByIDForUpdate(ctx, postID)
		if err != nil {
			return fmt.Errorf("failed to find post: %w", err)
		}
		if post == nil {
			return model.NewPostNotFoundError(postID)
		}
		if post.OwnerID != principal.ID {
			return model.NewForbiddenError("投稿の作成者ではありません")
		}

		if err := tx.Posts().Delete(ctx, postID); err != nil {
			return fmt.Errorf("failed to delete post: %w", err)
		}
		imageKey = post.ImageKey
		return nil
	})
	if err != nil {
		return err
	}

	// 2. 画像を削除（失敗はログとメトリクスのみ）
	s.deleteObjectBestEffort(ctx, imageKey, postID)

	slog.Info("post deleted",
		slog.String("post_id", postID),
		slog.String("user_id", principal.ID),
	)
	return nil
}

// UpdateCaption は所有者による投稿キャプションの更新を行う。
func (s *Service) UpdateCaption(ctx context.Context, postID, caption string, principal *model.Principal) error {
	if err := requirePrincipal(principal); err != nil {
		return err
	}

	caption = s.sanitizer.SanitizeText(caption)
	if caption == "" {
		return model.NewInvalidArgumentError("キャプションを入力してください")
	}
	if !isUUID(postID) {
		return model.NewPostNotFoundError(postID)
	}

	return s.uow.WithinTx(ctx, func(tx repository.Store) error {
		post, err := tx.Posts().FindByIDForUpdate(ctx, postID)
		if err != nil {
			return fmt.Errorf("failed to find post: %w", err)
		}
		if post == nil {
			return model.NewPostNotFoundError(postID)
		}
		if post.OwnerID != principal.ID {
			return model.NewForbiddenError("投稿の作成者ではありません")
		}

		if err := tx.Posts().UpdateCaption(ctx, postID, caption); err != nil {
			return fmt.Errorf("failed to update caption: %w", err)
		}
		return nil
	})
}

// ListFeed は全投稿をいいね数の降順、作成日時の降順で返す。
// principalがnilの場合は匿名として扱い、いいね・保存の状態はすべてfalseとなる。
func (s *Service) ListFeed(ctx context.Context, principal *model.Principal) ([]model.PostView, error) {
	summaries, err := s.uow.Posts().ListSummaries(ctx, viewerID(principal))
	if err != nil {
		return nil, fmt.Errorf("failed to list feed: %w", err)
	}

	slices.SortStableFunc(summaries, func(a, b model.PostSummary) int {
		if c := cmp.Compare(b.LikeCount, a.LikeCount); c != 0 {
			return c
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return s.toViews(ctx, summaries), nil
}

// ListPostsByOwner は指定ユーザーの投稿を作成日時の降順で返す。
// いいね・保存の状態は閲覧者であるprincipalの視点で付与する。
func (s *Service) ListPostsByOwner(ctx context.Context, ownerUsername string, principal *model.Principal) ([]model.PostView, error) {
	exists, err := s.uow.Members().ExistsByID(ctx, ownerUsername)
	if err != nil {
		return nil, fmt.Errorf("failed to check member: %w", err)
	}
	if !exists {
		return nil, model.NewMemberNotFoundError(ownerUsername)
	}

	summaries, err := s.uow.Posts().ListSummariesByOwner(ctx, ownerUsername, viewerID(principal))
	if err != nil {
		return nil, fmt.Errorf("failed to list posts by owner: %w", err)
	}

	slices.SortStableFunc(summaries, func(a, b model.PostSummary) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return s.toViews(ctx, summaries), nil
}

// ListSavedPosts はprincipalが保存した投稿を保存日時の降順で返す。
func (s *Service) ListSavedPosts(ctx context.Context, principal *model.Principal) ([]model.PostView, error) {
	if err := requirePrincipal(principal); err != nil {
		return nil, err
	}

	summaries, err := s.uow.Posts().ListSavedSummaries(ctx, principal.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list saved posts: %w", err)
	}

	slices.SortStableFunc(summaries, func(a, b model.PostSummary) int {
		return savedAt(b).Compare(savedAt(a))
	})
	return s.toViews(ctx, summaries), nil
}

func savedAt(s model.PostSummary) time.Time {
	if s.SavedAt == nil {
		return time.Time{}
	}
	return *s.SavedAt
}

// toViews は投稿の集計結果を表示用モデルに変換する。
func (s *Service) toViews(ctx context.Context, summaries []model.PostSummary) []model.PostView {
	views := make([]model.PostView, 0, len(summaries))
	for _, summary := range summaries {
		views = append(views, s.toView(ctx, summary))
	}
	return views
}

// toView は投稿を表示用モデルに変換する。
// 署名付きURLの生成に失敗した場合は画像URLを空にして一覧の取得は継続する。
func (s *Service) toView(ctx context.Context, summary model.PostSummary) model.PostView {
	img, err := s.objects.PresignReadURL(ctx, summary.ImageKey, s.presignTTL)
	if err != nil {
		slog.Warn("failed to presign post image",
			slog.String("post_id", summary.ID),
			slog.String("error", err.Error()),
		)
		img = ""
	}

	return model.PostView{
		ID:           summary.ID,
		Username:     summary.OwnerID,
		Caption:      summary.Caption,
		Img:          img,
		LikeCount:    summary.LikeCount,
		CommentCount: summary.CommentCount,
		IsLiked:      summary.IsLiked,
		IsSaved:      summary.IsSaved,
		Date:         RelativeTime(summary.CreatedAt, s.now()),
		CreatedAt:    summary.CreatedAt,
	}
}

// deleteObjectBestEffort はオブジェクトを削除し、失敗した場合はログとメトリクスのみ記録する。
func (s *Service) deleteObjectBestEffort(ctx context.Context, key, postID string) {
	if key == "" {
		return
	}
	if err := s.objects.Delete(ctx, key); err != nil {
		s.metrics.RecordStorageDeleteFailure()
		slog.Warn("failed to delete post image, leaving orphan for cleanup",
			slog.String("post_id", postID),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// requirePrincipal は認証済みのPrincipalであることを検証する。
func requirePrincipal(principal *model.Principal) error {
	if principal == nil || principal.ID == "" {
		return model.NewUnauthorizedError()
	}
	return nil
}

// requirePost は投稿が存在することを検証する。
func requirePost(ctx context.Context, tx repository.Store, postID string) error {
	if !isUUID(postID) {
		return model.NewPostNotFoundError(postID)
	}
	post, err := tx.Posts().FindByID(ctx, postID)
	if err != nil {
		return fmt.Errorf("failed to find post: %w", err)
	}
	if post == nil {
		return model.NewPostNotFoundError(postID)
	}
	return nil
}

// isUUID はIDがUUID形式かを返す。UUID列に不正な値を渡すとクエリ自体が失敗する。
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func viewerID(principal *model.Principal) string {
	if principal == nil {
		return ""
	}
	return principal.ID
}
