package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/snapboard/internal/model"
)

// PostgresPostRepo はPostgreSQLを使用した投稿リポジトリ。
type PostgresPostRepo struct {
	db DBTX
}

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db DBTX) *PostgresPostRepo {
	return &PostgresPostRepo{db: db}
}

// summaryColumns は投稿一覧で共通に取得する列。$1は閲覧者ID。
const summaryColumns = `
	p.id, p.owner_id, p.caption, p.image_key, p.created_at,
	(SELECT COUNT(*) FROM likes l WHERE l.post_id = p.id) AS like_count,
	(SELECT COUNT(*) FROM comments c WHERE c.post_id = p.id) AS comment_count,
	EXISTS (SELECT 1 FROM likes l WHERE l.post_id = p.id AND l.member_id = $1) AS is_liked,
	EXISTS (SELECT 1 FROM saves s WHERE s.post_id = p.id AND s.member_id = $1) AS is_saved`

// Create は投稿を作成する。
func (r *PostgresPostRepo) Create(ctx context.Context, p *model.Post) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO posts (id, owner_id, caption, image_key, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.OwnerID, p.Caption, p.ImageKey, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert post: %w", translatePQError(err))
	}
	return nil
}

// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
func (r *PostgresPostRepo) FindByID(ctx context.Context, id string) (*model.Post, error) {
	return r.findByID(ctx, `SELECT id, owner_id, caption, image_key, created_at FROM posts WHERE id = $1`, id)
}

// FindByIDForUpdate は指定IDの投稿を行ロック付きで取得する。見つからない場合はnilを返す。
func (r *PostgresPostRepo) FindByIDForUpdate(ctx context.Context, id string) (*model.Post, error) {
	return r.findByID(ctx, `SELECT id, owner_id, caption, image_key, created_at FROM posts WHERE id = $1 FOR UPDATE`, id)
}

func (r *PostgresPostRepo) findByID(ctx context.Context, query, id string) (*model.Post, error) {
	p := &model.Post{}
	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&p.ID, &p.OwnerID, &p.Caption, &p.ImageKey, &p.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find post by ID: %w", err)
	}
	return p, nil
}

// UpdateCaption は投稿のキャプションを更新する。
func (r *PostgresPostRepo) UpdateCaption(ctx context.Context, id, caption string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE posts SET caption = $2 WHERE id = $1`, id, caption)
	if err != nil {
		return fmt.Errorf("failed to update post caption: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("post not found: %s", id)
	}
	return nil
}

// Delete は投稿を削除する。likes、saves、commentsはCASCADE削除される。
func (r *PostgresPostRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM posts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("post not found: %s", id)
	}
	return nil
}

// ListSummaries は全投稿をいいね数の降順、作成日時の降順で返す。
func (r *PostgresPostRepo) ListSummaries(ctx context.Context, viewerID string) ([]model.PostSummary, error) {
	return r.querySummaries(ctx,
		`SELECT `+summaryColumns+`
		 FROM posts p
		 ORDER BY like_count DESC, p.created_at DESC`,
		false, viewerID,
	)
}

// ListSummariesByOwner は指定メンバーの投稿を作成日時の降順で返す。
func (r *PostgresPostRepo) ListSummariesByOwner(ctx context.Context, ownerID, viewerID string) ([]model.PostSummary, error) {
	return r.querySummaries(ctx,
		`SELECT `+summaryColumns+`
		 FROM posts p
		 WHERE p.owner_id = $2
		 ORDER BY p.created_at DESC`,
		false, viewerID, ownerID,
	)
}

// ListSavedSummaries は指定メンバーが保存した投稿を保存日時の降順で返す。
func (r *PostgresPostRepo) ListSavedSummaries(ctx context.Context, memberID string) ([]model.PostSummary, error) {
	return r.querySummaries(ctx,
		`SELECT `+summaryColumns+`, sv.created_at AS saved_at
		 FROM posts p
		 JOIN saves sv ON sv.post_id = p.id AND sv.member_id = $1
		 ORDER BY sv.created_at DESC`,
		true, memberID,
	)
}

func (r *PostgresPostRepo) querySummaries(ctx context.Context, query string, withSavedAt bool, args ...any) ([]model.PostSummary, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	var summaries []model.PostSummary
	for rows.Next() {
		var s model.PostSummary
		dest := []any{
			&s.ID, &s.OwnerID, &s.Caption, &s.ImageKey, &s.CreatedAt,
			&s.LikeCount, &s.CommentCount, &s.IsLiked, &s.IsSaved,
		}
		var savedAt sql.NullTime
		if withSavedAt {
			dest = append(dest, &savedAt)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		if savedAt.Valid {
			t := savedAt.Time
			s.SavedAt = &t
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate posts: %w", err)
	}
	return summaries, nil
}
