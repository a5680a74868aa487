package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/snapboard/internal/model"
)

// PostgresCommentRepo はPostgreSQLを使用したコメントリポジトリ。
type PostgresCommentRepo struct {
	db DBTX
}

// NewPostgresCommentRepo はPostgresCommentRepoを生成する。
func NewPostgresCommentRepo(db DBTX) *PostgresCommentRepo {
	return &PostgresCommentRepo{db: db}
}

// Create はコメントを作成する。
func (r *PostgresCommentRepo) Create(ctx context.Context, c *model.Comment) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO comments (id, post_id, author_id, parent_id, content, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.PostID, c.AuthorID, c.ParentID, c.Content, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert comment: %w", translatePQError(err))
	}
	return nil
}

// FindByID は指定IDのコメントを取得する。見つからない場合はnilを返す。
func (r *PostgresCommentRepo) FindByID(ctx context.Context, id string) (*model.Comment, error) {
	c := &model.Comment{}
	var parentID sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, post_id, author_id, parent_id, content, created_at
		 FROM comments WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.PostID, &c.AuthorID, &parentID, &c.Content, &c.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find comment by ID: %w", err)
	}
	if parentID.Valid {
		c.ParentID = &parentID.String
	}
	return c, nil
}

// Delete はコメントを削除する。返信はCASCADE削除される。
func (r *PostgresCommentRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM comments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete comment: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("comment not found: %s", id)
	}
	return nil
}

// ListByPost は投稿の全コメントを作成日時の昇順で返す。
// ツリーの組み立ては呼び出し側で行う。
func (r *PostgresCommentRepo) ListByPost(ctx context.Context, postID string) ([]model.Comment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, post_id, author_id, parent_id, content, created_at
		 FROM comments
		 WHERE post_id = $1
		 ORDER BY created_at ASC, id ASC`,
		postID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	var comments []model.Comment
	for rows.Next() {
		var c model.Comment
		var parentID sql.NullString
		if err := rows.Scan(&c.ID, &c.PostID, &c.AuthorID, &parentID, &c.Content, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		if parentID.Valid {
			p := parentID.String
			c.ParentID = &p
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate comments: %w", err)
	}
	return comments, nil
}

// CountByPost は投稿の全コメント数（返信を含む）を返す。
func (r *PostgresCommentRepo) CountByPost(ctx context.Context, postID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM comments WHERE post_id = $1`,
		postID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count comments: %w", err)
	}
	return count, nil
}
