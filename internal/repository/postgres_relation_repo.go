package repository

import (
	"context"
	"fmt"
)

// PostgresRelationRepo はlikes・savesテーブルに共通する(post_id, member_id)関連のリポジトリ。
// テーブル名は生成時に固定され、外部入力から組み立てられることはない。
type PostgresRelationRepo struct {
	db    DBTX
	table string
}

// NewPostgresLikeRepo はlikesテーブルを対象とするリポジトリを生成する。
func NewPostgresLikeRepo(db DBTX) *PostgresRelationRepo {
	return &PostgresRelationRepo{db: db, table: "likes"}
}

// NewPostgresSaveRepo はsavesテーブルを対象とするリポジトリを生成する。
func NewPostgresSaveRepo(db DBTX) *PostgresRelationRepo {
	return &PostgresRelationRepo{db: db, table: "saves"}
}

// Exists は関連が存在するかを返す。
func (r *PostgresRelationRepo) Exists(ctx context.Context, postID, memberID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+r.table+` WHERE post_id = $1 AND member_id = $2)`,
		postID, memberID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check %s existence: %w", r.table, err)
	}
	return exists, nil
}

// Create は関連を作成する。既に存在する場合はfalseを返す。
func (r *PostgresRelationRepo) Create(ctx context.Context, postID, memberID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO `+r.table+` (post_id, member_id, created_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (post_id, member_id) DO NOTHING`,
		postID, memberID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert %s: %w", r.table, translatePQError(err))
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// Delete は関連を削除し、削除したかどうかを返す。
func (r *PostgresRelationRepo) Delete(ctx context.Context, postID, memberID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM `+r.table+` WHERE post_id = $1 AND member_id = $2`,
		postID, memberID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s: %w", r.table, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// CountByPost は投稿に対する関連の件数を返す。
func (r *PostgresRelationRepo) CountByPost(ctx context.Context, postID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM `+r.table+` WHERE post_id = $1`,
		postID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", r.table, err)
	}
	return count, nil
}
