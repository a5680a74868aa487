// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hitoshi/snapboard/internal/model"
)

var (
	// ErrDuplicate は一意制約違反を表す。
	ErrDuplicate = errors.New("repository: duplicate key")
	// ErrMissingReference は外部キーの参照先が存在しないことを表す。
	ErrMissingReference = errors.New("repository: referenced row does not exist")
)

// MemberRepository はメンバー（認証情報・有効フラグ・ロール）の永続化インターフェース。
type MemberRepository interface {
	// FindByID は指定IDのメンバーをロール付きで取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Member, error)

	// ExistsByID は指定IDのメンバーが存在するかを返す。
	ExistsByID(ctx context.Context, id string) (bool, error)

	// ExistsByEmail は指定メールアドレスのメンバーが存在するかを返す。
	ExistsByEmail(ctx context.Context, email string) (bool, error)

	// Create はメンバーとロールを作成する。
	// ID・メールアドレスが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, member *model.Member) error

	// Update はメンバーのプロフィール、有効フラグ、ロールを更新する。
	// ロールは指定された集合で置き換える。
	Update(ctx context.Context, member *model.Member) error
}

// PostRepository は投稿データの永続化インターフェース。
type PostRepository interface {
	// Create は投稿を作成する。
	Create(ctx context.Context, post *model.Post) error

	// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Post, error)

	// FindByIDForUpdate は指定IDの投稿を行ロック付き（FOR UPDATE）で取得する。
	// トランザクション内でのみ意味を持つ。見つからない場合はnilを返す。
	FindByIDForUpdate(ctx context.Context, id string) (*model.Post, error)

	// UpdateCaption は投稿のキャプションを更新する。
	UpdateCaption(ctx context.Context, id, caption string) error

	// Delete は投稿を削除する。likes、saves、commentsはCASCADE削除される。
	Delete(ctx context.Context, id string) error

	// ListSummaries は全投稿を集計値と閲覧者の状態付きで返す。
	// viewerIDが空文字列の場合、IsLiked・IsSavedは常にfalseとなる。
	ListSummaries(ctx context.Context, viewerID string) ([]model.PostSummary, error)

	// ListSummariesByOwner は指定メンバーの投稿を作成日時の降順で返す。
	ListSummariesByOwner(ctx context.Context, ownerID, viewerID string) ([]model.PostSummary, error)

	// ListSavedSummaries は指定メンバーが保存した投稿を保存日時の降順で返す。
	ListSavedSummaries(ctx context.Context, memberID string) ([]model.PostSummary, error)
}

// CommentRepository はコメントデータの永続化インターフェース。
type CommentRepository interface {
	// Create はコメントを作成する。
	Create(ctx context.Context, comment *model.Comment) error

	// FindByID は指定IDのコメントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Comment, error)

	// Delete はコメントを削除する。返信はCASCADE削除される。
	Delete(ctx context.Context, id string) error

	// ListByPost は投稿の全コメント（返信を含む）を作成日時の昇順で返す。
	ListByPost(ctx context.Context, postID string) ([]model.Comment, error)

	// CountByPost は投稿の全コメント数（返信を含む）を返す。
	CountByPost(ctx context.Context, postID string) (int, error)
}

// RelationRepository は(投稿, メンバー)の組に対する一意な関連（いいね・保存）の
// 永続化インターフェース。UNIQUE(post_id, member_id)制約を前提とする。
type RelationRepository interface {
	// Exists は関連が存在するかを返す。
	Exists(ctx context.Context, postID, memberID string) (bool, error)

	// Create は関連を作成する。一意制約に衝突した場合はエラーにせずfalseを返す。
	// トランザクションを中断させないため、衝突はON CONFLICT DO NOTHINGで検出する。
	Create(ctx context.Context, postID, memberID string) (bool, error)

	// Delete は関連を削除し、削除したかどうかを返す。
	Delete(ctx context.Context, postID, memberID string) (bool, error)

	// CountByPost は投稿に対する関連の件数を返す。
	CountByPost(ctx context.Context, postID string) (int, error)
}

// Store はリポジトリ一式へのアクセスを提供する。
// トランザクション内ではトランザクションに束縛されたリポジトリを返す。
type Store interface {
	Members() MemberRepository
	Posts() PostRepository
	Comments() CommentRepository
	Likes() RelationRepository
	Saves() RelationRepository
}

// Transactor はトランザクション境界を提供する。
// fnがエラーを返した場合はロールバックし、途中までの変更を残さない。
type Transactor interface {
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

// UnitOfWork はStoreとTransactorを兼ねるインターフェース。
type UnitOfWork interface {
	Store
	Transactor
}

// AssetReferenceChecker はオブジェクトキーがいずれかの行から参照されているかを判定する。
// 孤立オブジェクトのクリーンアップジョブで使用する。
type AssetReferenceChecker interface {
	IsAssetReferenced(ctx context.Context, key string) (bool, error)
}

// DBTX は*sql.DBと*sql.Txの共通部分を抽象化するインターフェース。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
