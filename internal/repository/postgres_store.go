package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgreSQLのエラーコード
// https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// postgresRepos はDBTXに束縛されたリポジトリ一式。
type postgresRepos struct {
	members  *PostgresMemberRepo
	posts    *PostgresPostRepo
	comments *PostgresCommentRepo
	likes    *PostgresRelationRepo
	saves    *PostgresRelationRepo
}

func newPostgresRepos(q DBTX) postgresRepos {
	return postgresRepos{
		members:  NewPostgresMemberRepo(q),
		posts:    NewPostgresPostRepo(q),
		comments: NewPostgresCommentRepo(q),
		likes:    NewPostgresLikeRepo(q),
		saves:    NewPostgresSaveRepo(q),
	}
}

func (r postgresRepos) Members() MemberRepository   { return r.members }
func (r postgresRepos) Posts() PostRepository       { return r.posts }
func (r postgresRepos) Comments() CommentRepository { return r.comments }
func (r postgresRepos) Likes() RelationRepository   { return r.likes }
func (r postgresRepos) Saves() RelationRepository   { return r.saves }

// PostgresStore はPostgreSQLを使用したUnitOfWorkの実装。
type PostgresStore struct {
	postgresRepos
	db *sql.DB
}

// NewPostgresStore はPostgresStoreを生成する。
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		postgresRepos: newPostgresRepos(db),
		db:            db,
	}
}

// WithinTx はトランザクションを開始し、トランザクションに束縛されたStoreでfnを実行する。
// fnがエラーを返した場合、またはpanicした場合はロールバックする。
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(newPostgresRepos(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// IsAssetReferenced はオブジェクトキーが投稿またはメンバーのプロフィール画像として参照されているかを返す。
func (s *PostgresStore) IsAssetReferenced(ctx context.Context, key string) (bool, error) {
	var referenced bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM posts WHERE image_key = $1)
		     OR EXISTS (SELECT 1 FROM members WHERE image_key = $1)`,
		key,
	).Scan(&referenced)
	if err != nil {
		return false, fmt.Errorf("failed to check asset reference: %w", err)
	}
	return referenced, nil
}

// translatePQError はlib/pqのエラーを制約違反の種類に応じたセンチネルエラーに変換する。
func translatePQError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case pqUniqueViolation:
		return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Constraint)
	case pqForeignKeyViolation:
		return fmt.Errorf("%w: %s", ErrMissingReference, pqErr.Constraint)
	}
	return err
}

// compile-time interface check
var (
	_ UnitOfWork            = (*PostgresStore)(nil)
	_ AssetReferenceChecker = (*PostgresStore)(nil)
)
