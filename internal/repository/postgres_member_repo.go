package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/snapboard/internal/model"
)

// PostgresMemberRepo はPostgreSQLを使用したメンバーリポジトリ。
type PostgresMemberRepo struct {
	db DBTX
}

// NewPostgresMemberRepo はPostgresMemberRepoを生成する。
func NewPostgresMemberRepo(db DBTX) *PostgresMemberRepo {
	return &PostgresMemberRepo{db: db}
}

// FindByID は指定IDのメンバーをロール付きで取得する。見つからない場合はnilを返す。
func (r *PostgresMemberRepo) FindByID(ctx context.Context, id string) (*model.Member, error) {
	m := &model.Member{}
	var imageKey sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, password_hash, enabled, email, first_name, last_name, image_key, created_at
		 FROM members WHERE id = $1`,
		id,
	).Scan(&m.ID, &m.PasswordHash, &m.Enabled, &m.Email, &m.FirstName, &m.LastName, &imageKey, &m.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find member by ID: %w", err)
	}
	m.ImageKey = imageKey.String

	roles, err := r.findRoles(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	m.Roles = roles

	return m, nil
}

func (r *PostgresMemberRepo) findRoles(ctx context.Context, memberID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT role FROM member_roles WHERE member_id = $1 ORDER BY role`,
		memberID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find member roles: %w", err)
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("failed to scan member role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate member roles: %w", err)
	}
	return roles, nil
}

// ExistsByID は指定IDのメンバーが存在するかを返す。
func (r *PostgresMemberRepo) ExistsByID(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM members WHERE id = $1)`,
		id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check member existence: %w", err)
	}
	return exists, nil
}

// ExistsByEmail は指定メールアドレスのメンバーが存在するかを返す。
func (r *PostgresMemberRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM members WHERE email = $1)`,
		email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check email existence: %w", err)
	}
	return exists, nil
}

// Create はメンバーとロールを作成する。
// 複数の文を発行するため、呼び出し側はWithinTx内で使用すること。
func (r *PostgresMemberRepo) Create(ctx context.Context, m *model.Member) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO members (id, password_hash, enabled, email, first_name, last_name, image_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.PasswordHash, m.Enabled, m.Email, m.FirstName, m.LastName, nullString(m.ImageKey), m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert member: %w", translatePQError(err))
	}

	return r.insertRoles(ctx, m.ID, m.Roles)
}

// Update はメンバーのプロフィール、有効フラグ、ロールを更新する。
// 複数の文を発行するため、呼び出し側はWithinTx内で使用すること。
func (r *PostgresMemberRepo) Update(ctx context.Context, m *model.Member) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE members
		 SET password_hash = $2, enabled = $3, email = $4, first_name = $5, last_name = $6, image_key = $7
		 WHERE id = $1`,
		m.ID, m.PasswordHash, m.Enabled, m.Email, m.FirstName, m.LastName, nullString(m.ImageKey),
	)
	if err != nil {
		return fmt.Errorf("failed to update member: %w", translatePQError(err))
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("member not found: %s", m.ID)
	}

	if _, err := r.db.ExecContext(ctx, `DELETE FROM member_roles WHERE member_id = $1`, m.ID); err != nil {
		return fmt.Errorf("failed to clear member roles: %w", err)
	}
	return r.insertRoles(ctx, m.ID, m.Roles)
}

func (r *PostgresMemberRepo) insertRoles(ctx context.Context, memberID string, roles []string) error {
	for _, role := range roles {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO member_roles (member_id, role) VALUES ($1, $2)
			 ON CONFLICT (member_id, role) DO NOTHING`,
			memberID, role,
		)
		if err != nil {
			return fmt.Errorf("failed to insert member role: %w", err)
		}
	}
	return nil
}

// nullString は空文字列をNULLとして扱う。
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
